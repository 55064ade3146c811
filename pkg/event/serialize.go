// Package event はストリーム経由で受信するイベントのペイロード定義と
// デシリアライズ処理を提供する。
package event

import (
	"encoding/json"
	"fmt"
)

// Decode はストリームレコードのpayloadフィールドを指定された型にデシリアライズする。
func Decode[T any](payload []byte) (*T, error) {
	var data T
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
