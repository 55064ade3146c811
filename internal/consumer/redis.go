package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField はレコード内でイベント本文を保持するフィールドのキー。
// それ以外のフィールド（timestamp等）が含まれていても無視する。
const payloadField = "payload"

// RedisStreams はRedis StreamsベースのStreamClient実装。
type RedisStreams struct {
	// client はgo-redisのクライアント。
	client *redis.Client
	// readCount は1回の読み取りで取得する最大レコード数。
	readCount int64
	// blockTimeout はレコード到着を待つブロッキング時間。
	blockTimeout time.Duration
}

// NewRedisStreams は新しいRedisStreamsを生成する。
func NewRedisStreams(client *redis.Client) *RedisStreams {
	return &RedisStreams{
		client:       client,
		readCount:    10,
		blockTimeout: 5 * time.Second,
	}
}

// EnsureGroup はストリームにコンシューマグループを作成する。
// ストリームが存在しない場合はMKSTREAMで同時に作成し、新規レコードのみ
// 読み取る位置（$）から開始する。グループが既に存在する場合は成功とする。
func (r *RedisStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("コンシューマグループの作成に失敗: %w", err)
	}
	return nil
}

// Read はグループ未配信の新規レコード（>）をブロッキング読み取りする。
// ブロッキング時間内にレコードが到着しなかった場合は空スライスを返す。
func (r *RedisStreams) Read(ctx context.Context, stream, group, consumerName string) ([]Envelope, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerName,
		Streams:  []string{stream, ">"},
		Count:    r.readCount,
		Block:    r.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("ストリームの読み取りに失敗: %w", err)
	}

	var envelopes []Envelope
	for _, s := range res {
		for _, m := range s.Messages {
			payload, _ := m.Values[payloadField].(string)
			envelopes = append(envelopes, Envelope{
				Stream:  s.Stream,
				ID:      m.ID,
				Payload: []byte(payload),
			})
		}
	}
	return envelopes, nil
}

// Ack はレコードを処理済みとしてグループに通知する。
func (r *RedisStreams) Ack(ctx context.Context, stream, group, recordID string) error {
	if err := r.client.XAck(ctx, stream, group, recordID).Err(); err != nil {
		return fmt.Errorf("レコードのACKに失敗: %w", err)
	}
	return nil
}

// isBusyGroup はグループが既に存在することを表すエラーかどうかを判定する。
func isBusyGroup(err error) bool {
	return strings.Contains(err.Error(), "BUSYGROUP")
}
