package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub はユーザーごとのWebSocket接続を管理し、通知をリアルタイム配信する。
// 1ユーザーが複数タブ・複数端末から接続している場合は全接続に配信する。
type Hub struct {
	// mu は接続マップと書き込みを保護する。
	mu sync.Mutex
	// conns はユーザーIDごとの接続の集合。
	conns map[string]map[*websocket.Conn]struct{}
}

// NewHub は新しいHubを生成する。
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Register はユーザーの接続を登録する。
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
	log.Printf("WebSocket接続を登録 user=%s 接続数=%d", userID, len(h.conns[userID]))
}

// Unregister はユーザーの接続を解除する。登録されていない接続に対しては何もしない。
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(userID, conn)
}

// removeLocked は接続を削除する。muを保持した状態で呼ぶこと。
func (h *Hub) removeLocked(userID string, conn *websocket.Conn) {
	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// Push は指定ユーザーの全接続にペイロードをJSONで配信する。
// 接続が存在しない場合は何もせず成功する。書き込みに失敗した接続は
// 切断済みとみなして登録から外す。エラーは呼び出し側がログに記録する
// ためのもので、再送は行わない。
func (h *Hub) Push(userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("配信ペイロードのシリアライズに失敗: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for conn := range h.conns[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.removeLocked(userID, conn)
			_ = conn.Close()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectionCount は指定ユーザーの現在の接続数を返す。
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}
