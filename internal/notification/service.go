package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound は指定された通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他ユーザーの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrInvalidPage はページ番号またはページサイズが不正であることを表す。
	ErrInvalidPage = errors.New("ページ番号とページサイズは1以上を指定してください")
)

// RealtimePublisher は通知のリアルタイム配信を行う。
// 配信失敗は呼び出し側でログに記録するのみで、処理を失敗させてはならない。
type RealtimePublisher interface {
	// Push は指定ユーザーの接続に通知を配信する。
	Push(userID string, payload any) error
}

// Service は通知のライフサイクル（作成・既読遷移・取得）のルールを実装する。
// 状態を変更する操作は必ず保存済みの最新の行を読み直してから更新する。
type Service struct {
	// store は通知の永続化層。
	store *Store
	// realtime はリアルタイム配信のパブリッシャー。
	realtime RealtimePublisher
}

// NewService は新しい通知サービスを生成する。
func NewService(store *Store, realtime RealtimePublisher) *Service {
	return &Service{store: store, realtime: realtime}
}

// DTO は通知のJSON表現。REST APIレスポンスとWebSocket配信の両方で使用する。
type DTO struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"userId"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Type は通知の種類。
	Type Type `json:"type"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"isRead"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"createdAt"`
	// ReadAt は既読にした日時（RFC3339形式）。未読の場合はnull。
	ReadAt *string `json:"readAt"`
	// ImageURL は通知に添付する画像のURL。
	ImageURL string `json:"imageUrl,omitempty"`
}

// PageResponse は通知一覧のページネーション付きレスポンス。
type PageResponse struct {
	// Content は現在のページに含まれる通知。
	Content []DTO `json:"content"`
	// TotalElements は全通知の総数。
	TotalElements int64 `json:"totalElements"`
	// TotalPages は総ページ数。
	TotalPages int `json:"totalPages"`
	// CurrentPage は現在のページ番号（1始まり）。
	CurrentPage int `json:"currentPage"`
	// PageSize は1ページあたりの件数。
	PageSize int `json:"pageSize"`
	// HasNext は次のページが存在するかどうか。
	HasNext bool `json:"hasNext"`
	// HasPrevious は前のページが存在するかどうか。
	HasPrevious bool `json:"hasPrevious"`
}

// ToDTO は通知エンティティをJSON表現に変換する。
func ToDTO(n *Notification) DTO {
	dto := DTO{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		ImageURL:  n.ImageURL,
	}
	if n.ReadAt != nil {
		readAt := n.ReadAt.Format(time.RFC3339)
		dto.ReadAt = &readAt
	}
	return dto
}

// CreateAndSend は通知を未読状態で作成・保存し、リアルタイム配信を試みる。
// 保存の失敗は呼び出し元に返すが、配信の失敗はログに記録するだけで成功扱いとする。
// 通知一覧に表示されることが永続的な保証であり、リアルタイム配信はベストエフォート。
func (s *Service) CreateAndSend(ctx context.Context, userID, title, message string, typ Type, imageURL string) (*Notification, error) {
	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		IsRead:    false,
		CreatedAt: time.Now().UTC(),
		ImageURL:  imageURL,
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("通知の作成に失敗: %w", err)
	}

	if err := s.realtime.Push(userID, ToDTO(n)); err != nil {
		log.Printf("リアルタイム配信に失敗 user=%s notification=%s: %v", userID, n.ID, err)
	}

	return n, nil
}

// MarkAsRead は通知を既読にする。
// 通知が存在しない場合はErrNotFound、所有者が異なる場合はErrForbiddenを返す。
// 既に既読の場合は何も更新せず現在の状態を返す（冪等）。
func (s *Service) MarkAsRead(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}

	if n.UserID != userID {
		return nil, ErrForbidden
	}

	if n.IsRead {
		return n, nil
	}

	if err := s.store.MarkRead(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}

	// 同一IDへの並行したMarkAsReadと競合してもis_read=0ガードにより
	// read_atは最初の書き込みだけが有効になる。更新後の行を読み直して返す。
	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("更新後の通知の取得に失敗: %w", err)
	}
	return updated, nil
}

// MarkAllAsRead は指定ユーザーの全未読通知を一括既読にし、更新件数を返す。
// バッチ全体で同一のread_atタイムスタンプを使用する。未読0件の場合は0を返す。
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, time.Now().UTC())
}

// List は指定ユーザーの通知を作成日時の降順でページネーション付きで返す。
// pageは1始まり。pageまたはsizeが0以下の場合はErrInvalidPageを返す。
func (s *Service) List(ctx context.Context, userID string, page, size int) (*PageResponse, error) {
	if page <= 0 || size <= 0 {
		return nil, ErrInvalidPage
	}

	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * size
	notifications, err := s.store.ListByUserPage(ctx, userID, size, offset)
	if err != nil {
		return nil, err
	}

	content := make([]DTO, 0, len(notifications))
	for i := range notifications {
		content = append(content, ToDTO(&notifications[i]))
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &PageResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    totalPages,
		CurrentPage:   page,
		PageSize:      size,
		HasNext:       page < totalPages,
		HasPrevious:   page > 1,
	}, nil
}

// UnreadCount は指定ユーザーの未読通知の件数を返す。副作用はない。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}
