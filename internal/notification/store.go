package notification

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/EvoTicket/Notification-Service/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// Type は通知の種類を表す。
type Type string

const (
	// TypeWelcome は新規登録時のウェルカム通知を表す。
	TypeWelcome Type = "WELCOME"
	// TypeOtp はOTP送信に関連する通知を表す。
	TypeOtp Type = "OTP"
)

// Notification は永続化される通知エンティティ。
// ReadAtがnilでないこととIsReadがtrueであることは常に一致する。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// UserID は通知先のユーザーID。
	UserID string
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// Type は通知の種類。
	Type Type
	// IsRead は通知の既読状態。
	IsRead bool
	// CreatedAt は通知の作成日時。作成後は変更されない。
	CreatedAt time.Time
	// ReadAt は既読にした日時。一度設定されたら上書きされない。
	ReadAt *time.Time
	// ImageURL は通知に添付する画像のURL。
	ImageURL string
}

// Store は通知エンティティの永続化を担当する。
// *sql.DBは全ゴルーチンから安全に共有できるため、Store自体も共有可能。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しいStoreを生成し、マイグレーションを適用する。
func NewStore(db *sql.DB) (*Store, error) {
	if err := migration.Run(db, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("通知テーブルのマイグレーションに失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Create は通知を新規保存する。
func (s *Store) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, is_read, created_at, read_at, image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type),
		boolToInt(n.IsRead), n.CreatedAt, nullableTime(n.ReadAt), n.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// GetByID は通知をIDで取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetByID(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message, type, is_read, created_at, read_at, image_url
		FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// ListByUserPage は指定ユーザーの通知を作成日時の降順で1ページ分取得する。
func (s *Store) ListByUserPage(ctx context.Context, userID string, limit, offset int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, type, is_read, created_at, read_at, image_url
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// CountByUser は指定ユーザーの通知の総数を返す。
func (s *Store) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}
	return count, nil
}

// CountUnread は指定ユーザーの未読通知の件数を返す。
func (s *Store) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}

// MarkRead は通知を既読にする。未読の行のみ更新するため、
// 既読済みの通知に対して呼んでもread_atは上書きされない。
func (s *Store) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0",
		readAt, id)
	if err != nil {
		return fmt.Errorf("通知の既読更新に失敗: %w", err)
	}
	return nil
}

// MarkAllRead は指定ユーザーの全未読通知を同一タイムスタンプで一括既読にする。
// 更新した件数を返す。未読が0件の場合は0を返す。
func (s *Store) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0",
		readAt, userID)
	if err != nil {
		return 0, fmt.Errorf("通知の一括既読更新に失敗: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return count, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotification は1行を通知エンティティに変換する。
func scanNotification(row rowScanner) (*Notification, error) {
	var (
		n      Notification
		typ    string
		isRead int64
		readAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &isRead, &n.CreatedAt, &readAt, &n.ImageURL); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	n.IsRead = isRead != 0
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

// boolToInt はSQLiteのINTEGER型booleanへの変換を行う。
func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullableTime は*time.TimeをNULL許容のDB値に変換する。
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
