package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// recordingPublisher はテスト用のRealtimePublisher実装。配信内容を記録する。
type recordingPublisher struct {
	pushed  []pushedPayload
	pushErr error
}

type pushedPayload struct {
	userID  string
	payload any
}

func (p *recordingPublisher) Push(userID string, payload any) error {
	if p.pushErr != nil {
		return p.pushErr
	}
	p.pushed = append(p.pushed, pushedPayload{userID: userID, payload: payload})
	return nil
}

// newTestService はインメモリSQLiteを使ったテスト用のServiceを生成する。
func newTestService(t *testing.T) (*Service, *Store, *recordingPublisher) {
	t.Helper()

	store := newTestStore(t)
	publisher := &recordingPublisher{}
	return NewService(store, publisher), store, publisher
}

// TestServiceCreateAndSend は通知の作成とリアルタイム配信を検証する。
func TestServiceCreateAndSend(t *testing.T) {
	t.Parallel()

	t.Run("未読状態で保存されリアルタイム配信されること", func(t *testing.T) {
		t.Parallel()

		service, store, publisher := newTestService(t)

		n, err := service.CreateAndSend(context.Background(), "user-1", "タイトル", "メッセージ", TypeWelcome, "")
		if err != nil {
			t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
		}
		if n.IsRead {
			t.Error("作成直後の通知が既読になっている")
		}
		if n.ReadAt != nil {
			t.Errorf("ReadAt = %v, want nil", n.ReadAt)
		}

		saved, err := store.GetByID(context.Background(), n.ID)
		if err != nil {
			t.Fatalf("保存された通知の取得に失敗: %v", err)
		}
		if saved.UserID != "user-1" {
			t.Errorf("UserID = %q, want %q", saved.UserID, "user-1")
		}

		if len(publisher.pushed) != 1 {
			t.Fatalf("配信件数 = %d, want 1", len(publisher.pushed))
		}
		if publisher.pushed[0].userID != "user-1" {
			t.Errorf("配信先 = %q, want %q", publisher.pushed[0].userID, "user-1")
		}
		dto, ok := publisher.pushed[0].payload.(DTO)
		if !ok {
			t.Fatalf("配信ペイロードの型 = %T, want DTO", publisher.pushed[0].payload)
		}
		if dto.ID != n.ID {
			t.Errorf("配信されたID = %q, want %q", dto.ID, n.ID)
		}
	})

	t.Run("リアルタイム配信の失敗は吸収され通知は保存されること", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		publisher := &recordingPublisher{pushErr: errors.New("接続が切れています")}
		service := NewService(store, publisher)

		n, err := service.CreateAndSend(context.Background(), "user-1", "タイトル", "メッセージ", TypeWelcome, "")
		if err != nil {
			t.Fatalf("配信失敗時にCreateAndSend()がエラーを返した: %v", err)
		}

		if _, err := store.GetByID(context.Background(), n.ID); err != nil {
			t.Errorf("配信失敗時に通知が保存されていない: %v", err)
		}
	})
}

// TestServiceMarkAsRead は既読遷移のルールを検証する。
func TestServiceMarkAsRead(t *testing.T) {
	t.Parallel()

	t.Run("未読の通知を既読にできること", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)
		ctx := context.Background()
		n, err := service.CreateAndSend(ctx, "user-1", "タイトル", "メッセージ", TypeWelcome, "")
		if err != nil {
			t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
		}

		updated, err := service.MarkAsRead(ctx, n.ID, "user-1")
		if err != nil {
			t.Fatalf("MarkAsRead()でエラーが発生: %v", err)
		}
		if !updated.IsRead {
			t.Error("IsRead = false, want true")
		}
		if updated.ReadAt == nil {
			t.Error("ReadAt = nil, want 非nil")
		}
	})

	t.Run("既読済みの通知への再実行は冪等であること", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)
		ctx := context.Background()
		n, err := service.CreateAndSend(ctx, "user-1", "タイトル", "メッセージ", TypeWelcome, "")
		if err != nil {
			t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
		}

		first, err := service.MarkAsRead(ctx, n.ID, "user-1")
		if err != nil {
			t.Fatalf("1回目のMarkAsRead()でエラーが発生: %v", err)
		}
		second, err := service.MarkAsRead(ctx, n.ID, "user-1")
		if err != nil {
			t.Fatalf("2回目のMarkAsRead()でエラーが発生: %v", err)
		}

		if first.ReadAt == nil || second.ReadAt == nil {
			t.Fatal("ReadAtが設定されていない")
		}
		if !second.ReadAt.Equal(*first.ReadAt) {
			t.Errorf("2回目のReadAt = %v, want 1回目と同じ %v", second.ReadAt, first.ReadAt)
		}
	})

	t.Run("存在しない通知でErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)

		_, err := service.MarkAsRead(context.Background(), "missing", "user-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("他ユーザーの通知でErrForbiddenが返り状態は変更されないこと", func(t *testing.T) {
		t.Parallel()

		service, store, _ := newTestService(t)
		ctx := context.Background()
		n, err := service.CreateAndSend(ctx, "owner", "タイトル", "メッセージ", TypeWelcome, "")
		if err != nil {
			t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
		}

		_, err = service.MarkAsRead(ctx, n.ID, "attacker")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}

		saved, err := store.GetByID(ctx, n.ID)
		if err != nil {
			t.Fatalf("GetByID()でエラーが発生: %v", err)
		}
		if saved.IsRead {
			t.Error("権限のない操作で通知が既読になった")
		}
	})
}

// TestServiceMarkAllAsRead は一括既読を検証する。
func TestServiceMarkAllAsRead(t *testing.T) {
	t.Parallel()

	t.Run("全未読通知が同一タイムスタンプで既読になること", func(t *testing.T) {
		t.Parallel()

		service, store, _ := newTestService(t)
		ctx := context.Background()

		var ids []string
		for i := 0; i < 3; i++ {
			n, err := service.CreateAndSend(ctx, "user-1", "タイトル", "メッセージ", TypeWelcome, "")
			if err != nil {
				t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
			}
			ids = append(ids, n.ID)
		}

		count, err := service.MarkAllAsRead(ctx, "user-1")
		if err != nil {
			t.Fatalf("MarkAllAsRead()でエラーが発生: %v", err)
		}
		if count != 3 {
			t.Errorf("更新件数 = %d, want 3", count)
		}

		var firstReadAt *time.Time
		for _, id := range ids {
			n, err := store.GetByID(ctx, id)
			if err != nil {
				t.Fatalf("GetByID()でエラーが発生: %v", err)
			}
			if !n.IsRead || n.ReadAt == nil {
				t.Fatalf("通知 %q が既読になっていない", id)
			}
			if firstReadAt == nil {
				firstReadAt = n.ReadAt
			} else if !n.ReadAt.Equal(*firstReadAt) {
				t.Errorf("ReadAt = %v, want バッチ共通の %v", n.ReadAt, firstReadAt)
			}
		}
	})

	t.Run("未読が0件の場合は0が返ること", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)

		count, err := service.MarkAllAsRead(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("MarkAllAsRead()でエラーが発生: %v", err)
		}
		if count != 0 {
			t.Errorf("更新件数 = %d, want 0", count)
		}
	})
}

// TestServiceList はページネーションのメタデータを検証する。
func TestServiceList(t *testing.T) {
	t.Parallel()

	// seedMany はuser-1宛の通知をcount件作成する。
	seedMany := func(t *testing.T, store *Store, count int) {
		t.Helper()
		base := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
		for i := 0; i < count; i++ {
			seedNotification(t, store, fmt.Sprintf("n-%02d", i), "user-1", base.Add(time.Duration(i)*time.Minute))
		}
	}

	t.Run("15件をサイズ10で取得すると1ページ目は10件でhasNextがtrueになること", func(t *testing.T) {
		t.Parallel()

		service, store, _ := newTestService(t)
		seedMany(t, store, 15)

		got, err := service.List(context.Background(), "user-1", 1, 10)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}

		if len(got.Content) != 10 {
			t.Errorf("Content件数 = %d, want 10", len(got.Content))
		}
		if got.TotalElements != 15 {
			t.Errorf("TotalElements = %d, want 15", got.TotalElements)
		}
		if got.TotalPages != 2 {
			t.Errorf("TotalPages = %d, want 2", got.TotalPages)
		}
		if got.CurrentPage != 1 {
			t.Errorf("CurrentPage = %d, want 1", got.CurrentPage)
		}
		if !got.HasNext {
			t.Error("HasNext = false, want true")
		}
		if got.HasPrevious {
			t.Error("HasPrevious = true, want false")
		}
	})

	t.Run("2ページ目は残りの5件でhasPreviousがtrueになること", func(t *testing.T) {
		t.Parallel()

		service, store, _ := newTestService(t)
		seedMany(t, store, 15)

		got, err := service.List(context.Background(), "user-1", 2, 10)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}

		if len(got.Content) != 5 {
			t.Errorf("Content件数 = %d, want 5", len(got.Content))
		}
		if got.HasNext {
			t.Error("HasNext = true, want false")
		}
		if !got.HasPrevious {
			t.Error("HasPrevious = false, want true")
		}
	})

	t.Run("総数を超えるページは空のContentが返ること", func(t *testing.T) {
		t.Parallel()

		service, store, _ := newTestService(t)
		seedMany(t, store, 3)

		got, err := service.List(context.Background(), "user-1", 5, 10)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(got.Content) != 0 {
			t.Errorf("Content件数 = %d, want 0", len(got.Content))
		}
		if got.HasNext {
			t.Error("HasNext = true, want false")
		}
	})

	t.Run("ページ番号が0以下でErrInvalidPageが返ること", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)

		if _, err := service.List(context.Background(), "user-1", 0, 10); !errors.Is(err, ErrInvalidPage) {
			t.Errorf("page=0: err = %v, want ErrInvalidPage", err)
		}
		if _, err := service.List(context.Background(), "user-1", 1, 0); !errors.Is(err, ErrInvalidPage) {
			t.Errorf("size=0: err = %v, want ErrInvalidPage", err)
		}
		if _, err := service.List(context.Background(), "user-1", -1, 10); !errors.Is(err, ErrInvalidPage) {
			t.Errorf("page=-1: err = %v, want ErrInvalidPage", err)
		}
	})
}

// TestServiceUnreadCount は未読件数の取得を検証する。
func TestServiceUnreadCount(t *testing.T) {
	t.Parallel()

	t.Run("未読件数が返り副作用がないこと", func(t *testing.T) {
		t.Parallel()

		service, _, _ := newTestService(t)
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			if _, err := service.CreateAndSend(ctx, "user-1", "タイトル", "メッセージ", TypeWelcome, ""); err != nil {
				t.Fatalf("CreateAndSend()でエラーが発生: %v", err)
			}
		}

		count, err := service.UnreadCount(ctx, "user-1")
		if err != nil {
			t.Fatalf("UnreadCount()でエラーが発生: %v", err)
		}
		if count != 2 {
			t.Errorf("未読件数 = %d, want 2", count)
		}

		// 2回呼んでも件数は変わらない
		again, err := service.UnreadCount(ctx, "user-1")
		if err != nil {
			t.Fatalf("2回目のUnreadCount()でエラーが発生: %v", err)
		}
		if again != 2 {
			t.Errorf("2回目の未読件数 = %d, want 2", again)
		}
	})
}
