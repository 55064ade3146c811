package consumer

import (
	"errors"
	"testing"
)

// TestIsBusyGroup はグループ重複エラーの判定を検証する。
func TestIsBusyGroup(t *testing.T) {
	t.Parallel()

	t.Run("BUSYGROUPエラーは既存グループとして扱われること", func(t *testing.T) {
		t.Parallel()

		err := errors.New("BUSYGROUP Consumer Group name already exists")
		if !isBusyGroup(err) {
			t.Error("isBusyGroup() = false, want true")
		}
	})

	t.Run("それ以外のエラーは既存グループとして扱われないこと", func(t *testing.T) {
		t.Parallel()

		err := errors.New("ERR no such key")
		if isBusyGroup(err) {
			t.Error("isBusyGroup() = true, want false")
		}
	})
}
