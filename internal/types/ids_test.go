// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewEntryID(t *testing.T) {
	id := NewEntryID()
	if id == "" {
		t.Error("expected non-empty EntryID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewEntryID() == id {
		t.Error("expected distinct entry IDs")
	}
}

func TestNewNoticeID(t *testing.T) {
	if a, b := NewNoticeID(), NewNoticeID(); a == "" || a == b {
		t.Errorf("expected distinct non-empty notice IDs, got %q and %q", a, b)
	}
}
