// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type RoomName string
type EntryID string
type ParticipantID string
type NoticeID string

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

func NewNoticeID() NoticeID {
	return NoticeID(uuid.New().String())
}
