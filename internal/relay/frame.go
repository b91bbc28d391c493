// Package relay is a WebSocket data-message relay. Participants join a
// room over one connection each; every data frame a participant sends is
// fanned out to everyone else in the room.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/aegis/internal/types"
)

type FrameKind string

const (
	KindData   FrameKind = "data"
	KindRoster FrameKind = "roster"
)

// Frame is the unit exchanged on a relay connection. Payload is opaque to
// the relay and travels base64-encoded so arbitrary bytes survive the
// JSON framing.
type Frame struct {
	Kind         FrameKind           `json:"kind"`
	From         types.ParticipantID `json:"from,omitempty"`
	Topic        string              `json:"topic,omitempty"`
	Payload      []byte              `json:"payload,omitempty"`
	Participants []types.Participant `json:"participants,omitempty"`
}

func (f Frame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	switch f.Kind {
	case KindData, KindRoster:
		return f, nil
	}
	return Frame{}, fmt.Errorf("parse frame: unknown kind %q", f.Kind)
}

// ParseTracks turns "camera,microphone" into advertised track metadata.
func ParseTracks(s string) []types.TrackInfo {
	var tracks []types.TrackInfo
	for _, src := range strings.Split(s, ",") {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		tracks = append(tracks, types.TrackInfo{Source: src, Subscribed: true})
	}
	return tracks
}

func newParticipant(id types.ParticipantID, kind string, tracks []types.TrackInfo) types.Participant {
	return types.Participant{
		Identity: id,
		Kind:     kind,
		Tracks:   tracks,
		JoinedAt: time.Now().UTC(),
	}
}
