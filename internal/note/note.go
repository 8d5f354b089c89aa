// Package note defines the persisted document model shared by every
// storage replica.
package note

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Note is the persisted unit. The JSON shape is the wire format stored
// at every replica, so field tags are load-bearing.
type Note struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, non-decreasing
	LastSaved string `json:"lastSaved"` // RFC3339, set at write time
}

// New creates a note with a fresh identifier. The identifier is generated
// exactly once per logical document; every later update goes through Touch.
func New(content string) *Note {
	return &Note{
		ID:        uuid.New().String(),
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Touch returns a copy with updated content and a bumped timestamp,
// preserving the identifier. The timestamp never moves backwards even if
// the wall clock does.
func (n *Note) Touch(content string) *Note {
	ts := time.Now().UnixMilli()
	if ts <= n.Timestamp {
		ts = n.Timestamp + 1
	}
	return &Note{
		ID:        n.ID,
		Content:   content,
		Timestamp: ts,
	}
}

// MarkSaved stamps the wall-clock save time. Called by the save protocol
// immediately before the write fan-out so all replicas store the same value.
func (n *Note) MarkSaved(at time.Time) {
	n.LastSaved = at.UTC().Format(time.RFC3339)
}

// Size returns the encoded byte length used for capacity routing.
func (n *Note) Size() int {
	b, err := json.Marshal(n)
	if err != nil {
		// Note contains only strings and an int64; Marshal cannot fail.
		return 0
	}
	return len(b)
}

// Marshal encodes the note in its wire shape.
func (n *Note) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Unmarshal decodes a stored note.
func Unmarshal(data []byte) (*Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
