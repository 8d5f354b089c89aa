// Package replica defines the uniform interface over the redundant
// storage locations and its concrete backends: a NATS JetStream KV
// bucket (synchronized, cross-device), and a SQLite database holding the
// local and backup copies under distinct keys.
package replica

import (
	"context"
	"errors"

	"github.com/roundrop/new-tab-text/internal/note"
)

// ErrNoRecord reports that a replica holds no stored value. Absence is a
// normal outcome, not a failure.
var ErrNoRecord = errors.New("no record stored")

// Replica is one physical storage location. Implementations convert
// backend failures to returned errors; nothing panics or hangs past the
// configured timeout.
type Replica interface {
	// Name identifies the replica in logs and save results.
	Name() string

	// Capacity returns the per-record byte cap, or 0 when the backend
	// imposes none that matters at this layer.
	Capacity() int

	// TimeoutRisk reports whether operations can hang indefinitely
	// (network path) rather than fail fast.
	TimeoutRisk() bool

	// Write stores the record, replacing any previous value.
	Write(ctx context.Context, n *note.Note) error

	// Read returns the stored record, or ErrNoRecord.
	Read(ctx context.Context) (*note.Note, error)

	// Ping probes backend liveness. Advisory: a failure is logged by the
	// caller but never blocks a subsequent write attempt.
	Ping(ctx context.Context) error
}
