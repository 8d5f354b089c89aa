package replica

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/roundrop/new-tab-text/internal/note"
)

const natsKey = "note"

// NATSKV is the synchronized replica backed by a JetStream key-value
// bucket. Cross-device, network-bound, and allowed to be down entirely:
// every operation carries the short sync timeout so a hung connection
// can never stall the save path.
type NATSKV struct {
	nc       *nats.Conn
	kv       jetstream.KeyValue
	capacity int
	timeout  time.Duration
}

// DialNATSKV connects to the NATS server and binds the bucket, creating
// it when missing. The connection retries in the background forever; a
// dormant or unreachable server degrades writes to timeouts rather than
// startup failure.
func DialNATSKV(ctx context.Context, url, bucket string, capacity int, timeout time.Duration) (*NATSKV, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	bindCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(bindCtx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ntt note replication",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}

	return &NATSKV{nc: nc, kv: kv, capacity: capacity, timeout: timeout}, nil
}

func (r *NATSKV) Name() string      { return "sync" }
func (r *NATSKV) Capacity() int     { return r.capacity }
func (r *NATSKV) TimeoutRisk() bool { return true }

func (r *NATSKV) Write(ctx context.Context, n *note.Note) error {
	data, err := n.Marshal()
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.kv.Put(ctx, natsKey, data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

func (r *NATSKV) Read(ctx context.Context) (*note.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry, err := r.kv.Get(ctx, natsKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	return note.Unmarshal(entry.Value())
}

// Ping is the liveness probe behind ensureBackendAwake: a round trip to
// the server proves the connection is out of its dormant/reconnecting
// state. Advisory only.
func (r *NATSKV) Ping(ctx context.Context) error {
	if status := r.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (r *NATSKV) Close() {
	r.nc.Close()
}
