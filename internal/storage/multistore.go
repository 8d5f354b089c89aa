// Package storage implements the multi-location save and reconciliation
// protocols over the replica set. Writes fan out to every eligible
// location in parallel, success means at least one location took the
// record, and a read-back pass verifies what was stored without ever
// failing an already-successful save.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roundrop/new-tab-text/internal/logging"
	"github.com/roundrop/new-tab-text/internal/note"
	"github.com/roundrop/new-tab-text/internal/replica"
)

const instrumentationName = "github.com/roundrop/new-tab-text/internal/storage"

var (
	// ErrSaveAllFailed reports that zero locations accepted the record.
	ErrSaveAllFailed = errors.New("failed to save to all storage locations")

	// ErrRecordTooLarge reports a record above every location's capacity.
	// Fatal for the attempt; never retried at any location.
	ErrRecordTooLarge = errors.New("record exceeds local storage capacity")

	// ErrSaveInProgress reports a concurrent Save call. The caller is
	// expected to skip, not queue; coalescing lives in the saver.
	ErrSaveInProgress = errors.New("save already in progress")

	errTooLargeForReplica = errors.New("record too large for location")
)

// WriteOutcome is one location's result within a save attempt.
type WriteOutcome struct {
	Replica string
	Err     error // nil on success
	Skipped bool  // size-routed away, write never attempted
}

// SaveResult aggregates a save attempt across locations.
type SaveResult struct {
	Outcomes []WriteOutcome
	Verified bool
}

// Succeeded counts locations that accepted the write.
func (r *SaveResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil && !o.Skipped {
			n++
		}
	}
	return n
}

// Config wires the replica set into a MultiStore.
type Config struct {
	// Sync is the synchronized replica; nil in local-only mode.
	Sync replica.Replica

	// Local and Backup are required.
	Local  replica.Replica
	Backup replica.Replica

	// LocalCapacity is the hard cap; records above it are rejected
	// before any write attempt.
	LocalCapacity int

	// VerifyTolerance is the accepted clock skew between the expected
	// and stored timestamps during read-back verification.
	VerifyTolerance time.Duration
}

// MultiStore orchestrates the replica set.
type MultiStore struct {
	syncRep   replica.Replica
	localRep  replica.Replica
	backupRep replica.Replica

	localCapacity   int
	verifyTolerance time.Duration

	logger *logging.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
	failCounter metric.Int64Counter
	mismatchCtr metric.Int64Counter

	inFlight atomic.Bool
}

// New creates a MultiStore over the replica set.
func New(cfg Config, logger *logging.Logger) (*MultiStore, error) {
	if cfg.Local == nil || cfg.Backup == nil {
		return nil, errors.New("local and backup replicas are required")
	}
	if cfg.LocalCapacity <= 0 {
		return nil, errors.New("local capacity must be positive")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &MultiStore{
		syncRep:         cfg.Sync,
		localRep:        cfg.Local,
		backupRep:       cfg.Backup,
		localCapacity:   cfg.LocalCapacity,
		verifyTolerance: cfg.VerifyTolerance,
		logger:          logger.Named("storage"),
		tracer:          otel.Tracer(instrumentationName),
		meter:           otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *MultiStore) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"ntt.storage.saves_total",
		metric.WithDescription("Total save protocol invocations"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create save counter", zap.Error(err))
	}

	s.failCounter, err = s.meter.Int64Counter(
		"ntt.storage.save_failures_total",
		metric.WithDescription("Saves where zero locations succeeded"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create failure counter", zap.Error(err))
	}

	s.mismatchCtr, err = s.meter.Int64Counter(
		"ntt.storage.verify_mismatches_total",
		metric.WithDescription("Read-back verifications that did not match"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create mismatch counter", zap.Error(err))
	}
}

// Save writes the record to every eligible location in parallel and
// verifies by reading back. Overall success requires at least one
// location to succeed. A concurrent call returns ErrSaveInProgress.
func (s *MultiStore) Save(ctx context.Context, n *note.Note) (*SaveResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "save skipped, another save in flight")
		return nil, ErrSaveInProgress
	}
	defer s.inFlight.Store(false)

	return s.save(ctx, n, true)
}

// SaveDirect is the teardown path: the same size-routed fan-out, but it
// neither takes the in-flight guard nor awaits verification. Used when
// the process is about to die and there is no time for diagnostics.
func (s *MultiStore) SaveDirect(ctx context.Context, n *note.Note) (*SaveResult, error) {
	return s.save(ctx, n, false)
}

func (s *MultiStore) save(ctx context.Context, n *note.Note, verify bool) (*SaveResult, error) {
	ctx, span := s.tracer.Start(ctx, "storage.save")
	defer span.End()

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}

	n.MarkSaved(time.Now())
	size := n.Size()
	span.SetAttributes(
		attribute.Int("record.size", size),
		attribute.String("record.id", n.ID),
		attribute.Bool("verify", verify),
	)

	if size > s.localCapacity {
		s.logger.WithCategory(logging.CategoryRecordTooBig).Error(ctx, "record exceeds local capacity, save rejected",
			zap.Int("size", size), zap.Int("capacity", s.localCapacity))
		span.SetStatus(codes.Error, ErrRecordTooLarge.Error())
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, size, s.localCapacity)
	}

	// Fan out. Failures at one location never abort the others.
	attempted := make([]replica.Replica, 0, 3)
	result := &SaveResult{}
	if s.syncRep != nil {
		if limit := s.syncRep.Capacity(); limit > 0 && size > limit {
			result.Outcomes = append(result.Outcomes, WriteOutcome{
				Replica: s.syncRep.Name(),
				Err:     fmt.Errorf("%w %s: %d bytes (max %d)", errTooLargeForReplica, s.syncRep.Name(), size, limit),
				Skipped: true,
			})
			s.logger.Debug(ctx, "record too large for sync location, routed to local only",
				zap.Int("size", size), zap.Int("sync_capacity", limit))
		} else {
			attempted = append(attempted, s.syncRep)
		}
	}
	attempted = append(attempted, s.localRep, s.backupRep)

	outcomes := make([]WriteOutcome, len(attempted))
	var wg sync.WaitGroup
	for i, rep := range attempted {
		wg.Add(1)
		go func(i int, rep replica.Replica) {
			defer wg.Done()
			err := rep.Write(ctx, n)
			outcomes[i] = WriteOutcome{Replica: rep.Name(), Err: err}
			if err != nil {
				s.logger.Warn(ctx, "replica write failed",
					zap.String("replica", rep.Name()), zap.Error(err))
			}
		}(i, rep)
	}
	wg.Wait()
	result.Outcomes = append(result.Outcomes, outcomes...)

	if result.Succeeded() == 0 {
		if s.failCounter != nil {
			s.failCounter.Add(ctx, 1)
		}
		s.logger.WithCategory(logging.CategorySaveFailed).Error(ctx, "save failed at every location",
			zap.Int("attempted", len(attempted)))
		span.SetStatus(codes.Error, ErrSaveAllFailed.Error())
		return result, ErrSaveAllFailed
	}

	// Verification runs strictly after all writes settled. A mismatch is
	// a diagnostic signal, never a failure of the save itself.
	if verify {
		result.Verified = s.verify(ctx, n, attempted, outcomes)
	}

	s.logger.Debug(ctx, "save completed",
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("attempted", len(attempted)),
		zap.Bool("verified", result.Verified))
	return result, nil
}

func (s *MultiStore) verify(ctx context.Context, n *note.Note, attempted []replica.Replica, outcomes []WriteOutcome) bool {
	verified := true
	for i, rep := range attempted {
		if outcomes[i].Err != nil {
			verified = false
			continue
		}
		stored, err := rep.Read(ctx)
		if err != nil {
			verified = false
			s.logger.WithCategory(logging.CategorySaveVerified).Warn(ctx, "verification read failed",
				zap.String("replica", rep.Name()), zap.Error(err))
			continue
		}
		drift := time.Duration(abs64(stored.Timestamp-n.Timestamp)) * time.Millisecond
		if stored.ID != n.ID || drift > s.verifyTolerance {
			verified = false
			if s.mismatchCtr != nil {
				s.mismatchCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("replica", rep.Name())))
			}
			s.logger.WithCategory(logging.CategorySaveVerified).Warn(ctx, "verification mismatch",
				zap.String("replica", rep.Name()),
				zap.String("expected_id", n.ID),
				zap.String("stored_id", stored.ID),
				zap.Duration("timestamp_drift", drift))
		}
	}
	return verified
}

// Load reads all locations concurrently, picks the most recent record,
// and repairs the primaries when only the backup still holds data.
// Returns replica.ErrNoRecord when no location has anything.
func (s *MultiStore) Load(ctx context.Context) (*note.Note, error) {
	ctx, span := s.tracer.Start(ctx, "storage.load")
	defer span.End()

	type readResult struct {
		rep replica.Replica
		n   *note.Note
	}

	reps := make([]replica.Replica, 0, 3)
	if s.syncRep != nil {
		reps = append(reps, s.syncRep)
	}
	reps = append(reps, s.localRep, s.backupRep)

	results := make([]readResult, len(reps))
	var wg sync.WaitGroup
	for i, rep := range reps {
		wg.Add(1)
		go func(i int, rep replica.Replica) {
			defer wg.Done()
			n, err := rep.Read(ctx)
			if err != nil {
				if !errors.Is(err, replica.ErrNoRecord) {
					s.logger.Warn(ctx, "replica read failed",
						zap.String("replica", rep.Name()), zap.Error(err))
				}
				return
			}
			results[i] = readResult{rep: rep, n: n}
		}(i, rep)
	}
	wg.Wait()

	// Most recent timestamp wins. Results are ordered sync, local,
	// backup, and only a strictly greater timestamp displaces the
	// current pick: ties resolve to the earlier replica in that order.
	var best *note.Note
	var bestRep replica.Replica
	for _, r := range results {
		if r.n == nil {
			continue
		}
		if best == nil || r.n.Timestamp > best.Timestamp {
			best = r.n
			bestRep = r.rep
		}
	}

	if best == nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, replica.ErrNoRecord
	}

	span.SetAttributes(attribute.Bool("found", true), attribute.String("source", bestRep.Name()))

	// Primary copies gone while the backup survived: restore them.
	// Repair only fires when sync and local returned nothing at all; a
	// merely stale primary is left for the next regular save.
	backupOnly := bestRep == s.backupRep
	for _, r := range results {
		if r.n != nil && r.rep != s.backupRep {
			backupOnly = false
		}
	}
	if backupOnly {
		s.logger.WithCategory(logging.CategoryRepair).Warn(ctx, "record found only in backup, repairing primaries",
			zap.String("record_id", best.ID))
		if _, err := s.SaveDirect(ctx, best); err != nil {
			s.logger.WithCategory(logging.CategoryRepair).Error(ctx, "backup repair failed", zap.Error(err))
		}
	}

	return best, nil
}

// InFlight reports whether a guarded Save is currently running.
func (s *MultiStore) InFlight() bool {
	return s.inFlight.Load()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
