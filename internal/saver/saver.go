// Package saver implements the save orchestration state machine: the
// debounce timer, in-flight/pending coalescing, bounded retry with
// backoff, and the forced-save queue. It decides when a save attempt is
// launched and guarantees the newest content is never permanently
// dropped while the process lives.
package saver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roundrop/new-tab-text/internal/logging"
	"github.com/roundrop/new-tab-text/internal/note"
	"github.com/roundrop/new-tab-text/internal/storage"
)

// State is the orchestration state, exposed for the status line.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateSaving
	StateSavingQueued
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateSaving:
		return "saving"
	case StateSavingQueued:
		return "saving+queued"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Store is the save protocol consumed by the state machine.
type Store interface {
	Save(ctx context.Context, n *note.Note) (*storage.SaveResult, error)
	SaveDirect(ctx context.Context, n *note.Note) (*storage.SaveResult, error)
}

// Config tunes the state machine. Zero values are rejected; the caller
// populates it from the application config.
type Config struct {
	Debounce     time.Duration
	RetryBudget  int
	RetryBackoff time.Duration
	ForceWait    time.Duration
	ForcePoll    time.Duration
}

// Saver is the orchestration state machine. All mutable state is behind
// one mutex; save cycles run in their own goroutines and every await
// point re-checks state, since triggers interleave freely.
type Saver struct {
	cfg     Config
	store   Store
	sched   Scheduler
	content func() string
	logger  *logging.Logger

	mu            sync.Mutex
	onSaved       func(content string)
	state         State
	record        *note.Note
	lastPersisted string
	pending       string
	hasPending    bool
	queued        string
	hasQueued     bool
	debounce      Timer
	inFlight      bool
	flightDone    chan struct{}

	forcedMu      sync.Mutex
	forcedTrigger string
	hasForced     bool
	forcedCh      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a saver. content returns the live editor text; it is
// consulted by forced saves and the no-op check.
func New(cfg Config, store Store, sched Scheduler, content func() string, logger *logging.Logger) (*Saver, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if content == nil {
		return nil, errors.New("content source is required")
	}
	if cfg.Debounce <= 0 || cfg.RetryBudget < 1 || cfg.RetryBackoff <= 0 || cfg.ForceWait <= 0 || cfg.ForcePoll <= 0 {
		return nil, errors.New("all saver timings must be positive and retry budget at least 1")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Saver{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		content:  content,
		logger:   logger.Named("saver"),
		forcedCh: make(chan struct{}, 1),
	}, nil
}

// Start launches the forced-save queue processor.
func (s *Saver) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.processForced()
}

// Stop cancels timers and waits for the queue processor to exit.
// In-flight storage writes run to completion; their results are simply
// absorbed into bookkeeping that may already be stale.
func (s *Saver) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// SetOnSaved registers a hook invoked with the content of every save
// that was durably confirmed.
func (s *Saver) SetOnSaved(fn func(content string)) {
	s.mu.Lock()
	s.onSaved = fn
	s.mu.Unlock()
}

// SetRecord installs the record identity after the initial load-or-seed.
// The record's content becomes the clean baseline.
func (s *Saver) SetRecord(n *note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = n
	s.lastPersisted = n.Content
}

// Record returns a copy of the current record, or nil.
func (s *Saver) Record() *note.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	cp := *s.record
	return &cp
}

// Dirty reports whether live editor content differs from the last
// durably confirmed content.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	last := s.lastPersisted
	s.mu.Unlock()
	return s.content() != last
}

// State returns the current orchestration state.
func (s *Saver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange stages new content. While no save is in flight it (re)arms
// the debounce timer; while one is in flight the content is kept as the
// single queued update, newest wins.
func (s *Saver) OnChange(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		s.queued = content
		s.hasQueued = true
		s.state = StateSavingQueued
		return
	}

	s.pending = content
	s.hasPending = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.sched.Schedule(s.cfg.Debounce, s.onDebounce)
	s.state = StateDebouncing
}

func (s *Saver) onDebounce() {
	s.mu.Lock()
	s.debounce = nil
	if s.inFlight {
		// A forced save raced ahead of the timer; keep the content as
		// the queued update instead of starting a second cycle.
		if s.hasPending {
			s.queued = s.pending
			s.hasQueued = true
			s.hasPending = false
			s.state = StateSavingQueued
		}
		s.mu.Unlock()
		return
	}
	if !s.hasPending {
		s.state = StateIdle
		s.mu.Unlock()
		return
	}
	content := s.pending
	s.hasPending = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCycle(content, "debounce")
	}()
}

// ForceSave requests an immediate save, bypassing the debounce. Requests
// land in a single slot, newest trigger wins, drained serially by the
// queue processor so a storm of lifecycle signals cannot stack saves.
func (s *Saver) ForceSave(trigger string) {
	s.forcedMu.Lock()
	s.forcedTrigger = trigger
	s.hasForced = true
	s.forcedMu.Unlock()

	select {
	case s.forcedCh <- struct{}{}:
	default:
	}
}

func (s *Saver) processForced() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.forcedCh:
		}
		for {
			s.forcedMu.Lock()
			if !s.hasForced {
				s.forcedMu.Unlock()
				break
			}
			trigger := s.forcedTrigger
			s.hasForced = false
			s.forcedMu.Unlock()
			s.forceOne(trigger)
		}
	}
}

func (s *Saver) forceOne(trigger string) {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.hasPending = false
	flight := s.inFlight
	done := s.flightDone
	s.mu.Unlock()

	if flight {
		// Bounded wait for the in-flight attempt. If it does not settle
		// in time the forced save proceeds anyway with live editor
		// content; blocking indefinitely near shutdown loses data.
		waited := time.Duration(0)
		for waited < s.cfg.ForceWait {
			select {
			case <-done:
				waited = s.cfg.ForceWait
			case <-s.sched.After(s.cfg.ForcePoll):
				waited += s.cfg.ForcePoll
			case <-s.ctx.Done():
				return
			}
			s.mu.Lock()
			flight = s.inFlight
			s.mu.Unlock()
			if !flight {
				break
			}
		}
		if flight {
			s.logger.Warn(s.ctx, "forced save proceeding past in-flight attempt",
				zap.String("trigger", trigger), zap.Duration("waited", s.cfg.ForceWait))
		}
	}

	s.runCycle(s.content(), trigger)
}

// runCycle performs one full save cycle for content: attempt with
// bounded retries, then drain any queued update into a fresh cycle.
func (s *Saver) runCycle(content, trigger string) {
	for {
		s.mu.Lock()
		if content == s.lastPersisted {
			// No-op optimization: clean content performs zero writes.
			if s.hasQueued {
				content = s.queued
				s.hasQueued = false
				s.mu.Unlock()
				continue
			}
			s.state = StateIdle
			s.mu.Unlock()
			s.logger.Debug(context.Background(), "save skipped, content already persisted",
				zap.String("trigger", trigger))
			return
		}
		s.inFlight = true
		done := make(chan struct{})
		s.flightDone = done
		s.state = StateSaving
		s.mu.Unlock()

		s.attemptWithRetries(content, trigger)

		s.mu.Lock()
		s.inFlight = false
		close(done)
		if s.hasQueued {
			content = s.queued
			s.hasQueued = false
			s.mu.Unlock()
			continue
		}
		s.state = StateIdle
		s.mu.Unlock()
		return
	}
}

// attemptWithRetries runs up to RetryBudget attempts separated by the
// fixed backoff. A queued update arriving between attempts supersedes
// the attempt content: the machine always saves the newest it knows.
func (s *Saver) attemptWithRetries(content, trigger string) bool {
	ctx := logging.WithTrigger(s.saveContext(), trigger)

	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		if s.hasQueued {
			content = s.queued
			s.hasQueued = false
		}
		rec := s.nextRecordLocked(content)
		s.mu.Unlock()

		actx := logging.WithAttempt(ctx, attempt)
		_, err := s.store.Save(actx, rec)
		if err == nil {
			s.mu.Lock()
			s.record = rec
			s.lastPersisted = content
			saved := s.onSaved
			s.mu.Unlock()
			s.logger.Debug(actx, "save confirmed", zap.Int("attempt", attempt))
			if saved != nil {
				saved(content)
			}
			return true
		}

		s.logger.WithCategory(logging.CategorySaveFailed).Warn(actx, "save attempt failed",
			zap.Error(err), zap.Int("attempt", attempt))

		if attempt >= s.cfg.RetryBudget {
			// Give up. The content survives only in the editor surface
			// and any queued update; the next trigger starts fresh.
			s.logger.WithCategory(logging.CategorySaveGaveUp).Error(actx, "save retries exhausted, giving up",
				zap.Int("attempts", attempt))
			return false
		}

		s.mu.Lock()
		s.state = StateRetrying
		s.mu.Unlock()

		select {
		case <-s.sched.After(s.cfg.RetryBackoff):
		case <-s.saveContext().Done():
			return false
		}

		s.mu.Lock()
		s.state = StateSaving
		s.mu.Unlock()
	}
}

// DirectSave is the teardown path: one synchronous best-effort write
// fan-out with no debounce, no retry, no verification. Still skips when
// the editor content is already persisted.
func (s *Saver) DirectSave(ctx context.Context) error {
	content := s.content()

	s.mu.Lock()
	if content == s.lastPersisted {
		s.mu.Unlock()
		return nil
	}
	rec := s.nextRecordLocked(content)
	s.mu.Unlock()

	_, err := s.store.SaveDirect(logging.WithTrigger(ctx, "teardown"), rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.record = rec
	s.lastPersisted = content
	saved := s.onSaved
	s.mu.Unlock()
	if saved != nil {
		saved(content)
	}
	return nil
}

// nextRecordLocked derives the record for content, preserving the
// identifier. Caller holds s.mu.
func (s *Saver) nextRecordLocked(content string) *note.Note {
	if s.record == nil {
		return note.New(content)
	}
	return s.record.Touch(content)
}

func (s *Saver) saveContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
