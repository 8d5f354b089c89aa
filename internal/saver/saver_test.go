package saver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/roundrop/new-tab-text/internal/logging"
	"github.com/roundrop/new-tab-text/internal/note"
	"github.com/roundrop/new-tab-text/internal/storage"
)

// fakeStore records save calls and can fail or block selected calls.
type fakeStore struct {
	mu      sync.Mutex
	saves   []string
	directs []string
	failN   int           // first failN Save calls return an error
	blockOn int           // 1-based Save call number to block, 0 for none
	gate    chan struct{} // released by closing
}

func newFakeStore() *fakeStore {
	return &fakeStore{gate: make(chan struct{})}
}

func (f *fakeStore) Save(ctx context.Context, n *note.Note) (*storage.SaveResult, error) {
	f.mu.Lock()
	call := len(f.saves) + 1
	f.saves = append(f.saves, n.Content)
	fail := call <= f.failN
	block := f.blockOn == call
	f.mu.Unlock()

	if block {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("all locations rejected the write")
	}
	return &storage.SaveResult{Outcomes: []storage.WriteOutcome{{Replica: "local"}}}, nil
}

func (f *fakeStore) SaveDirect(ctx context.Context, n *note.Note) (*storage.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directs = append(f.directs, n.Content)
	return &storage.SaveResult{Outcomes: []storage.WriteOutcome{{Replica: "local"}}}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeStore) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return ""
	}
	return f.saves[len(f.saves)-1]
}

type fixture struct {
	saver  *Saver
	store  *fakeStore
	clock  *ManualClock
	logger *logging.TestLogger

	mu   sync.Mutex
	live string
}

func (f *fixture) setLive(s string) {
	f.mu.Lock()
	f.live = s
	f.mu.Unlock()
}

// edit stages content both in the live surface and the saver, the way
// the editor wires keystrokes.
func (f *fixture) edit(s string) {
	f.setLive(s)
	f.saver.OnChange(s)
}

func testConfig() Config {
	return Config{
		Debounce:     time.Second,
		RetryBudget:  3,
		RetryBackoff: 2 * time.Second,
		ForceWait:    3 * time.Second,
		ForcePoll:    100 * time.Millisecond,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newFakeStore(),
		clock:  NewManualClock(time.Now()),
		logger: logging.NewTestLogger(),
	}
	s, err := New(testConfig(), f.store, f.clock, func() string {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.live
	}, f.logger.Logger)
	require.NoError(t, err)
	f.saver = s
	s.Start(context.Background())
	t.Cleanup(func() {
		select {
		case <-f.store.gate:
		default:
			close(f.store.gate)
		}
		s.Stop()
	})
	return f
}

func waitSaves(t *testing.T, f *fixture, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.store.count() >= n
	}, 2*time.Second, time.Millisecond)
}

// advanceUntil repeatedly moves the clock by step until cond holds. The
// save cycle runs on its own goroutine, so the timer it waits on may be
// registered a beat after the state becomes observable; advancing in a
// poll loop absorbs that.
func advanceUntil(t *testing.T, f *fixture, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.clock.Advance(step)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	store := newFakeStore()
	clock := NewManualClock(time.Now())
	content := func() string { return "" }

	_, err := New(testConfig(), nil, clock, content, nil)
	require.Error(t, err)

	_, err = New(testConfig(), store, nil, content, nil)
	require.Error(t, err)

	_, err = New(testConfig(), store, clock, nil, nil)
	require.Error(t, err)

	bad := testConfig()
	bad.RetryBudget = 0
	_, err = New(bad, store, clock, content, nil)
	require.Error(t, err)

	s, err := New(testConfig(), store, clock, content, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
}

func TestOnChange_CoalescesRapidEdits(t *testing.T) {
	f := newFixture(t)

	for _, c := range []string{"h", "he", "hel", "hell", "hello"} {
		f.edit(c)
		f.clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, StateDebouncing, f.saver.State())
	assert.Equal(t, 0, f.store.count())

	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, "hello", f.store.last())
}

func TestOnChange_DebounceRearmsOnEachEdit(t *testing.T) {
	f := newFixture(t)

	f.edit("a")
	f.clock.Advance(900 * time.Millisecond)
	f.edit("ab")
	f.clock.Advance(900 * time.Millisecond)
	assert.Equal(t, 0, f.store.count())

	f.clock.Advance(100 * time.Millisecond)
	waitSaves(t, f, 1)
	assert.Equal(t, "ab", f.store.last())
}

func TestOnChange_QueuedDuringFlightNewestWins(t *testing.T) {
	f := newFixture(t)
	f.store.blockOn = 1

	f.edit("v1")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	f.edit("v2")
	f.edit("v3")
	assert.Equal(t, StateSavingQueued, f.saver.State())

	close(f.store.gate)
	waitSaves(t, f, 2)

	require.Eventually(t, func() bool {
		return f.saver.State() == StateIdle
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2, f.store.count())
	assert.Equal(t, "v3", f.store.last())
}

func TestRetry_FixedBackoffThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.store.failN = 2

	f.edit("stubborn")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	advanceUntil(t, f, testConfig().RetryBackoff, func() bool {
		return f.store.count() >= 3
	})

	require.Eventually(t, func() bool {
		return f.saver.State() == StateIdle
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, f.store.count())
	assert.Equal(t, "stubborn", f.store.last())
	f.logger.AssertLogged(t, zapcore.WarnLevel, "save attempt failed")
	f.logger.AssertNotLogged(t, zapcore.ErrorLevel, "giving up")
}

func TestRetry_ExhaustionStopsAtBudget(t *testing.T) {
	f := newFixture(t)
	f.store.failN = 100

	f.edit("doomed")
	f.clock.Advance(time.Second)

	advanceUntil(t, f, testConfig().RetryBackoff, func() bool {
		return f.store.count() >= 3 && f.saver.State() == StateIdle
	})

	// The budget is spent; further time produces no further attempts.
	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, f.store.count())
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "giving up")
}

func TestRetry_QueuedUpdateSupersedesRetryContent(t *testing.T) {
	f := newFixture(t)
	f.store.failN = 1

	f.edit("old")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	// Stage newer content while the first attempt's retry is pending.
	f.edit("new")

	advanceUntil(t, f, testConfig().RetryBackoff, func() bool {
		return f.store.count() >= 2
	})
	assert.Equal(t, "new", f.store.last())
}

func TestForceSave_ImmediateWhenIdle(t *testing.T) {
	f := newFixture(t)

	f.setLive("focus-lost")
	f.saver.ForceSave("blur")
	waitSaves(t, f, 1)

	assert.Equal(t, "focus-lost", f.store.last())
}

func TestForceSave_CleanContentWritesNothing(t *testing.T) {
	f := newFixture(t)

	rec := note.New("persisted")
	f.saver.SetRecord(rec)
	f.setLive("persisted")

	f.saver.ForceSave("blur")
	f.saver.ForceSave("suspend")

	// A later dirty force drains behind the clean ones; once it lands,
	// the clean forces are proven to have written nothing.
	f.setLive("dirty")
	f.saver.ForceSave("blur")
	waitSaves(t, f, 1)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, "dirty", f.store.last())
}

func TestForceSave_CancelsPendingDebounce(t *testing.T) {
	f := newFixture(t)

	f.edit("typed")
	f.saver.ForceSave("blur")
	waitSaves(t, f, 1)
	assert.Equal(t, "typed", f.store.last())

	// The cancelled debounce timer must not fire a second save.
	f.clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.store.count())
}

func TestForceSave_WaitsForFlightToClear(t *testing.T) {
	f := newFixture(t)
	f.store.blockOn = 1

	f.edit("v1")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	f.setLive("v2")
	f.saver.ForceSave("blur")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.store.count())

	close(f.store.gate)
	waitSaves(t, f, 2)
	assert.Equal(t, "v2", f.store.last())
}

func TestForceSave_ProceedsPastStuckFlight(t *testing.T) {
	f := newFixture(t)
	f.store.blockOn = 1

	f.edit("v1")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	f.setLive("v2")
	f.saver.ForceSave("suspend")

	// The first attempt never settles; after the bounded wait elapses
	// the forced save goes ahead with the live content.
	advanceUntil(t, f, testConfig().ForcePoll, func() bool {
		return f.store.count() >= 2
	})
	assert.Equal(t, "v2", f.store.last())
}

func TestForceSave_StormCollapsesToNewestTrigger(t *testing.T) {
	f := newFixture(t)
	f.store.blockOn = 1

	f.edit("v1")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	// Lifecycle storm while the flight is stuck: the queue holds one
	// slot, so at most one forced cycle follows.
	for i := 0; i < 5; i++ {
		f.saver.ForceSave("blur")
	}
	f.setLive("final")

	close(f.store.gate)
	waitSaves(t, f, 2)
	require.Eventually(t, func() bool {
		return f.saver.State() == StateIdle
	}, 2*time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.store.count())
	assert.Equal(t, "final", f.store.last())
}

func TestGiveUp_QueuedContentStartsFreshCycle(t *testing.T) {
	f := newFixture(t)
	f.store.failN = 3
	f.store.blockOn = 3

	f.edit("doomed")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	advanceUntil(t, f, testConfig().RetryBackoff, func() bool {
		return f.store.count() >= 3
	})

	// Newer content arrives while the final doomed attempt hangs; after
	// the give-up it must get its own cycle with a fresh budget.
	f.edit("rescued")
	close(f.store.gate)

	waitSaves(t, f, 4)
	assert.Equal(t, "rescued", f.store.last())
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "giving up")
}

func TestDirectSave_BypassesDebounceAndRetry(t *testing.T) {
	f := newFixture(t)

	f.setLive("goodbye")
	require.NoError(t, f.saver.DirectSave(context.Background()))

	assert.Equal(t, 0, f.store.count())
	f.store.mu.Lock()
	directs := append([]string(nil), f.store.directs...)
	f.store.mu.Unlock()
	require.Len(t, directs, 1)
	assert.Equal(t, "goodbye", directs[0])
}

func TestDirectSave_CleanContentIsNoop(t *testing.T) {
	f := newFixture(t)

	f.saver.SetRecord(note.New("same"))
	f.setLive("same")
	require.NoError(t, f.saver.DirectSave(context.Background()))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.directs)
}

func TestRecordIdentityPreservedAcrossSaves(t *testing.T) {
	f := newFixture(t)

	seed := note.New("first")
	f.saver.SetRecord(seed)

	f.edit("second")
	f.clock.Advance(time.Second)
	waitSaves(t, f, 1)

	require.Eventually(t, func() bool {
		return f.saver.State() == StateIdle
	}, 2*time.Second, time.Millisecond)

	rec := f.saver.Record()
	require.NotNil(t, rec)
	assert.Equal(t, seed.ID, rec.ID)
	assert.Equal(t, "second", rec.Content)
	assert.Greater(t, rec.Timestamp, seed.Timestamp)
}

func TestDirty(t *testing.T) {
	f := newFixture(t)

	f.saver.SetRecord(note.New("clean"))
	f.setLive("clean")
	assert.False(t, f.saver.Dirty())

	f.setLive("clean and more")
	assert.True(t, f.saver.Dirty())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "debouncing", StateDebouncing.String())
	assert.Equal(t, "saving", StateSaving.String())
	assert.Equal(t, "saving+queued", StateSavingQueued.String())
	assert.Equal(t, "retrying", StateRetrying.String())
	assert.Equal(t, "unknown", State(99).String())
}
