package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roundrop/new-tab-text/internal/logging"
	"github.com/roundrop/new-tab-text/internal/saver"
)

// SaveController is the slice of the save orchestrator the policy
// drives.
type SaveController interface {
	Dirty() bool
	ForceSave(trigger string)
	DirectSave(ctx context.Context) error
}

// Pinger probes a storage location for liveness. The sync replica's
// probe doubles as a keep-alive that stops the backend connection from
// going dormant between saves.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// ThemeSink receives color-scheme changes.
type ThemeSink func(dark bool)

// Policy translates lifecycle events into save and keep-alive actions:
// losing focus forces a save of dirty content, the periodic tick forces
// a save only while focused and dirty, and teardown runs one direct
// synchronous save.
type Policy struct {
	saver   SaveController
	sched   saver.Scheduler
	logger  *logging.Logger
	pingers []Pinger
	theme   ThemeSink

	autosaveTick time.Duration
	keepAlive    time.Duration

	focused atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config carries the policy intervals.
type Config struct {
	AutosaveTick time.Duration
	KeepAlive    time.Duration
}

// NewPolicy builds the policy and subscribes it to the bus. Pingers and
// theme sink are optional.
func NewPolicy(cfg Config, bus *Bus, sc SaveController, sched saver.Scheduler, logger *logging.Logger, opts ...Option) (*Policy, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if sc == nil {
		return nil, errors.New("save controller is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if cfg.AutosaveTick <= 0 || cfg.KeepAlive <= 0 {
		return nil, errors.New("policy intervals must be positive")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Policy{
		saver:        sc,
		sched:        sched,
		logger:       logger.Named("lifecycle"),
		autosaveTick: cfg.AutosaveTick,
		keepAlive:    cfg.KeepAlive,
	}
	p.focused.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	bus.Subscribe(p.Handle)
	return p, nil
}

// Option configures optional policy collaborators.
type Option func(*Policy)

// WithPingers attaches liveness probes run on the keep-alive interval.
func WithPingers(pingers ...Pinger) Option {
	return func(p *Policy) { p.pingers = append(p.pingers, pingers...) }
}

// WithThemeSink attaches the receiver for ThemeChanged events.
func WithThemeSink(sink ThemeSink) Option {
	return func(p *Policy) { p.theme = sink }
}

// Start launches the autosave tick and keep-alive loops.
func (p *Policy) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.tickLoop(ctx)
	go p.keepAliveLoop(ctx)
}

// Stop halts the periodic loops.
func (p *Policy) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Focused reports whether the terminal currently has focus.
func (p *Policy) Focused() bool {
	return p.focused.Load()
}

// Handle reacts to one lifecycle event. It is the bus subscription
// entry point and is safe to call directly.
func (p *Policy) Handle(e Event) {
	switch e.Kind {
	case FocusLost:
		p.focused.Store(false)
		p.saveIfDirty("blur")
	case FocusGained:
		p.focused.Store(true)
	case Suspend:
		p.focused.Store(false)
		p.saveIfDirty("suspend")
	case AutosaveTick:
		if p.focused.Load() {
			p.saveIfDirty("autosave")
		}
	case ThemeChanged:
		if p.theme != nil {
			p.theme(e.Dark)
		}
	}
}

// Teardown runs the final synchronous save. Content already persisted
// is skipped by the controller.
func (p *Policy) Teardown(ctx context.Context) error {
	return p.saver.DirectSave(ctx)
}

func (p *Policy) saveIfDirty(trigger string) {
	if !p.saver.Dirty() {
		return
	}
	p.logger.Debug(context.Background(), "forcing save", zap.String("trigger", trigger))
	p.saver.ForceSave(trigger)
}

func (p *Policy) tickLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sched.After(p.autosaveTick):
			p.Handle(Event{Kind: AutosaveTick})
		}
	}
}

// keepAliveLoop probes the storage locations on a jittered interval so
// the probes from many instances do not land in lockstep.
func (p *Policy) keepAliveLoop(ctx context.Context) {
	defer p.wg.Done()
	if len(p.pingers) == 0 {
		return
	}
	// Probe once up front so a dormant backend is nudged awake before
	// the first save can land on it.
	p.pingAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sched.After(jitter(p.keepAlive)):
			p.pingAll(ctx)
		}
	}
}

func (p *Policy) pingAll(ctx context.Context) {
	for _, pinger := range p.pingers {
		if err := pinger.Ping(ctx); err != nil {
			p.logger.WithCategory(logging.CategoryBackendAsleep).Warn(ctx, "storage location unreachable",
				zap.String("replica", pinger.Name()), zap.Error(err))
		}
	}
}

// jitter spreads d by ±25%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	span := d / 2
	return d - span/2 + time.Duration(rand.Int63n(int64(span)+1))
}
