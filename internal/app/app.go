// Package app assembles the engine: configuration, logging, the three
// storage locations, the save orchestrator, the lifecycle policy, and
// the terminal UI. The binary in cmd/ntt is a thin shell around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/roundrop/new-tab-text/internal/config"
	"github.com/roundrop/new-tab-text/internal/editor"
	"github.com/roundrop/new-tab-text/internal/lifecycle"
	"github.com/roundrop/new-tab-text/internal/logging"
	"github.com/roundrop/new-tab-text/internal/mirror"
	"github.com/roundrop/new-tab-text/internal/note"
	"github.com/roundrop/new-tab-text/internal/replica"
	"github.com/roundrop/new-tab-text/internal/saver"
	"github.com/roundrop/new-tab-text/internal/storage"
)

// teardownTimeout bounds the final direct save; the process must not
// hang on a dead network path while exiting.
const teardownTimeout = 5 * time.Second

// Options are the command-line level switches.
type Options struct {
	// ConfigPath overrides the default config file location.
	ConfigPath string

	// NoSync disables the synchronized replica, leaving local and
	// backup only.
	NoSync bool

	// MirrorPath overrides the configured mirror file, and enables the
	// mirror when the config leaves it off.
	MirrorPath string
}

// App owns the wired engine components and their lifetimes.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	db    *replica.SQLiteStore
	local *replica.SQLiteReplica
	sync  *replica.NATSKV

	store  *storage.MultiStore
	saver  *saver.Saver
	bus    *lifecycle.Bus
	policy *lifecycle.Policy
	mirror *mirror.Mirror
	theme  *editor.Theme
	buf    *editor.Buffer

	program *tea.Program
}

// New loads configuration and constructs every component, including the
// initial load-or-seed of the note. The synchronized replica being
// unreachable is not fatal: the engine degrades to local-only and the
// next process start retries.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadWithFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.initStorage(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initEngine(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context, opts Options) error {
	db, err := replica.OpenSQLite(a.cfg.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	a.db = db

	localTimeout := a.cfg.Storage.LocalTimeout.Duration()
	a.local = db.Local(a.cfg.Storage.LocalCapacity, localTimeout)
	backup := db.Backup(a.cfg.Storage.LocalCapacity, localTimeout)

	var syncRep replica.Replica
	if !opts.NoSync && a.cfg.Storage.SyncURL != "" {
		kv, err := replica.DialNATSKV(ctx,
			a.cfg.Storage.SyncURL,
			a.cfg.Storage.SyncBucket,
			a.cfg.Storage.SyncCapacity,
			a.cfg.Storage.SyncTimeout.Duration())
		if err != nil {
			a.logger.WithCategory(logging.CategoryBackendAsleep).Warn(ctx,
				"synchronized replica unreachable, continuing local-only",
				zap.String("url", a.cfg.Storage.SyncURL), zap.Error(err))
		} else {
			a.sync = kv
			syncRep = kv
		}
	}

	store, err := storage.New(storage.Config{
		Sync:            syncRep,
		Local:           a.local,
		Backup:          backup,
		LocalCapacity:   a.cfg.Storage.LocalCapacity,
		VerifyTolerance: a.cfg.Storage.VerifyTolerance.Duration(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.store = store
	return nil
}

func (a *App) initEngine(ctx context.Context, opts Options) error {
	rec, err := a.store.Load(ctx)
	if errors.Is(err, replica.ErrNoRecord) {
		rec = note.Seed()
		a.logger.Info(ctx, "no note found, seeding welcome content")
		if _, serr := a.store.SaveDirect(ctx, rec); serr != nil {
			a.logger.Warn(ctx, "persisting welcome content failed", zap.Error(serr))
		}
	} else if err != nil {
		return fmt.Errorf("load note: %w", err)
	}

	a.buf = editor.NewBuffer(rec.Content)
	a.bus = lifecycle.NewBus()
	a.theme = editor.NewTheme(lipgloss.HasDarkBackground())

	sched := saver.WallClock{}
	sv, err := saver.New(saver.Config{
		Debounce:     a.cfg.Save.Debounce.Duration(),
		RetryBudget:  a.cfg.Save.RetryBudget,
		RetryBackoff: a.cfg.Save.RetryBackoff.Duration(),
		ForceWait:    a.cfg.Save.ForceWait.Duration(),
		ForcePoll:    a.cfg.Save.ForcePoll.Duration(),
	}, a.store, sched, a.buf.Get, a.logger)
	if err != nil {
		return err
	}
	sv.SetRecord(rec)
	a.saver = sv

	pingers := []lifecycle.Pinger{a.local}
	if a.sync != nil {
		pingers = append([]lifecycle.Pinger{a.sync}, pingers...)
	}
	policy, err := lifecycle.NewPolicy(lifecycle.Config{
		AutosaveTick: a.cfg.Lifecycle.AutosaveTick.Duration(),
		KeepAlive:    a.cfg.Lifecycle.KeepAlive.Duration(),
	}, a.bus, sv, sched, a.logger,
		lifecycle.WithPingers(pingers...),
		lifecycle.WithThemeSink(a.theme.SetDark))
	if err != nil {
		return err
	}
	a.policy = policy

	mirrorPath := a.cfg.Mirror.Path
	if opts.MirrorPath != "" {
		mirrorPath = opts.MirrorPath
	}
	if mirrorPath != "" && (a.cfg.Mirror.Enabled || opts.MirrorPath != "") {
		mir, err := mirror.New(mirrorPath, a.onExternalEdit, a.logger)
		if err != nil {
			return err
		}
		a.mirror = mir
		sv.SetOnSaved(func(content string) {
			if werr := mir.Write(content); werr != nil {
				a.logger.Warn(context.Background(), "mirror write failed", zap.Error(werr))
			}
		})
	}

	model := editor.NewModel(rec.Content, a.buf, a.bus, sv, a.theme, sv.OnChange, a.sync != nil)
	a.program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	return nil
}

// Bus exposes the lifecycle bus so the binary can publish OS-signal
// driven events (suspend, focus changes reported out of band).
func (a *App) Bus() *lifecycle.Bus {
	return a.bus
}

// onExternalEdit feeds mirror-file edits into the running UI.
func (a *App) onExternalEdit(content string) {
	if a.program != nil {
		a.program.Send(editor.SetContentMsg{Content: content})
	}
}

// Run starts the engine loops and blocks in the UI until it exits, then
// performs the teardown save.
func (a *App) Run(ctx context.Context) error {
	a.saver.Start(ctx)
	a.policy.Start(ctx)
	if a.mirror != nil {
		if err := a.mirror.Start(ctx); err != nil {
			a.logger.Warn(ctx, "mirror disabled", zap.Error(err))
			a.mirror = nil
		} else if err := a.mirror.Write(a.buf.Get()); err != nil {
			a.logger.Warn(ctx, "initial mirror write failed", zap.Error(err))
		}
	}

	// Context cancellation (SIGINT/SIGTERM in the binary) ends the UI;
	// the teardown save below still runs.
	go func() {
		<-ctx.Done()
		a.program.Quit()
	}()

	_, uiErr := a.program.Run()

	tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	var saveErr error
	if err := a.policy.Teardown(tctx); err != nil {
		a.logger.WithCategory(logging.CategorySaveFailed).Error(tctx, "teardown save failed", zap.Error(err))
		saveErr = fmt.Errorf("your last changes could not be saved: %w", err)
	}

	a.policy.Stop()
	a.saver.Stop()
	if a.mirror != nil {
		a.mirror.Stop()
	}
	return errors.Join(uiErr, saveErr)
}

// Close releases storage connections. Safe on a partially built App.
func (a *App) Close() {
	if a.sync != nil {
		a.sync.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing local store", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
