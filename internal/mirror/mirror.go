// Package mirror maintains a plain-text copy of the note on disk so
// other tools can read it, and feeds external edits of that file back
// into the editor.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/roundrop/new-tab-text/internal/logging"
)

// Mirror writes the note to path and watches it for edits made outside
// the editor. Its own writes are recognized by content and ignored.
type Mirror struct {
	path       string
	logger     *logging.Logger
	onExternal func(content string)

	mu          sync.Mutex
	lastWritten string

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a mirror. onExternal receives the file content whenever
// it changes under someone else's hands.
func New(path string, onExternal func(string), logger *logging.Logger) (*Mirror, error) {
	if path == "" {
		return nil, errors.New("mirror path is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mirror{
		path:       path,
		logger:     logger.Named("mirror"),
		onExternal: onExternal,
	}, nil
}

// Start begins watching the mirror file's directory. The directory is
// watched rather than the file because most editors replace the file
// on save, which drops a file-level watch.
func (m *Mirror) Start(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mirror directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.watcher = watcher

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop halts the watcher.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

// Write replaces the mirror file content. The write is atomic so a
// concurrent reader never sees a torn note.
func (m *Mirror) Write(content string) error {
	m.mu.Lock()
	m.lastWritten = content
	m.mu.Unlock()

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace mirror: %w", err)
	}
	return nil
}

// Path returns the mirror file location.
func (m *Mirror) Path() string {
	return m.path
}

func (m *Mirror) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.pickUp(ctx)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn(ctx, "mirror watch error", zap.Error(err))
		}
	}
}

// pickUp reads the file and forwards content that did not come from our
// own Write.
func (m *Mirror) pickUp(ctx context.Context) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		// The file may be mid-replace; the rename will raise another
		// event once it lands.
		return
	}
	content := string(data)

	m.mu.Lock()
	own := content == m.lastWritten
	if !own {
		m.lastWritten = content
	}
	m.mu.Unlock()

	if own || m.onExternal == nil {
		return
	}
	m.logger.Info(ctx, "picked up external edit", zap.String("path", m.path), zap.Int("bytes", len(content)))
	m.onExternal(content)
}
