package mirror

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newTestMirror(t *testing.T) (*Mirror, *recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "note.txt")
	rec := &recorder{}
	m, err := New(path, rec.record, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, rec, path
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New("", nil, nil)
	require.Error(t, err)
}

func TestWrite_IsReadableAndAtomic(t *testing.T) {
	m, _, path := newTestMirror(t)

	require.NoError(t, m.Write("note body"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "note body", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_OwnContentDoesNotEcho(t *testing.T) {
	m, rec, _ := newTestMirror(t)

	require.NoError(t, m.Write("first"))
	require.NoError(t, m.Write("second"))

	// Give the watcher time to deliver our own events.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestExternalEditIsPickedUp(t *testing.T) {
	m, rec, path := newTestMirror(t)

	require.NoError(t, m.Write("from editor"))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("from vim"), 0o644))

	require.Eventually(t, func() bool {
		got := rec.all()
		return len(got) > 0 && got[len(got)-1] == "from vim"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExternalReplaceIsPickedUp(t *testing.T) {
	m, rec, path := newTestMirror(t)

	require.NoError(t, m.Write("original"))
	time.Sleep(100 * time.Millisecond)

	// Replace-on-save, the way most editors write.
	other := path + ".swp"
	require.NoError(t, os.WriteFile(other, []byte("replaced"), 0o644))
	require.NoError(t, os.Rename(other, path))

	require.Eventually(t, func() bool {
		got := rec.all()
		return len(got) > 0 && got[len(got)-1] == "replaced"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	m, err := New(path, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path())
}
