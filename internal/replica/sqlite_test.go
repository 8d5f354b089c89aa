package replica

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundrop/new-tab-text/internal/note"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteReplica_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	local := store.Local(5*1024*1024, 5*time.Second)
	ctx := context.Background()

	n := note.New("persisted text")
	n.MarkSaved(time.Now())
	require.NoError(t, local.Write(ctx, n))

	got, err := local.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "persisted text", got.Content)
	assert.Equal(t, n.Timestamp, got.Timestamp)
	assert.Equal(t, n.LastSaved, got.LastSaved)
}

func TestSQLiteReplica_AbsenceIsErrNoRecord(t *testing.T) {
	store := openTestStore(t)
	local := store.Local(0, time.Second)

	_, err := local.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestSQLiteReplica_Overwrite(t *testing.T) {
	store := openTestStore(t)
	local := store.Local(0, time.Second)
	ctx := context.Background()

	first := note.New("v1")
	require.NoError(t, local.Write(ctx, first))
	second := first.Touch("v2")
	require.NoError(t, local.Write(ctx, second))

	got, err := local.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, first.ID, got.ID)
}

func TestSQLite_LocalAndBackupAreIndependentKeys(t *testing.T) {
	store := openTestStore(t)
	local := store.Local(0, time.Second)
	backup := store.Backup(0, time.Second)
	ctx := context.Background()

	n := note.New("only local")
	require.NoError(t, local.Write(ctx, n))

	_, err := backup.Read(ctx)
	assert.ErrorIs(t, err, ErrNoRecord, "backup key must not see the local key's row")

	require.NoError(t, backup.Write(ctx, n.Touch("backup copy")))

	localGot, err := local.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only local", localGot.Content, "writing backup must not clobber local")
}

func TestSQLiteReplica_Traits(t *testing.T) {
	store := openTestStore(t)
	local := store.Local(5*1024*1024, time.Second)

	assert.Equal(t, "local", local.Name())
	assert.Equal(t, 5*1024*1024, local.Capacity())
	assert.False(t, local.TimeoutRisk())
	assert.NoError(t, local.Ping(context.Background()))
}
