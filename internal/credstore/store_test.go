// File: internal/credstore/store_test.go
package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := New(
		filepath.Join(dir, "cookies.json"),
		filepath.Join(dir, "global", "cookies.json"),
		filepath.Join(dir, "cookies_backup.json"),
		zap.NewNop(),
	)
	return store, dir
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)

	bundle := Bundle{"id_token": "abc123", "session": "xyz"}
	require.NoError(t, store.Save(bundle))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, bundle, loaded)
}

func TestSaveMirrorsToGlobalPath(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(Bundle{"id_token": "abc123"}))

	data, err := os.ReadFile(filepath.Join(dir, "global", "cookies.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "abc123")
}

func TestSaveEmptyBundleIsNoOp(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(Bundle{"id_token": "keep-me"}))
	require.NoError(t, store.Save(Bundle{}))
	require.NoError(t, store.Save(nil))

	data, err := os.ReadFile(filepath.Join(dir, "cookies.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "keep-me")
}

func TestLoadFallsBackThroughTiers(t *testing.T) {
	store, dir := newTestStore(t)

	// Only the backup tier has a record.
	require.NoError(t, writeBundle(filepath.Join(dir, "cookies_backup.json"), Bundle{"id_token": "from-backup"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "from-backup", loaded["id_token"])

	// A fallback hit is synced into first position.
	data, err := os.ReadFile(filepath.Join(dir, "cookies.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "from-backup")
}

func TestLoadPrefersTaskLocal(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, writeBundle(filepath.Join(dir, "cookies.json"), Bundle{"id_token": "task"}))
	require.NoError(t, writeBundle(filepath.Join(dir, "cookies_backup.json"), Bundle{"id_token": "backup"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "task", loaded["id_token"])
}

func TestLoadSkipsMalformedFile(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies.json"), []byte("{not json"), 0o644))
	require.NoError(t, writeBundle(filepath.Join(dir, "cookies_backup.json"), Bundle{"id_token": "backup"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "backup", loaded["id_token"])
}

func TestLoadNothingFound(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveIgnoresEmptySkippedTiers(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "cookies.json"), "", "", zap.NewNop())

	require.NoError(t, store.Save(Bundle{"id_token": "solo"}))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "solo", loaded["id_token"])
}
