// Package local_test tests the local filesystem state store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/release-watcher/internal/storage/local"
	"github.com/JakeFAU/release-watcher/internal/store"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDocuments", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)

		for _, name := range []string{"data_url.json", "data_chats.json"} {
			// #nosec G304 -- test reads from the controlled temp directory.
			data, err := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, err)
			assert.JSONEq(t, `{}`, string(data))
		}
	})

	t.Run("KeepsExistingDocuments", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "data_url.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"mega_f": ["http://m/1/"]}`), 0o600))

		s, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		snap, err := s.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"http://m/1/"}, snap["mega_f"].Flat)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	snap := store.Snapshot{
		"mega_f": {Flat: []string{"http://megashara.com/movies/1/?a=1&b=2"}},
		"ns":     {Groups: map[string][]string{"444": {"http://newstudio.tv/viewtopic.php?t=5"}}},
	}
	require.NoError(t, s.Save(ctx, snap))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "data_url.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "?a=1&b=2")
	assert.Contains(t, string(raw), "\n    \"mega_f\"")

	name := "Кинозритель"
	require.NoError(t, s.SaveSubscribers(ctx, store.Subscribers{"1": &name, "2": nil}))
	subs, err := s.LoadSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "Кинозритель", *subs["1"])
	assert.Nil(t, subs["2"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data_url.json"), []byte("{not json"), 0o600))

	_, err = s.Load(context.Background())
	require.Error(t, err)
}
