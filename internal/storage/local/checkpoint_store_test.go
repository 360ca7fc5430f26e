// Package local_test tests the CSV checkpoint store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesParentDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "scraped_data.csv")
		store, err := local.New(local.Config{Path: path}, nil)
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingPath", func(t *testing.T) {
		_, err := local.New(local.Config{}, nil)
		assert.Error(t, err)
	})
	t.Run("ParentIsAFile", func(t *testing.T) {
		parent := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))
		_, err := local.New(local.Config{Path: filepath.Join(parent, "data.csv")}, nil)
		assert.Error(t, err)
	})
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "none.csv")}, nil)
	require.NoError(t, err)

	keys, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAppendCreatesHeaderThenAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped_data.csv")
	store, err := local.New(local.Config{Path: path}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []crawler.Observation{
		{Entity: "ALK", From: "10/9/2014", To: "8/9/2015", Fields: []string{"8/8/2015", "1,234.56"}},
	}))
	require.NoError(t, store.Append(ctx, []crawler.Observation{
		{Entity: "KMB", From: "10/9/2014", To: "8/9/2015", Fields: []string{"8/8/2015", "700.00"}},
	}))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"entity,from_date,to_date,data\n"+
			"ALK,10/9/2014,8/9/2015,\"[\"\"8/8/2015\"\",\"\"1,234.56\"\"]\"\n"+
			"KMB,10/9/2014,8/9/2015,\"[\"\"8/8/2015\"\",\"\"700.00\"\"]\"\n",
		string(raw))

	keys, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, crawler.CheckpointKey{Entity: "ALK", From: "10/9/2014", To: "8/9/2015"})
	assert.Contains(t, keys, crawler.CheckpointKey{Entity: "KMB", From: "10/9/2014", To: "8/9/2015"})

	rows, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"8/8/2015", "1,234.56"}, rows[0].Fields)
}

func TestAppendWithNoRowsStillWritesHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped_data.csv")
	store, err := local.New(local.Config{Path: path}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), nil))
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "entity,from_date,to_date,data\n", string(raw))
}

func TestLoadAcceptsLegacyFirmColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped_data.csv")
	content := "firm,from_date,to_date,data\n" +
		"ALK,10/9/2014,8/9/2015,\"['8/8/2015', '1.234,56']\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := local.New(local.Config{Path: path}, nil)
	require.NoError(t, err)
	keys, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, keys, crawler.CheckpointKey{Entity: "ALK", From: "10/9/2014", To: "8/9/2015"})
}

func TestLoadMalformedReturnsPartialKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped_data.csv")
	content := "entity,from_date,to_date,data\n" +
		"ALK,10/9/2014,8/9/2015,\"[]\"\n" +
		"KMB,10/9/2014\n" +
		"TEL,10/9/2014,8/9/2015,\"[]\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := local.New(local.Config{Path: path}, nil)
	require.NoError(t, err)
	keys, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, keys, crawler.CheckpointKey{Entity: "ALK", From: "10/9/2014", To: "8/9/2015"})
}

func TestLoadRejectsUnknownHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped_data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o600))

	store, err := local.New(local.Config{Path: path}, nil)
	require.NoError(t, err)
	keys, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Empty(t, keys)
}
