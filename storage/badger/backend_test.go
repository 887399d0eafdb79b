package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := OpenBackend(path, false, nil)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestBackend_UpdateAndPrefixHelpers(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		for _, k := range []string{"doc:a", "doc:b", "idx:x"} {
			if err := tx.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var values []string
	err = backend.View(func(tx *badger.Txn) error {
		assert.Equal(t, 2, CountPrefix(tx, []byte(documentPrefix)))
		return ForEachPrefix(tx, []byte(documentPrefix), func(val []byte) error {
			values = append(values, string(val))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:a", "doc:b"}, values)
}

func TestBackend_UpdateHonoursContext(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set([]byte("doc:a"), []byte("a"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}
