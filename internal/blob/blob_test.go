package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "memos/a.ogg", []byte("audio")))
		data, err := store.Get(ctx, "memos/a.ogg")
		require.NoError(t, err)
		assert.Equal(t, []byte("audio"), data)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "memos/missing.ogg")
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "drafts/b.pdf", []byte("pdf")))
		require.NoError(t, store.Delete(ctx, "drafts/b.pdf"))
		_, err := store.Get(ctx, "drafts/b.pdf")
		assert.Error(t, err)
	})

	t.Run("delete missing is a no-op", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "drafts/nope.pdf"))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "../escape.txt", []byte("x")))
		_, err := store.Get(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("rejects absolute paths", func(t *testing.T) {
		tmp := filepath.Join(os.TempDir(), "abs.txt")
		assert.Error(t, store.Put(ctx, tmp, []byte("x")))
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "a", []byte("one")))
	data, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "b")
	assert.Error(t, err)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.Equal(t, 0, store.Len())
}
