package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *LocalFilesystem {
	f, err := NewLocalFilesystem(LocalConfiguration{
		BasePath:  t.TempDir(),
		PublicURL: "https://files.webpods.test/",
	})
	require.NoError(t, err)
	return f
}

func TestFilesystemStoreWritesBothArtifacts(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	storageID, err := f.Store(ctx, "alice", "blog/images", "avatar", "abc123", []byte("pixels"), "png")
	require.NoError(t, err)
	assert.Equal(t, "alice/blog/images/avatar.png", storageID)

	byName, err := os.ReadFile(filepath.Join(f.basePath, "alice/blog/images/avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), byName)

	byHash, err := os.ReadFile(filepath.Join(f.basePath, "alice/.storage/abc123"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), byHash)

	ok, err := f.Exists(ctx, "alice/blog/images/avatar.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystemStoreOverwritesByName(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	_, err := f.Store(ctx, "alice", "blog", "post", "hash1", []byte("one"), "txt")
	require.NoError(t, err)
	_, err = f.Store(ctx, "alice", "blog", "post", "hash2", []byte("two"), "txt")
	require.NoError(t, err)

	byName, err := os.ReadFile(filepath.Join(f.basePath, "alice/blog/post.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), byName)

	// both by-hash objects remain
	for _, hash := range []string{"hash1", "hash2"} {
		ok, err := f.Exists(ctx, "alice/.storage/"+hash)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestFilesystemDelete(t *testing.T) {
	f := newTestFilesystem(t)
	ctx := context.Background()

	_, err := f.Store(ctx, "alice", "blog", "post", "hash1", []byte("one"), "txt")
	require.NoError(t, err)

	// soft delete keeps the by-hash object
	require.NoError(t, f.Delete(ctx, "alice", "blog", "post", "hash1", "txt", false))
	ok, _ := f.Exists(ctx, "alice/blog/post.txt")
	assert.False(t, ok)
	ok, _ = f.Exists(ctx, "alice/.storage/hash1")
	assert.True(t, ok)

	// purge removes it
	require.NoError(t, f.Delete(ctx, "alice", "blog", "post", "hash1", "txt", true))
	ok, _ = f.Exists(ctx, "alice/.storage/hash1")
	assert.False(t, ok)
}

func TestFilesystemURL(t *testing.T) {
	f := newTestFilesystem(t)
	url, err := f.URL("alice/blog/post.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://files.webpods.test/alice/blog/post.txt", url)
}

func TestSanitization(t *testing.T) {
	assert.Equal(t, "etcpasswd", sanitizeComponent("../etc#passwd"))
	assert.Equal(t, "", sanitizeComponent(".."))
	assert.Equal(t, "", sanitizeComponent("."))
	assert.Equal(t, "a/b", sanitizePath("a/../b"))
	assert.Equal(t, "png", sanitizeExtension("p.n/g"))

	// traversal attempts cannot escape the pod prefix
	assert.Equal(t, "alice/blog/name.txt", nameKey("alice", "../blog", "name", ".txt"))
	assert.Equal(t, "alice/.storage/deadbeef", hashKey("alice", "../deadbeef"))
}
