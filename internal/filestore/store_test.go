package filestore_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/filestore"
)

func digestOf(t *testing.T, content []byte) string {
	t.Helper()
	h := sha1.Sum(content)
	return hex.EncodeToString(h[:])
}

func TestStorePutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("the quick brown fox jumps over the lazy dog")
	digest, err := store.PutFile(context.Background(), content, "test input")
	require.NoError(t, err)
	assert.Equal(t, digestOf(t, content), digest)

	got, err := store.GetFile(context.Background(), digest, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	present, err := store.IsFilePresent(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, present)

	desc, err := store.Describe(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, "test input", desc)
}

func TestStorePutFileIsIdempotent(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("idempotent content")
	d1, err := store.PutFile(context.Background(), content, "first")
	require.NoError(t, err)
	d2, err := store.PutFile(context.Background(), content, "second")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	desc, err := store.Describe(context.Background(), d1)
	require.NoError(t, err)
	assert.Equal(t, "first", desc, "description from the first write should survive a duplicate put")
}

func TestStoreGetFileChunked(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	content := make([]byte, filestore.ChunkSize+100)
	for i := range content {
		content[i] = byte(i % 251)
	}
	digest, err := store.PutFile(context.Background(), content, "large")
	require.NoError(t, err)

	first, err := store.GetFile(context.Background(), digest, 0, filestore.ChunkSize)
	require.NoError(t, err)
	assert.Len(t, first, filestore.ChunkSize)

	second, err := store.GetFile(context.Background(), digest, filestore.ChunkSize, filestore.ChunkSize)
	require.NoError(t, err)
	assert.Len(t, second, 100)

	assert.Equal(t, content, append(first, second...))
}

func TestStoreGetFileNotFound(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetFile(context.Background(), "000000000000000000000000000000000000000a", 0, -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreRejectsInvalidDigest(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	tests := []string{"", "not-hex-zzzz", "deadbeef", "../../../etc/passwd"}
	for _, digest := range tests {
		digest := digest
		t.Run(digest, func(t *testing.T) {
			t.Parallel()
			_, err := store.GetFile(context.Background(), digest, 0, -1)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestStoreDeleteReportsExistence(t *testing.T) {
	t.Parallel()

	store, err := filestore.NewStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("to be deleted")
	digest, err := store.PutFile(context.Background(), content, "")
	require.NoError(t, err)

	existed, err := store.Delete(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, existed)

	existedAgain, err := store.Delete(context.Background(), digest)
	require.NoError(t, err)
	assert.False(t, existedAgain)

	present, err := store.IsFilePresent(context.Background(), digest)
	require.NoError(t, err)
	assert.False(t, present)
}
