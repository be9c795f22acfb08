package media

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBlobStore(t *testing.T, maxBytes int64) *BlobStore {
	t.Helper()
	b, err := OpenBlobStore(filepath.Join(t.TempDir(), "blobs"), maxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBlobStore_RoundTrip(t *testing.T) {
	b := openTestBlobStore(t, 0)

	res, err := b.Upload(context.Background(), File{Name: "my file.pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.SecureURL, "blob://"))
	assert.True(t, strings.HasSuffix(res.SecureURL, "/my%20file.pdf"))
	assert.Equal(t, KindDocument, res.Kind)
	assert.Equal(t, int64(8), res.Size)

	f, err := b.Get(res.SecureURL)
	require.NoError(t, err)
	assert.Equal(t, "my file.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), f.Data)
}

func TestBlobStore_NotFound(t *testing.T) {
	b := openTestBlobStore(t, 0)

	_, err := b.Get("blob://missing/x")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestBlobStore_Limits(t *testing.T) {
	b := openTestBlobStore(t, 4)

	_, err := b.Upload(context.Background(), File{Name: "big", Data: []byte("12345")})
	assert.ErrorIs(t, err, ErrUploadFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Upload(ctx, File{Name: "ok", Data: []byte("1")})
	assert.ErrorIs(t, err, ErrUploadFailed)
}
