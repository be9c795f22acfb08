package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

const blobScheme = "blob://"

// BlobStore keeps attachments in a local Pebble database. It serves as the
// object storage when no remote uploader is configured.
type BlobStore struct {
	db       *pebble.DB
	maxBytes int64
}

type blobMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// OpenBlobStore opens or creates a blob store in dir. maxBytes <= 0 means
// no size limit.
func OpenBlobStore(dir string, maxBytes int64) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &BlobStore{db: db, maxBytes: maxBytes}, nil
}

// Close closes the database.
func (b *BlobStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Upload stores f and returns a blob:// URL addressing it.
func (b *BlobStore) Upload(ctx context.Context, f File) (Result, error) {
	if err := checkSize(f, b.maxBytes); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	meta, err := json.Marshal(blobMeta{Name: f.Name, ContentType: ContentType(f), Size: int64(len(f.Data))})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	wb := b.db.NewBatch()
	defer wb.Close()
	if err := wb.Set(dataKey(id), f.Data, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := wb.Set(metaKey(id), meta, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return Result{
		SecureURL: blobScheme + id + "/" + url.PathEscape(f.Name),
		Kind:      DetectKind(f),
		Size:      int64(len(f.Data)),
	}, nil
}

// ErrBlobNotFound is returned by Get for unknown blobs.
var ErrBlobNotFound = errors.New("blob not found")

// Get loads a blob by its blob:// URL or bare id.
func (b *BlobStore) Get(ref string) (File, error) {
	id := strings.TrimPrefix(ref, blobScheme)
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}

	rawMeta, err := b.read(metaKey(id))
	if err != nil {
		return File{}, err
	}
	var meta blobMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return File{}, fmt.Errorf("decode blob meta: %w", err)
	}
	data, err := b.read(dataKey(id))
	if err != nil {
		return File{}, err
	}
	return File{Name: meta.Name, ContentType: meta.ContentType, Data: data}, nil
}

func (b *BlobStore) read(key []byte) ([]byte, error) {
	v, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func dataKey(id string) []byte { return []byte("blob:" + id) }
func metaKey(id string) []byte { return []byte("meta:" + id) }
