// Package media uploads chat attachments to object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Kind is the attachment category shown in previews.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindGIF      Kind = "gif"
	KindDocument Kind = "document"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindGIF, KindDocument:
		return true
	}
	return false
}

// File is an attachment to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result describes a stored attachment.
type Result struct {
	SecureURL string
	Kind      Kind
	Size      int64
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, f File) (Result, error)
}

// ErrUploadFailed is wrapped by every upload failure.
var ErrUploadFailed = errors.New("upload failed")

// TooLargeError reports a file over the configured limit.
type TooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s is %s, limit is %s", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Bytes(uint64(e.Limit)))
}

// Is makes TooLargeError match ErrUploadFailed.
func (e *TooLargeError) Is(target error) bool {
	return target == ErrUploadFailed
}

// checkSize rejects empty files and files over limit. A limit <= 0 disables
// the size check.
func checkSize(f File, limit int64) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrUploadFailed, f.Name)
	}
	if limit > 0 && int64(len(f.Data)) > limit {
		return &TooLargeError{Name: f.Name, Size: int64(len(f.Data)), Limit: limit}
	}
	return nil
}

// ContentType returns the file's declared type, or one guessed from the
// extension and then the content.
func ContentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if ct := mime.TypeByExtension(filepath.Ext(f.Name)); ct != "" {
		return ct
	}
	return http.DetectContentType(f.Data)
}

// DetectKind classifies a file by content type.
func DetectKind(f File) Kind {
	ct := ContentType(f)
	switch {
	case strings.HasPrefix(ct, "image/gif"):
		return KindGIF
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

// ReadFile loads a file from disk.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read attachment: %w", err)
	}
	f := File{Name: filepath.Base(path), Data: data}
	f.ContentType = ContentType(f)
	return f, nil
}
