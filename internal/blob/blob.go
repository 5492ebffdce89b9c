// Package blob stores asset bytes. The local backend keeps files on disk and
// signs download URLs with HMAC; the S3 backend presigns object URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// ProgressFunc receives the cumulative number of bytes sent.
type ProgressFunc func(sent int64)

type Store interface {
	// Upload stores the file at localPath under key and returns its URL.
	Upload(ctx context.Context, localPath, key, contentType string, onProgress ProgressFunc) (string, error)
	// Open returns the stored bytes and their length.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited URL. A non-empty downloadName asks the
	// server to send the body as an attachment with that filename.
	SignedURL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error)
}

// Key namespaces.
func MediaKey(owner, id, ext string) string   { return "media/" + owner + "/" + id + ext }
func ThumbnailKey(owner, id string) string    { return "thumbnails/" + owner + "/" + id + ".jpg" }
func DerivedKey(owner, id, ext string) string { return "derived/" + owner + "/" + id + ext }

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// DownloadToFile copies a stored blob to dst and returns the bytes written.
func DownloadToFile(ctx context.Context, s Store, key, dst string) (int64, error) {
	rc, size, err := s.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("download %s: short read %d of %d bytes", key, n, size)
	}
	return n, nil
}

// progressFile reports cumulative reads. Seeking resets the count so retried
// uploads report from the new offset. The file is a named field so io.Copy
// cannot reach (*os.File).WriteTo and skip Read.
type progressFile struct {
	file *os.File
	sent int64
	fn   ProgressFunc
}

func (p *progressFile) Read(b []byte) (int, error) {
	n, err := p.file.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent)
		}
	}
	return n, err
}

func (p *progressFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.file.Seek(offset, whence)
	if err == nil {
		p.sent = pos
	}
	return pos, err
}
