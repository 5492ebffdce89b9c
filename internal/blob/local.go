package blob

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("blob signature invalid")
	ErrSignatureExpired = errors.New("blob signature expired")
)

// LocalStore keeps blobs under a root directory and serves them through
// HMAC-signed URLs below publicURL.
type LocalStore struct {
	root      string
	publicURL string
	key       []byte
	now       func() time.Time
	logger    *slog.Logger
}

func NewLocalStore(root, publicURL, signingKey string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "blob"))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}

	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		logger.Warn("BLOB_SIGNING_KEY not set; signed URLs will not survive a restart")
	}

	return &LocalStore{
		root:      abs,
		publicURL: strings.TrimRight(publicURL, "/"),
		key:       key,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Path maps a key to its file on disk.
func (s *LocalStore) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) URL(key string) string {
	return s.publicURL + "/" + key
}

func (s *LocalStore) Upload(ctx context.Context, localPath, key, contentType string, onProgress ProgressFunc) (string, error) {
	dst, err := s.Path(key)
	if err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, &progressFile{file: src, fn: onProgress})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Rename(tmpName, dst)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob upload %s: %w", key, err)
	}

	s.logger.Debug("Stored blob", "key", key, "content_type", contentType)
	return s.URL(key), nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Delete is idempotent.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) SignedURL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)

	q := url.Values{}
	q.Set("expires", expires)
	if downloadName != "" {
		q.Set("dl", downloadName)
	}
	q.Set("sig", s.sign(key, expires, downloadName))
	return s.URL(key) + "?" + q.Encode(), nil
}

// Verify checks the query of a URL produced by SignedURL.
func (s *LocalStore) Verify(key string, q url.Values) error {
	expires := q.Get("expires")
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.sign(key, expires, q.Get("dl"))
	if subtle.ConstantTimeCompare([]byte(want), []byte(q.Get("sig"))) != 1 {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > exp {
		return ErrSignatureExpired
	}
	return nil
}

func (s *LocalStore) sign(key, expires, downloadName string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(downloadName))
	return hex.EncodeToString(mac.Sum(nil))
}
