// Package contenthash computes the exact-content identity of a stored file and
// checks it against an owner's existing assets.
package contenthash

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"thirdcoast.systems/reel/internal/media"
)

// ErrDuplicate is matched by every *DuplicateError.
var ErrDuplicate = errors.New("duplicate content")

// DuplicateError names the asset that already holds the uploaded content.
type DuplicateError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content: already stored as asset %s", e.ExistingID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// Digest is the result of one pass over a file.
type Digest struct {
	// Combined is SHA-256(sha256hex + md5hex), the dedup key.
	Combined string
	SHA256   string
	MD5      string
	Size     int64
}

// QuickHash streams the file once, feeding SHA-256 and MD5 together.
func QuickHash(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	return HashReader(f)
}

func HashReader(r io.Reader) (Digest, error) {
	s := sha256.New()
	m := md5.New()
	n, err := io.Copy(io.MultiWriter(s, m), r)
	if err != nil {
		return Digest{}, fmt.Errorf("hash content: %w", err)
	}

	sHex := hex.EncodeToString(s.Sum(nil))
	mHex := hex.EncodeToString(m.Sum(nil))
	return Digest{
		Combined: Combine(sHex, mHex),
		SHA256:   sHex,
		MD5:      mHex,
		Size:     n,
	}, nil
}

// Combine derives the combined hash from the two hex digests.
func Combine(sha256Hex, md5Hex string) string {
	sum := sha256.Sum256([]byte(sha256Hex + md5Hex))
	return hex.EncodeToString(sum[:])
}

type Checker struct {
	repo media.Repository
}

func NewChecker(repo media.Repository) *Checker {
	return &Checker{repo: repo}
}

// CheckDuplicate returns a *DuplicateError when the owner already stores hash,
// nil when it does not.
func (c *Checker) CheckDuplicate(ctx context.Context, ownerID uuid.UUID, hash string) error {
	existing, err := c.Lookup(ctx, ownerID, hash)
	if err != nil {
		return err
	}
	if existing != uuid.Nil {
		return &DuplicateError{ExistingID: existing}
	}
	return nil
}

// Lookup returns the id of the owner's asset with hash, or uuid.Nil.
func (c *Checker) Lookup(ctx context.Context, ownerID uuid.UUID, hash string) (uuid.UUID, error) {
	a, err := c.repo.FindByHash(ctx, ownerID, hash)
	if errors.Is(err, media.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup content hash: %w", err)
	}
	return a.ID, nil
}
