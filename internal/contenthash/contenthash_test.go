package contenthash

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reel/internal/media"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestQuickHash_Deterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	p := writeTemp(t, data)

	a, err := QuickHash(p)
	require.NoError(t, err)
	b, err := QuickHash(p)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, int64(len(data)), a.Size)

	s := sha256.Sum256(data)
	m := md5.Sum(data)
	require.Equal(t, hex.EncodeToString(s[:]), a.SHA256)
	require.Equal(t, hex.EncodeToString(m[:]), a.MD5)

	combined := sha256.Sum256([]byte(a.SHA256 + a.MD5))
	require.Equal(t, hex.EncodeToString(combined[:]), a.Combined)
}

func TestQuickHash_ByteChangeChangesHash(t *testing.T) {
	data := []byte("0123456789abcdef")
	base, err := QuickHash(writeTemp(t, data))
	require.NoError(t, err)

	for i := range data {
		mut := append([]byte(nil), data...)
		mut[i] ^= 0x01
		d, err := QuickHash(writeTemp(t, mut))
		require.NoError(t, err)
		require.NotEqual(t, base.Combined, d.Combined, "byte %d", i)
	}
}

func TestQuickHash_MissingFile(t *testing.T) {
	_, err := QuickHash(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestChecker_ScopedToOwner(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	c := NewChecker(repo)
	alice, bob := uuid.New(), uuid.New()

	existing := &media.Asset{OwnerID: alice, ContentHash: "h"}
	require.NoError(t, repo.Create(ctx, existing))

	err := c.CheckDuplicate(ctx, alice, "h")
	require.ErrorIs(t, err, ErrDuplicate)
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, existing.ID, dup.ExistingID)

	require.NoError(t, c.CheckDuplicate(ctx, bob, "h"))
	require.NoError(t, c.CheckDuplicate(ctx, alice, "other"))
}
