package media

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_HashUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	alice, bob := uuid.New(), uuid.New()

	first := &Asset{OwnerID: alice, ContentHash: "abc", StorageKey: "media/a"}
	require.NoError(t, repo.Create(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)

	err := repo.Create(ctx, &Asset{OwnerID: alice, ContentHash: "abc"})
	require.ErrorIs(t, err, ErrDuplicateHash)

	require.NoError(t, repo.Create(ctx, &Asset{OwnerID: bob, ContentHash: "abc"}))

	found, err := repo.FindByHash(ctx, alice, "abc")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)

	_, err = repo.FindByHash(ctx, alice, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_FindAllMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	owner := uuid.New()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a := &Asset{OwnerID: owner, ContentHash: uuid.NewString(), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Create(ctx, a))
		ids = append(ids, a.ID)
	}
	require.NoError(t, repo.Create(ctx, &Asset{OwnerID: uuid.New(), ContentHash: "other"}))

	all, err := repo.FindAll(ctx, owner)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[1], all[1].ID)
	require.Equal(t, ids[0], all[2].ID)
}

func TestMemoryRepository_OwnerScopedLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	owner := uuid.New()

	a := &Asset{OwnerID: owner, ContentHash: "h1"}
	require.NoError(t, repo.Create(ctx, a))

	_, err := repo.FindByID(ctx, a.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, a.ID, uuid.New()), ErrNotFound)

	got, err := repo.FindByID(ctx, a.ID, owner)
	require.NoError(t, err)
	got.FrameHashes = []string{"00"}
	got.HasAudio = true
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.FindByID(ctx, a.ID, owner)
	require.NoError(t, err)
	require.True(t, again.HasAudio)
	require.Equal(t, []string{"00"}, again.FrameHashes)

	require.NoError(t, repo.Delete(ctx, a.ID, owner))
	_, err = repo.FindByID(ctx, a.ID, owner)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_UpdateHashCollision(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	owner := uuid.New()

	a := &Asset{OwnerID: owner, ContentHash: "h1"}
	b := &Asset{OwnerID: owner, ContentHash: "h2"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	b.ContentHash = "h1"
	require.ErrorIs(t, repo.Update(ctx, b), ErrDuplicateHash)
}

func TestMediaTypeHelpers(t *testing.T) {
	require.True(t, NeedsTranscode("video/quicktime", "clip.mov"))
	require.True(t, NeedsTranscode("application/octet-stream", "clip.MKV"))
	require.True(t, NeedsTranscode("image/gif", "anim.gif"))
	require.False(t, NeedsTranscode("video/mp4", "clip.mp4"))

	require.Equal(t, ".mp4", ExtensionFor("video/mp4; codecs=avc1"))
	require.Equal(t, "image/jpeg", TypeForExtension("photo.JPEG"))
	require.Equal(t, "", TypeForExtension("README"))

	require.True(t, IsStillImage("image/png"))
	require.False(t, IsStillImage("image/gif"))
	require.True(t, IsVideo("video/webm"))
}
