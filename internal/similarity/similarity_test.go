package similarity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reel/internal/media"
)

func TestHamming(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0000000000000000", "0000000000000000", 0},
		{"0000000000000000", "000000000000000f", 4},
		{"0000000000000000", "0000000000000007", 3},
		{"ffffffffffffffff", "0000000000000000", 64},
		{"ABCDEF0123456789", "abcdef0123456789", 0},
		{"00", "0000", 8},
		{"", "ff", 8},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Hamming(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
		require.Equal(t, tt.want, Hamming(tt.b, tt.a), "symmetry %q vs %q", tt.b, tt.a)
	}
}

func TestHamming_ZeroOnlyForIdentical(t *testing.T) {
	seeds := []string{"0123456789abcdef", "fedcba9876543210", "0000000000000001", "8000000000000000"}
	for _, a := range seeds {
		for _, b := range seeds {
			if a == b {
				require.Zero(t, Hamming(a, b))
			} else {
				require.Positive(t, Hamming(a, b))
			}
		}
	}
}

func seq(n int, fill string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestBestWindow_ExactSubsequence(t *testing.T) {
	long := []string{"1111111111111111", "2222222222222222", "3333333333333333", "4444444444444444", "5555555555555555"}
	score, ok := BestWindow(long[1:4], long)
	require.True(t, ok)
	require.Zero(t, score)

	score, ok = BestWindow(long, long[2:])
	require.True(t, ok)
	require.Zero(t, score)
}

func TestBestWindow_NonNegativeAndEmpty(t *testing.T) {
	score, ok := BestWindow(seq(3, "ffffffffffffffff"), seq(5, "0000000000000000"))
	require.True(t, ok)
	require.Equal(t, 64.0, score)

	_, ok = BestWindow(nil, seq(2, "00"))
	require.False(t, ok)
}

func TestPolicyThreshold(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, 24.0, p.Threshold(15))
	require.Equal(t, 24.0, p.Threshold(20))
	require.Equal(t, 12.0, p.Threshold(21))
}

func TestNewMatcher_FillsZeroPolicy(t *testing.T) {
	m := NewMatcher(media.NewMemoryRepository(), Policy{LongThreshold: 6}, nil)
	require.Equal(t, Policy{ShortThreshold: 24, LongThreshold: 6, ShortFrames: 20, DurationMarginMS: 500}, m.policy)
}

func int64p(v int64) *int64 { return &v }

func TestMatcher_AudioVariant(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	owner := uuid.New()
	src := "https://example.com/with-audio"

	withAudio := &media.Asset{
		OwnerID:     owner,
		ContentHash: "a",
		HasAudio:    true,
		SourceURL:   &src,
		FrameHashes: seq(15, "00000000000000ff"),
	}
	require.NoError(t, repo.Create(ctx, withAudio))

	silent := &media.Asset{
		OwnerID:     owner,
		ContentHash: "b",
		HasAudio:    false,
		FrameHashes: seq(15, "00000000000000f0"),
	}
	require.NoError(t, repo.Create(ctx, silent))

	m := NewMatcher(repo, DefaultPolicy(), nil)
	match, err := m.FindMatch(ctx, silent)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, withAudio.ID, match.AssetID)
	require.Equal(t, ReasonAudioVariant, match.Reason)
	require.Equal(t, src, *match.SourceURL)
	require.Equal(t, 4.0, match.Score)
}

func TestMatcher_LongerVariant(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	owner := uuid.New()

	// 50 frames; positions 10..39 sit 3 bits away from the new clip.
	frames := seq(50, "ffffffffffffffff")
	for i := 10; i < 40; i++ {
		frames[i] = "0000000000000007"
	}
	longer := &media.Asset{OwnerID: owner, ContentHash: "long", FrameHashes: frames}
	require.NoError(t, repo.Create(ctx, longer))

	short := &media.Asset{OwnerID: owner, ContentHash: "short", FrameHashes: seq(30, "0000000000000000")}
	require.NoError(t, repo.Create(ctx, short))

	m := NewMatcher(repo, DefaultPolicy(), nil)
	match, err := m.FindMatch(ctx, short)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, longer.ID, match.AssetID)
	require.Equal(t, ReasonLongerVariant, match.Reason)
	require.Equal(t, 3.0, match.Score)
}

func TestMatcher_LongerByDuration(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	owner := uuid.New()

	cand := &media.Asset{OwnerID: owner, ContentHash: "c", DurationMS: int64p(10_600), FrameHashes: seq(10, "0f")}
	require.NoError(t, repo.Create(ctx, cand))
	a := &media.Asset{OwnerID: owner, ContentHash: "a", DurationMS: int64p(10_000), FrameHashes: seq(10, "0f")}
	require.NoError(t, repo.Create(ctx, a))

	m := NewMatcher(repo, DefaultPolicy(), nil)
	match, err := m.FindMatch(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, ReasonLongerVariant, match.Reason)

	// Under the margin and equal frame count: no match.
	cand.DurationMS = int64p(10_400)
	require.NoError(t, repo.Update(ctx, cand))
	match, err = m.FindMatch(ctx, a)
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestMatcher_FirstMatchMostRecent(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	owner := uuid.New()
	base := time.Now().Add(-time.Hour)

	older := &media.Asset{OwnerID: owner, ContentHash: "1", HasAudio: true, FrameHashes: seq(5, "0000"), CreatedAt: base}
	newer := &media.Asset{OwnerID: owner, ContentHash: "2", HasAudio: true, FrameHashes: seq(5, "0001"), CreatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	a := &media.Asset{OwnerID: owner, ContentHash: "3", FrameHashes: seq(5, "0000"), CreatedAt: base.Add(2 * time.Minute)}
	require.NoError(t, repo.Create(ctx, a))

	match, err := NewMatcher(repo, DefaultPolicy(), nil).FindMatch(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, match)
	// newer is checked first and qualifies even though older is a closer match
	require.Equal(t, newer.ID, match.AssetID)
}

func TestMatcher_NoMatch(t *testing.T) {
	ctx := context.Background()
	repo := media.NewMemoryRepository()
	owner := uuid.New()

	far := &media.Asset{OwnerID: owner, ContentHash: "x", HasAudio: true, FrameHashes: seq(40, strings.Repeat("f", 16))}
	require.NoError(t, repo.Create(ctx, far))
	other := &media.Asset{OwnerID: uuid.New(), ContentHash: "y", HasAudio: true, FrameHashes: seq(40, strings.Repeat("0", 16))}
	require.NoError(t, repo.Create(ctx, other))

	a := &media.Asset{OwnerID: owner, ContentHash: "z", FrameHashes: seq(40, strings.Repeat("0", 16))}
	require.NoError(t, repo.Create(ctx, a))

	match, err := NewMatcher(repo, DefaultPolicy(), nil).FindMatch(ctx, a)
	require.NoError(t, err)
	require.Nil(t, match)

	// Assets without frame hashes never match.
	a.FrameHashes = nil
	match, err = NewMatcher(repo, DefaultPolicy(), nil).FindMatch(ctx, a)
	require.NoError(t, err)
	require.Nil(t, match)
}
