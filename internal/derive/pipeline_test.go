package derive

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/contenthash"
	"thirdcoast.systems/reel/internal/fingerprint"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/internal/notify"
	"thirdcoast.systems/reel/internal/similarity"
	"thirdcoast.systems/reel/pkg/ffmpeg"
)

type fakeTool struct {
	mu         sync.Mutex
	probe      *ffmpeg.ProbeResult
	probeErr   error
	probeGate  chan struct{}
	probing    chan struct{}
	thumbFrom  time.Duration // offsets above this fail
	transErr   error
	offsets    []time.Duration
	transcoded bool
}

func (f *fakeTool) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	if f.probing != nil {
		f.probing <- struct{}{}
	}
	if f.probeGate != nil {
		<-f.probeGate
	}
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeTool) Thumbnail(ctx context.Context, input, output string, offset time.Duration) error {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()
	if offset > f.thumbFrom {
		return errors.New("seek past end")
	}
	return os.WriteFile(output, []byte("jpeg"), 0o644)
}

func (f *fakeTool) Transcode(ctx context.Context, input, output string, withAudio bool) error {
	if f.transErr != nil {
		return f.transErr
	}
	f.mu.Lock()
	f.transcoded = true
	f.mu.Unlock()
	return os.WriteFile(output, []byte("mp4"), 0o644)
}

type fakeExtractor struct {
	res *fingerprint.Result
	err error
}

func (f fakeExtractor) Extract(ctx context.Context, path, mediaType string) (*fingerprint.Result, error) {
	return f.res, f.err
}

type harness struct {
	repo     *media.MemoryRepository
	store    *blob.LocalStore
	recorder *notify.Recorder
	scratch  string
	owner    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := blob.NewLocalStore(t.TempDir(), "http://localhost/blobs", "k", nil)
	require.NoError(t, err)
	return &harness{
		repo:     media.NewMemoryRepository(),
		store:    store,
		recorder: notify.NewRecorder(),
		scratch:  t.TempDir(),
		owner:    uuid.New(),
	}
}

func (h *harness) pipeline(tool MediaTool, fp fingerprint.Extractor) *Pipeline {
	m := similarity.NewMatcher(h.repo, similarity.DefaultPolicy(), nil)
	return NewPipeline(h.repo, h.store, tool, fp, m, h.recorder, Options{ScratchDir: h.scratch})
}

// stored uploads content and creates its asset record.
func (h *harness) stored(t *testing.T, content []byte, mediaType, filename, hash string) *media.Asset {
	t.Helper()
	id := uuid.New()
	src := filepath.Join(t.TempDir(), filename)
	require.NoError(t, os.WriteFile(src, content, 0o644))

	key := blob.MediaKey(h.owner.String(), id.String(), filepath.Ext(filename))
	_, err := h.store.Upload(context.Background(), src, key, mediaType, nil)
	require.NoError(t, err)

	a := &media.Asset{
		ID:               id,
		OwnerID:          h.owner,
		StorageKey:       key,
		OriginalFilename: filename,
		MediaType:        mediaType,
		Size:             int64(len(content)),
		ContentHash:      hash,
	}
	require.NoError(t, h.repo.Create(context.Background(), a))
	return a
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *media.Asset {
	t.Helper()
	a, err := h.repo.FindByID(context.Background(), id, h.owner)
	require.NoError(t, err)
	return a
}

func frames(n int, fill string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestRun_VideoFullPipeline(t *testing.T) {
	h := newHarness(t)
	src := "https://reddit.com/r/x/comments/orig"
	candidate := &media.Asset{
		OwnerID:     h.owner,
		StorageKey:  "media/elsewhere.mp4",
		MediaType:   "video/mp4",
		ContentHash: "other",
		HasAudio:    true,
		SourceURL:   &src,
		FrameHashes: frames(15, "00000000000000ff"),
	}
	require.NoError(t, h.repo.Create(context.Background(), candidate))

	content := []byte("quicktime bytes")
	a := h.stored(t, content, "video/quicktime", "clip.mov", "stale")

	tool := &fakeTool{
		probe:     &ffmpeg.ProbeResult{Width: 1280, Height: 720, Duration: 15, VideoStreams: 1},
		thumbFrom: 500 * time.Millisecond,
	}
	fp := fakeExtractor{res: &fingerprint.Result{DurationMS: 15000, FrameHashes: frames(15, "00000000000000fe")}}

	require.NoError(t, h.pipeline(tool, fp).Run(context.Background(), a.ID, h.owner))

	got := h.reload(t, a.ID)
	want, err := contenthash.HashReader(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, want.Combined, got.ContentHash)
	require.Equal(t, 1280, *got.Width)
	require.Equal(t, 720, *got.Height)
	require.Equal(t, int64(15000), *got.DurationMS)
	require.False(t, got.HasAudio)
	require.Len(t, got.FrameHashes, 15)

	require.NotNil(t, got.ThumbnailKey)
	require.Equal(t, blob.ThumbnailKey(h.owner.String(), a.ID.String()), *got.ThumbnailKey)
	_, _, err = h.store.Open(context.Background(), *got.ThumbnailKey)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, tool.offsets)

	require.Equal(t, media.TranscodeReady, got.TranscodeStatus)
	require.NotNil(t, got.DerivedKey)
	_, _, err = h.store.Open(context.Background(), *got.DerivedKey)
	require.NoError(t, err)

	events := h.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, h.owner, events[0].UserID)
	require.Equal(t, "audio variant found", events[0].Message)
	require.Equal(t, candidate.ID.String(), events[0].Metadata["match_asset_id"])
	require.Equal(t, src, events[0].Metadata["source_url"])

	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_StepFailuresDegrade(t *testing.T) {
	h := newHarness(t)
	a := h.stored(t, []byte("mkv bytes"), "video/x-matroska", "clip.mkv", "h1")

	tool := &fakeTool{
		probeErr:  errors.New("ffprobe missing"),
		thumbFrom: -1,
		transErr:  errors.New("encoder crashed"),
	}
	fp := fakeExtractor{err: fingerprint.ErrUnavailable}

	require.NoError(t, h.pipeline(tool, fp).Run(context.Background(), a.ID, h.owner))

	got := h.reload(t, a.ID)
	require.Nil(t, got.ThumbnailKey)
	require.Nil(t, got.Width)
	require.Equal(t, media.TranscodeFailed, got.TranscodeStatus)
	require.Nil(t, got.DerivedKey)
	require.Empty(t, got.FrameHashes)
	require.Len(t, tool.offsets, len(ThumbnailOffsets))
	require.Empty(t, h.recorder.Events())
}

func TestRun_RecomputedHashCollisionKeepsStoredHash(t *testing.T) {
	h := newHarness(t)
	content := []byte("same bytes")
	d, err := contenthash.HashReader(bytes.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, h.repo.Create(context.Background(), &media.Asset{OwnerID: h.owner, StorageKey: "media/x", ContentHash: d.Combined}))
	a := h.stored(t, content, "video/mp4", "clip.mp4", "prehash")

	tool := &fakeTool{probe: &ffmpeg.ProbeResult{VideoStreams: 1}}
	require.NoError(t, h.pipeline(tool, nil).Run(context.Background(), a.ID, h.owner))

	require.Equal(t, "prehash", h.reload(t, a.ID).ContentHash)
}

func TestRun_SniffsOctetStreamImage(t *testing.T) {
	h := newHarness(t)
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	a := h.stored(t, buf.Bytes(), "application/octet-stream", "upload.bin", "h")
	tool := &fakeTool{probeErr: errors.New("must not probe stills")}

	require.NoError(t, h.pipeline(tool, nil).Run(context.Background(), a.ID, h.owner))

	got := h.reload(t, a.ID)
	require.Equal(t, "image/png", got.MediaType)
	require.Equal(t, 32, *got.Width)
	require.Equal(t, 24, *got.Height)
	require.NotNil(t, got.ThumbnailKey)
	require.Empty(t, tool.offsets)
	require.False(t, tool.transcoded)
}

func TestRun_SingleFlightPerAsset(t *testing.T) {
	h := newHarness(t)
	a := h.stored(t, []byte("mp4 bytes"), "video/mp4", "clip.mp4", "h")

	gate := make(chan struct{})
	tool := &fakeTool{
		probe:     &ffmpeg.ProbeResult{VideoStreams: 1},
		probeGate: gate,
		probing:   make(chan struct{}, 1),
	}
	p := h.pipeline(tool, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), a.ID, h.owner) }()
	<-tool.probing

	require.ErrorIs(t, p.Run(context.Background(), a.ID, h.owner), ErrAlreadyRunning)

	close(gate)
	require.NoError(t, <-done)
}

func TestTrigger_RunsDetached(t *testing.T) {
	h := newHarness(t)
	a := h.stored(t, []byte("mp4 bytes"), "video/mp4", "clip.mp4", "h")
	tool := &fakeTool{probe: &ffmpeg.ProbeResult{Width: 640, Height: 360, VideoStreams: 1, AudioStreams: 1}}
	p := h.pipeline(tool, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Trigger(ctx, a.ID, h.owner)
	cancel()
	p.Wait()

	got := h.reload(t, a.ID)
	require.Equal(t, 640, *got.Width)
	require.True(t, got.HasAudio)
}

func TestRun_MissingAsset(t *testing.T) {
	h := newHarness(t)
	err := h.pipeline(&fakeTool{}, nil).Run(context.Background(), uuid.New(), h.owner)
	require.ErrorIs(t, err, media.ErrNotFound)
}
