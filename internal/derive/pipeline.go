// Package derive produces the artifacts of a stored asset after its primary
// save: reconciled hash and type, probe facts, thumbnail, compatibility
// transcode, fingerprint and the variant-match notification.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/contenthash"
	"thirdcoast.systems/reel/internal/fingerprint"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/internal/notify"
	"thirdcoast.systems/reel/internal/similarity"
)

var ErrAlreadyRunning = errors.New("derivative pipeline already running for asset")

// Capture points for video thumbnails, tried in order until one yields a
// non-empty image.
var ThumbnailOffsets = []time.Duration{time.Second, 500 * time.Millisecond, 0}

const (
	thumbnailSize = 640
	octetStream   = "application/octet-stream"
)

type Options struct {
	Workers    int
	ScratchDir string
	Logger     *slog.Logger
}

type Pipeline struct {
	repo        media.Repository
	store       blob.Store
	tool        MediaTool
	fingerprint fingerprint.Extractor
	matcher     *similarity.Matcher
	notifier    notify.Notifier

	scratchDir string
	sem        *semaphore.Weighted
	logger     *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

func NewPipeline(
	repo media.Repository,
	store blob.Store,
	tool MediaTool,
	fp fingerprint.Extractor,
	matcher *similarity.Matcher,
	notifier notify.Notifier,
	opts Options,
) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With(slog.String("component", "derive"))
	}
	if tool == nil {
		tool = FFmpegTool{ThumbnailWidth: thumbnailSize}
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Pipeline{
		repo:        repo,
		store:       store,
		tool:        tool,
		fingerprint: fp,
		matcher:     matcher,
		notifier:    notifier,
		scratchDir:  opts.ScratchDir,
		sem:         semaphore.NewWeighted(int64(opts.Workers)),
		logger:      opts.Logger,
		running:     map[uuid.UUID]struct{}{},
	}
}

// Trigger starts the pipeline in the background. The run outlives ctx's
// cancellation but keeps its values.
func (p *Pipeline) Trigger(ctx context.Context, assetID, ownerID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(ctx, assetID, ownerID); err != nil {
			p.logger.Warn("Derivative pipeline failed", "asset_id", assetID, "error", err)
		}
	}()
}

// Wait blocks until every triggered run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Run processes one asset synchronously. Step failures are logged and the
// remaining steps still run; only a missing asset or unreadable blob fails
// the run.
func (p *Pipeline) Run(ctx context.Context, assetID, ownerID uuid.UUID) error {
	if !p.claim(assetID) {
		return ErrAlreadyRunning
	}
	defer p.release(assetID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	start := time.Now()
	logger := p.logger.With("asset_id", assetID)

	a, err := p.repo.FindByID(ctx, assetID, ownerID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	scratch, err := os.MkdirTemp(p.scratchDir, "derive-*")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	local := filepath.Join(scratch, "source"+filepath.Ext(a.StorageKey))
	size, err := blob.DownloadToFile(ctx, p.store, a.StorageKey, local)
	if err != nil {
		return fmt.Errorf("fetch primary blob: %w", err)
	}

	p.reprocess(ctx, logger, a, local)
	p.save(ctx, logger, a)

	if media.NeedsTranscode(a.MediaType, a.OriginalFilename) {
		p.transcode(ctx, logger, a, local, scratch)
	}

	p.extractFingerprint(ctx, logger, a, local)
	p.save(ctx, logger, a)

	p.match(ctx, logger, a)

	logger.Info("Derivatives complete",
		"media_type", a.MediaType,
		"size", humanize.Bytes(uint64(size)),
		"frames", len(a.FrameHashes),
		"transcode", a.TranscodeStatus,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (p *Pipeline) claim(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.running[id]; busy {
		return false
	}
	p.running[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

// reprocess reconciles hash and type, probes dimensions and audio, and
// produces the thumbnail.
func (p *Pipeline) reprocess(ctx context.Context, logger *slog.Logger, a *media.Asset, local string) {
	if digest, err := contenthash.QuickHash(local); err != nil {
		logger.Warn("Rehash failed", "error", err)
	} else {
		p.reconcileHash(ctx, logger, a, digest)
	}

	if mt := media.NormalizeType(a.MediaType); mt == "" || mt == octetStream {
		if sniffed, err := mimetype.DetectFile(local); err == nil {
			a.MediaType = media.NormalizeType(sniffed.String())
			logger.Debug("Sniffed media type", "media_type", a.MediaType)
		} else {
			logger.Warn("MIME sniff failed", "error", err)
		}
	}

	thumb := filepath.Join(filepath.Dir(local), "thumb.jpg")
	var produced bool
	if media.IsStillImage(a.MediaType) {
		produced = p.stillThumbnail(logger, a, local, thumb)
	} else if media.IsVideo(a.MediaType) || media.IsGIF(a.MediaType) {
		if probe, err := p.tool.Probe(ctx, local); err != nil {
			logger.Warn("Probe failed", "error", err)
		} else {
			if probe.Width > 0 && probe.Height > 0 {
				w, h := probe.Width, probe.Height
				a.Width, a.Height = &w, &h
			}
			if ms := probe.DurationMS(); ms > 0 {
				a.DurationMS = &ms
			}
			a.HasAudio = probe.HasAudio()
		}
		produced = p.videoThumbnail(ctx, logger, local, thumb)
	}

	if !produced {
		return
	}
	key := blob.ThumbnailKey(a.OwnerID.String(), a.ID.String())
	if _, err := p.store.Upload(ctx, thumb, key, "image/jpeg", nil); err != nil {
		logger.Warn("Thumbnail upload failed", "error", err)
		return
	}
	a.ThumbnailKey = &key
}

// reconcileHash adopts the recomputed hash unless another asset of the owner
// already holds it.
func (p *Pipeline) reconcileHash(ctx context.Context, logger *slog.Logger, a *media.Asset, d contenthash.Digest) {
	a.Size = d.Size
	if d.Combined == a.ContentHash {
		return
	}
	existing, err := p.repo.FindByHash(ctx, a.OwnerID, d.Combined)
	switch {
	case err == nil && existing.ID != a.ID:
		logger.Warn("Recomputed hash belongs to another asset; keeping stored hash",
			"other_asset_id", existing.ID, "hash", d.Combined)
		return
	case err != nil && !errors.Is(err, media.ErrNotFound):
		logger.Warn("Hash lookup failed", "error", err)
		return
	}
	logger.Info("Content hash updated", "old", a.ContentHash, "new", d.Combined)
	a.ContentHash = d.Combined
}

func (p *Pipeline) stillThumbnail(logger *slog.Logger, a *media.Asset, local, out string) bool {
	img, err := imaging.Open(local, imaging.AutoOrientation(true))
	if err != nil {
		logger.Warn("Image decode failed", "error", err)
		return false
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	a.Width, a.Height = &w, &h

	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, out, imaging.JPEGQuality(80)); err != nil {
		logger.Warn("Thumbnail encode failed", "error", err)
		return false
	}
	return true
}

func (p *Pipeline) videoThumbnail(ctx context.Context, logger *slog.Logger, local, out string) bool {
	for _, off := range ThumbnailOffsets {
		_ = os.Remove(out)
		if err := p.tool.Thumbnail(ctx, local, out, off); err != nil {
			logger.Debug("Thumbnail capture failed", "offset", off, "error", err)
			continue
		}
		if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
			return true
		}
	}
	logger.Warn("No thumbnail produced")
	return false
}

func (p *Pipeline) transcode(ctx context.Context, logger *slog.Logger, a *media.Asset, local, scratch string) {
	a.TranscodeStatus = media.TranscodeProcessing
	p.save(ctx, logger, a)

	out := filepath.Join(scratch, "derived.mp4")
	if err := p.tool.Transcode(ctx, local, out, a.HasAudio); err != nil {
		logger.Warn("Transcode failed", "error", err)
		a.TranscodeStatus = media.TranscodeFailed
		p.save(ctx, logger, a)
		return
	}

	key := blob.DerivedKey(a.OwnerID.String(), a.ID.String(), ".mp4")
	if _, err := p.store.Upload(ctx, out, key, "video/mp4", nil); err != nil {
		logger.Warn("Derived upload failed", "error", err)
		a.TranscodeStatus = media.TranscodeFailed
		p.save(ctx, logger, a)
		return
	}
	a.DerivedKey = &key
	a.TranscodeStatus = media.TranscodeReady
	p.save(ctx, logger, a)
}

// extractFingerprint fills duration, frame hashes and audio fingerprint. An
// unavailable extractor leaves the asset without frames or fingerprint.
func (p *Pipeline) extractFingerprint(ctx context.Context, logger *slog.Logger, a *media.Asset, local string) {
	if p.fingerprint == nil {
		return
	}
	res, err := p.fingerprint.Extract(ctx, local, a.MediaType)
	if err != nil {
		if errors.Is(err, fingerprint.ErrUnavailable) {
			logger.Info("Fingerprint unavailable", "error", err)
		} else {
			logger.Warn("Fingerprint failed", "error", err)
		}
		a.FrameHashes = nil
		a.AudioFingerprint = nil
		return
	}

	if res.DurationMS > 0 {
		d := res.DurationMS
		a.DurationMS = &d
	}
	a.FrameHashes = res.FrameHashes
	if res.AudioFingerprint != "" {
		fp := res.AudioFingerprint
		a.AudioFingerprint = &fp
	} else {
		a.AudioFingerprint = nil
	}
	a.HasAudio = a.HasAudio || res.HasAudio
}

func (p *Pipeline) match(ctx context.Context, logger *slog.Logger, a *media.Asset) {
	if p.matcher == nil || len(a.FrameHashes) == 0 {
		return
	}
	m, err := p.matcher.FindMatch(ctx, a)
	if err != nil {
		logger.Warn("Similarity scan failed", "error", err)
		return
	}
	if m == nil {
		return
	}

	meta := map[string]any{
		"asset_id":       a.ID.String(),
		"match_asset_id": m.AssetID.String(),
		"reason":         string(m.Reason),
		"score":          m.Score,
	}
	if m.SourceURL != nil {
		meta["source_url"] = *m.SourceURL
	}
	logger.Info("Potential variant match", "match_asset_id", m.AssetID, "reason", m.Reason, "score", m.Score)
	p.notifier.Notify(ctx, a.OwnerID, strings.ReplaceAll(string(m.Reason), "-", " "), meta)
}

// save persists a. If the write races another asset for the same hash the
// stored hash is restored and the write retried once.
func (p *Pipeline) save(ctx context.Context, logger *slog.Logger, a *media.Asset) {
	err := p.repo.Update(ctx, a)
	if errors.Is(err, media.ErrDuplicateHash) {
		stored, ferr := p.repo.FindByID(ctx, a.ID, a.OwnerID)
		if ferr != nil {
			logger.Warn("Asset update failed", "error", err)
			return
		}
		a.ContentHash = stored.ContentHash
		err = p.repo.Update(ctx, a)
	}
	if err != nil {
		logger.Warn("Asset update failed", "error", err)
	}
}
