// Package ingest drives URL ingest jobs and direct uploads from a source to a
// stored, deduplicated asset, then hands the asset to the derivative pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/contenthash"
	"thirdcoast.systems/reel/internal/fetch"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/internal/notify"
	"thirdcoast.systems/reel/internal/resolve"
	"thirdcoast.systems/reel/pkg/utils/filename"
)

var (
	ErrJobNotFound   = errors.New("ingest job not found")
	ErrInvalidURL    = errors.New("invalid source url")
	ErrEmptyDownload = errors.New("downloaded file is empty")
)

const (
	DefaultWorkers   = 4
	DefaultRetention = time.Hour

	octetStream = "application/octet-stream"
)

// Resolver turns a page URL into a direct media URL. It never fails; an
// unresolvable input comes back unchanged.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) string
}

// Deriver starts background derivative work for a freshly saved asset.
type Deriver interface {
	Trigger(ctx context.Context, assetID, ownerID uuid.UUID)
}

type Options struct {
	Workers   int
	SpoolDir  string
	Retention time.Duration
	Logger    *slog.Logger
}

type Engine struct {
	repo     media.Repository
	store    blob.Store
	resolver Resolver
	fetcher  *fetch.Fetcher
	deriver  Deriver
	notifier notify.Notifier
	checker  *contenthash.Checker

	spoolDir  string
	retention time.Duration
	sem       *semaphore.Weighted
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job
	wg   sync.WaitGroup
}

func NewEngine(
	repo media.Repository,
	store blob.Store,
	resolver Resolver,
	fetcher *fetch.Fetcher,
	deriver Deriver,
	notifier notify.Notifier,
	opts Options,
) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With(slog.String("component", "ingest"))
	}
	if fetcher == nil {
		fetcher = fetch.New()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Engine{
		repo:      repo,
		store:     store,
		resolver:  resolver,
		fetcher:   fetcher,
		deriver:   deriver,
		notifier:  notifier,
		checker:   contenthash.NewChecker(repo),
		spoolDir:  opts.SpoolDir,
		retention: opts.Retention,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		logger:    opts.Logger,
		now:       time.Now,
		jobs:      make(map[uuid.UUID]*job),
	}
}

// Start registers a job for rawURL and drives it in the background. The
// returned id is what Status expects.
func (e *Engine) Start(ctx context.Context, userID uuid.UUID, rawURL string) (uuid.UUID, error) {
	rawURL = strings.TrimSpace(rawURL)
	normalized, _, err := resolve.NormalizeSourceURL(rawURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	j := newJob(userID, normalized, e.now)
	id := j.snap.ID
	e.mu.Lock()
	e.jobs[id] = j
	e.mu.Unlock()

	if err := j.advance(StateResolving); err != nil {
		return uuid.Nil, err
	}

	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, j, rawURL)
	}()

	e.logger.Info("Ingest job started", "job_id", id, "user_id", userID, "url", normalized)
	return id, nil
}

// Status returns the job snapshot. Jobs of other users are reported as not
// found.
func (e *Engine) Status(jobID, userID uuid.UUID) (Snapshot, error) {
	e.mu.RLock()
	j, ok := e.jobs[jobID]
	e.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	s := j.snapshot()
	if s.UserID != userID {
		return Snapshot{}, ErrJobNotFound
	}
	return s, nil
}

// Wait blocks until every started job and its background work finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Prune drops terminal jobs older than the retention window and returns how
// many were removed.
func (e *Engine) Prune() int {
	cutoff := e.now().Add(-e.retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, j := range e.jobs {
		if j.finishedBefore(cutoff) {
			delete(e.jobs, id)
			n++
		}
	}
	return n
}

// RunPruner calls Prune every interval until ctx is done.
func (e *Engine) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Prune(); n > 0 {
				e.logger.Debug("Pruned ingest jobs", "count", n)
			}
		}
	}
}

func (e *Engine) run(ctx context.Context, j *job, rawURL string) {
	logger := e.logger.With("job_id", j.snap.ID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.failJob(ctx, logger, j, err)
		return
	}
	defer e.sem.Release(1)

	if err := e.process(ctx, logger, j, rawURL); err != nil {
		e.failJob(ctx, logger, j, err)
	}
}

func (e *Engine) failJob(ctx context.Context, logger *slog.Logger, j *job, err error) {
	var dup *contenthash.DuplicateError
	if errors.As(err, &dup) {
		j.update(func(s *Snapshot) { s.ExistingAssetID = &dup.ExistingID })
	}
	if !j.fail(err) {
		return
	}
	s := j.snapshot()
	logger.Warn("Ingest job failed", "state_history", s.History, "error", err)
	e.notifier.Notify(ctx, s.UserID, "download failed", map[string]any{
		"job_id":     s.ID.String(),
		"source_url": s.SourceURL,
		"error":      s.Error,
	})
}

func (e *Engine) process(ctx context.Context, logger *slog.Logger, j *job, rawURL string) error {
	resolved := e.resolver.Resolve(ctx, rawURL)
	j.update(func(s *Snapshot) { s.ResolvedURL = resolved })

	resp, err := e.fetcher.Get(ctx, resolved, nil)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download: unexpected status %d from %s", resp.StatusCode, resolved)
	}
	if resp.ContentLength > 0 {
		j.setTotal(resp.ContentLength)
	}
	finalURL := resolved
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	j.update(func(s *Snapshot) { s.FinalURL = finalURL })
	if err := j.advance(StateDownloading); err != nil {
		return err
	}

	scratch, err := os.MkdirTemp(e.spoolDir, "ingest-*")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	local := filepath.Join(scratch, "download")
	n, err := writeBody(local, resp.Body, j.setDownloaded)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if n == 0 {
		return ErrEmptyDownload
	}
	j.setTotal(n)
	resp.Body.Close()

	mediaType := detectType(resp.Header.Get("Content-Type"), finalURL, local)
	j.update(func(s *Snapshot) { s.MediaType = mediaType })

	digest, err := contenthash.QuickHash(local)
	if err != nil {
		return fmt.Errorf("hash download: %w", err)
	}
	if err := e.checker.CheckDuplicate(ctx, j.snap.UserID, digest.Combined); err != nil {
		return err
	}

	if err := j.advance(StateUploading); err != nil {
		return err
	}
	s := j.snapshot()
	ext := extensionFor(mediaType, finalURL)
	a := &media.Asset{
		ID:               uuid.New(),
		OwnerID:          s.UserID,
		OriginalFilename: filename.FromURL(finalURL, "download", ext),
		MediaType:        mediaType,
		Size:             digest.Size,
		ContentHash:      digest.Combined,
		SourceURL:        &s.SourceURL,
	}
	a.StorageKey = blob.MediaKey(a.OwnerID.String(), a.ID.String(), ext)
	if _, err := e.store.Upload(ctx, local, a.StorageKey, mediaType, j.setUploaded); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	j.setUploaded(digest.Size)

	if err := j.advance(StateSaving); err != nil {
		return err
	}
	if err := e.save(ctx, a); err != nil {
		return err
	}
	j.update(func(s *Snapshot) { s.AssetID = &a.ID })
	if err := j.advance(StateDone); err != nil {
		return err
	}

	logger.Info("Ingest job complete",
		"asset_id", a.ID,
		"media_type", mediaType,
		"size", humanize.Bytes(uint64(digest.Size)),
	)
	e.trigger(ctx, a)
	return nil
}

// save creates the asset record. When the create fails the just-uploaded
// blob is removed; a lost duplicate race reports the winning asset.
func (e *Engine) save(ctx context.Context, a *media.Asset) error {
	err := e.repo.Create(ctx, a)
	if err == nil {
		return nil
	}
	if derr := e.store.Delete(ctx, a.StorageKey); derr != nil {
		e.logger.Warn("Orphan blob cleanup failed", "key", a.StorageKey, "error", derr)
	}
	if errors.Is(err, media.ErrDuplicateHash) {
		existing, lerr := e.checker.Lookup(ctx, a.OwnerID, a.ContentHash)
		if lerr == nil && existing != uuid.Nil {
			return &contenthash.DuplicateError{ExistingID: existing}
		}
	}
	return fmt.Errorf("save asset: %w", err)
}

func (e *Engine) trigger(ctx context.Context, a *media.Asset) {
	if e.deriver == nil {
		return
	}
	e.deriver.Trigger(ctx, a.ID, a.OwnerID)
}

// UploadRequest describes a file already on local disk. The caller owns
// LocalPath and removes it afterwards.
type UploadRequest struct {
	OwnerID   uuid.UUID
	LocalPath string
	Filename  string
	MediaType string
	SourceURL string
	Tags      string
}

// Upload stores a local file as a new asset. A *contenthash.DuplicateError is
// returned when the owner already stores the same content.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*media.Asset, error) {
	digest, err := contenthash.QuickHash(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("hash upload: %w", err)
	}
	if digest.Size == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	if err := e.checker.CheckDuplicate(ctx, req.OwnerID, digest.Combined); err != nil {
		return nil, err
	}

	name := filename.Sanitize(req.Filename, 0)
	mediaType := detectType(req.MediaType, name, req.LocalPath)
	ext := extensionFor(mediaType, name)
	if name == "" {
		name = "upload" + ext
	}

	a := &media.Asset{
		ID:               uuid.New(),
		OwnerID:          req.OwnerID,
		OriginalFilename: name,
		MediaType:        mediaType,
		Size:             digest.Size,
		ContentHash:      digest.Combined,
	}
	if req.SourceURL != "" {
		src := req.SourceURL
		if normalized, _, err := resolve.NormalizeSourceURL(src); err == nil {
			src = normalized
		}
		a.SourceURL = &src
	}
	if tags := strings.TrimSpace(req.Tags); tags != "" {
		a.Tags = &tags
	}
	a.StorageKey = blob.MediaKey(a.OwnerID.String(), a.ID.String(), ext)

	if _, err := e.store.Upload(ctx, req.LocalPath, a.StorageKey, mediaType, nil); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := e.save(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("Upload stored",
		"asset_id", a.ID,
		"media_type", mediaType,
		"size", humanize.Bytes(uint64(digest.Size)),
	)
	e.trigger(context.WithoutCancel(ctx), a)
	return a, nil
}

// CheckHash returns the id of the owner's asset with the combined hash, or
// uuid.Nil when there is none.
func (e *Engine) CheckHash(ctx context.Context, ownerID uuid.UUID, hash string) (uuid.UUID, error) {
	return e.checker.Lookup(ctx, ownerID, strings.ToLower(strings.TrimSpace(hash)))
}

func writeBody(dst string, body io.Reader, progress func(int64)) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, &countingReader{r: body, fn: progress})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

type countingReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.fn(c.n)
	}
	return n, err
}

// detectType prefers a declared media or image type, then the name's
// extension, then magic bytes.
func detectType(declared, name, local string) string {
	mt := media.NormalizeType(declared)
	if strings.HasPrefix(mt, "video/") || strings.HasPrefix(mt, "image/") {
		return mt
	}
	if byExt := media.TypeForExtension(urlPath(name)); byExt != "" {
		return byExt
	}
	if sniffed, err := mimetype.DetectFile(local); err == nil {
		return media.NormalizeType(sniffed.String())
	}
	if mt != "" {
		return mt
	}
	return octetStream
}

func extensionFor(mediaType, name string) string {
	if ext := media.ExtensionFor(mediaType); ext != "" {
		return ext
	}
	if ext := strings.ToLower(path.Ext(urlPath(name))); ext != "" && len(ext) <= 6 {
		return ext
	}
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension()
	}
	return ".bin"
}

// urlPath returns the path of name when it parses as a URL.
func urlPath(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		return u.Path
	}
	return name
}
