package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/config"
	"thirdcoast.systems/reel/internal/db"
	"thirdcoast.systems/reel/internal/derive"
	"thirdcoast.systems/reel/internal/fetch"
	"thirdcoast.systems/reel/internal/fingerprint"
	"thirdcoast.systems/reel/internal/ingest"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/internal/notify"
	"thirdcoast.systems/reel/internal/resolve"
	"thirdcoast.systems/reel/internal/similarity"
	"thirdcoast.systems/reel/pkg/ytdlp"
)

type services struct {
	repo     media.Repository
	store    blob.Store
	engine   *ingest.Engine
	pipeline *derive.Pipeline
}

func buildServices(ctx context.Context, conf *config.Config, dbc *db.DatabaseConnection) (*services, error) {
	repo := db.NewAssetRepository(dbc)

	store, err := newBlobStore(ctx, conf.Blob)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(
		fetch.WithTimeout(conf.Fetch.Timeout),
		fetch.WithMaxRetries(conf.Fetch.MaxRetries),
		fetch.WithBackoffBase(conf.Fetch.BackoffBase),
		fetch.WithLimiter(fetch.NewHostLimiter(conf.Fetch.HostLimit, nil)),
	)

	resolveOpts := resolve.Options{
		Deadline: conf.Resolve.Deadline,
		Grace:    conf.Resolve.Grace,
	}
	if conf.Resolve.YtdlpPath != "" {
		yt := ytdlp.New(conf.Resolve.YtdlpPath)
		if v, err := yt.Version(ctx); err != nil {
			slog.Warn("yt-dlp not usable, extractor fallback disabled", "path", conf.Resolve.YtdlpPath, "error", err)
		} else {
			slog.Info("Using yt-dlp extractor", "version", v)
			resolveOpts.Extractor = yt
		}
	}
	resolver := resolve.New(fetcher, resolveOpts)

	var fp fingerprint.Extractor
	if conf.Fingerprint.ServiceURL != "" {
		fp = fingerprint.NewRemote(conf.Fingerprint.ServiceURL, &http.Client{Timeout: 5 * time.Minute})
	} else {
		fp = fingerprint.NewLocal(conf.SpoolDir, conf.Fingerprint.FpcalcPath, nil)
	}

	matcher := similarity.NewMatcher(repo, similarity.Policy{
		ShortThreshold:   conf.Match.ShortThreshold,
		LongThreshold:    conf.Match.LongThreshold,
		ShortFrames:      conf.Match.ShortFrames,
		DurationMarginMS: conf.Match.DurationMarginMS,
	}, nil)

	notifiers := notify.Multi{notify.NewLogNotifier(nil)}
	if conf.NotifyWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(conf.NotifyWebhookURL, nil, nil))
	}

	pipeline := derive.NewPipeline(repo, store, nil, fp, matcher, notifiers, derive.Options{
		Workers:    conf.DeriveWorkers,
		ScratchDir: conf.SpoolDir,
	})

	engine := ingest.NewEngine(repo, store, resolver, fetcher, pipeline, notifiers, ingest.Options{
		Workers:   conf.IngestWorkers,
		SpoolDir:  conf.SpoolDir,
		Retention: conf.JobRetention,
	})

	return &services{repo: repo, store: store, engine: engine, pipeline: pipeline}, nil
}

func newBlobStore(ctx context.Context, conf config.BlobConfig) (blob.Store, error) {
	switch conf.Backend {
	case "s3":
		s, err := blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:  conf.S3Endpoint,
			Region:    conf.S3Region,
			Bucket:    conf.S3Bucket,
			AccessKey: conf.S3AccessKey,
			SecretKey: conf.S3SecretKey,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		slog.Info("Using S3 blob store", "bucket", conf.S3Bucket, "endpoint", conf.S3Endpoint)
		return s, nil
	default:
		s, err := blob.NewLocalStore(conf.LocalDir, conf.PublicURL, conf.SigningKey, nil)
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		slog.Info("Using local blob store", "dir", conf.LocalDir)
		return s, nil
	}
}
