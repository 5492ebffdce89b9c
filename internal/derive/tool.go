package derive

import (
	"context"
	"time"

	"thirdcoast.systems/reel/pkg/ffmpeg"
)

// MediaTool is the external media utility the pipeline shells out to.
type MediaTool interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	// Thumbnail writes a JPEG of the frame at offset.
	Thumbnail(ctx context.Context, input, output string, offset time.Duration) error
	// Transcode re-encodes input into a browser-compatible mp4.
	Transcode(ctx context.Context, input, output string, withAudio bool) error
}

// FFmpegTool runs ffprobe and ffmpeg from PATH.
type FFmpegTool struct {
	ThumbnailWidth int
}

func (FFmpegTool) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	return ffmpeg.Probe(ctx, path)
}

func (t FFmpegTool) Thumbnail(ctx context.Context, input, output string, offset time.Duration) error {
	return ffmpeg.ExtractThumbnail(ctx, input, output, offset, &ffmpeg.ThumbnailOptions{MaxWidth: t.ThumbnailWidth})
}

func (FFmpegTool) Transcode(ctx context.Context, input, output string, withAudio bool) error {
	return ffmpeg.TranscodeMP4(ctx, input, output, withAudio)
}
