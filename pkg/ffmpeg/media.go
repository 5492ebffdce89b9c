package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ThumbnailOptions configures single-frame extraction.
type ThumbnailOptions struct {
	MaxWidth int // default 640
	Quality  int // JPEG -q:v, default 4
}

// ExtractThumbnail writes the frame at offset to output. Zero is a valid
// offset and means the first frame.
func ExtractThumbnail(ctx context.Context, input, output string, offset time.Duration, opts *ThumbnailOptions) error {
	if opts == nil {
		opts = &ThumbnailOptions{}
	}
	if opts.MaxWidth == 0 {
		opts.MaxWidth = 640
	}
	if opts.Quality == 0 {
		opts.Quality = 4
	}

	var seek []Option
	if offset > 0 {
		seek = append(seek, Seek(offset))
	}

	return Run(ctx, input, output, Flatten(seek, []Option{
		ScaleWidth(opts.MaxWidth),
		Frames(1),
		Quality(opts.Quality),
	})...)
}

// ExtractFrames samples the input at rate frames per second into outDir as
// numbered PNGs and returns their paths in sample order.
func ExtractFrames(ctx context.Context, input, outDir string, rate float64, maxWidth int) ([]string, error) {
	if rate <= 0 {
		rate = 1
	}
	if maxWidth <= 0 {
		maxWidth = 320
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	pattern := filepath.Join(outDir, "frame_%06d.png")
	if err := Run(ctx, input, pattern, FPS(rate), ScaleWidth(maxWidth), NoAudio); err != nil {
		return nil, err
	}

	frames, err := filepath.Glob(filepath.Join(outDir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	// zero-padded names sort in sample order
	sort.Strings(frames)
	return frames, nil
}

// TranscodeMP4 re-encodes input to a browser-compatible h264/AAC mp4. Inputs
// without audio stay silent.
func TranscodeMP4(ctx context.Context, input, output string, withAudio bool) error {
	audio := []Option{NoAudio}
	if withAudio {
		audio = PresetAAC()
	}
	if err := Run(ctx, input, output, Flatten(PresetWebH264(), audio)...); err != nil {
		_ = os.Remove(output)
		return err
	}
	return nil
}
