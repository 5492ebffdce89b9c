package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"

	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/pkg/ffmpeg"
)

// Local fingerprints files with ffprobe/ffmpeg for frames and fpcalc for
// audio.
type Local struct {
	scratchDir string
	fpcalcPath string
	logger     *slog.Logger

	probe    func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	frames   func(ctx context.Context, input, outDir string) ([]string, error)
	audioFpr func(ctx context.Context, path string) (string, error)
}

func NewLocal(scratchDir, fpcalcPath string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "fingerprint"))
	}
	l := &Local{
		scratchDir: scratchDir,
		fpcalcPath: fpcalcPath,
		logger:     logger,
		probe:      ffmpeg.Probe,
		frames: func(ctx context.Context, input, outDir string) ([]string, error) {
			return ffmpeg.ExtractFrames(ctx, input, outDir, 1, 160)
		},
	}
	l.audioFpr = l.fpcalc
	return l
}

func (l *Local) Extract(ctx context.Context, path, mediaType string) (*Result, error) {
	if media.IsStillImage(mediaType) {
		h, err := hashFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &Result{FrameHashes: []string{h}}, nil
	}

	probe, err := l.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: probe: %v", ErrUnavailable, err)
	}

	res := &Result{
		DurationMS: probe.DurationMS(),
		HasAudio:   probe.HasAudio(),
	}

	if probe.VideoStreams > 0 {
		hashes, err := l.frameHashes(ctx, path)
		if err != nil {
			l.logger.Warn("Frame hashing failed", "path", path, "error", err)
		} else {
			res.FrameHashes = hashes
		}
	}

	if res.HasAudio && l.audioFpr != nil {
		fp, err := l.audioFpr(ctx, path)
		if err != nil {
			l.logger.Warn("Audio fingerprint failed", "path", path, "error", err)
		} else {
			res.AudioFingerprint = fp
		}
	}

	return res, nil
}

// frameHashes samples one frame per second. Either every sample hashes or
// none are returned, so the sequence length always equals the sample count.
func (l *Local) frameHashes(ctx context.Context, path string) ([]string, error) {
	dir, err := os.MkdirTemp(l.scratchDir, "frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	frames, err := l.frames(ctx, path, dir)
	if err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames sampled")
	}

	hashes := make([]string, 0, len(frames))
	for _, f := range frames {
		h, err := hashFile(f)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func hashFile(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	return HashImage(img)
}

type fpcalcOutput struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

func (l *Local) fpcalc(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(l.fpcalcPath) == "" {
		return "", fmt.Errorf("fpcalc not configured")
	}

	cmd := exec.CommandContext(ctx, l.fpcalcPath, "-json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("fpcalc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseFpcalc(stdout.Bytes())
}

func parseFpcalc(raw []byte) (string, error) {
	var out fpcalcOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("fpcalc: parse output: %w", err)
	}
	if out.Fingerprint == "" {
		return "", fmt.Errorf("fpcalc: empty fingerprint")
	}
	return out.Fingerprint, nil
}
