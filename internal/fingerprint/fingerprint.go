// Package fingerprint extracts the perceptual identity of a media file: its
// duration, a per-second sequence of dHash frame hashes and, when the file has
// sound, a Chromaprint audio fingerprint.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"
)

// ErrUnavailable means no fingerprint could be produced for this file. The
// caller records the asset without frame hashes or audio fingerprint.
var ErrUnavailable = errors.New("fingerprint unavailable")

type Result struct {
	DurationMS int64 `json:"duration_ms"`
	// FrameHashes holds one 16-digit hex dHash per sampled second, in order.
	FrameHashes      []string `json:"frame_hashes"`
	AudioFingerprint string   `json:"audio_fingerprint,omitempty"`
	HasAudio         bool     `json:"has_audio"`
}

// Extractor produces a Result for a local file.
type Extractor interface {
	Extract(ctx context.Context, path, mediaType string) (*Result, error)
}

// HashImage returns the dHash of img as 16 lowercase hex digits.
func HashImage(img image.Image) (string, error) {
	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("dhash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}
