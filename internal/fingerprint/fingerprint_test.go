package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reel/pkg/ffmpeg"
)

// gradient draws a horizontal ramp; reversed flips its direction.
func gradient(reversed bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		v := uint8(x * 4)
		if reversed {
			v = 255 - v
		}
		for y := 0; y < 64; y++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func savePNG(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, imaging.Save(img, path))
}

func TestHashImage(t *testing.T) {
	a1, err := HashImage(gradient(false))
	require.NoError(t, err)
	a2, err := HashImage(gradient(false))
	require.NoError(t, err)
	b, err := HashImage(gradient(true))
	require.NoError(t, err)

	require.Len(t, a1, 16)
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
}

func TestLocal_Extract(t *testing.T) {
	scratch := t.TempDir()
	l := NewLocal(scratch, "", nil)
	l.probe = func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return &ffmpeg.ProbeResult{Duration: 3.0, VideoStreams: 1, AudioStreams: 1}, nil
	}
	l.frames = func(ctx context.Context, input, outDir string) ([]string, error) {
		var out []string
		for i := 0; i < 3; i++ {
			p := filepath.Join(outDir, fmt.Sprintf("frame_%06d.png", i+1))
			savePNG(t, gradient(i%2 == 1), p)
			out = append(out, p)
		}
		return out, nil
	}
	l.audioFpr = func(ctx context.Context, path string) (string, error) {
		return "AQAAfingerprint", nil
	}

	res, err := l.Extract(context.Background(), "/media/clip.mp4", "video/mp4")
	require.NoError(t, err)
	require.Equal(t, int64(3000), res.DurationMS)
	require.True(t, res.HasAudio)
	require.Equal(t, "AQAAfingerprint", res.AudioFingerprint)
	require.Len(t, res.FrameHashes, 3)
	require.Equal(t, res.FrameHashes[0], res.FrameHashes[2])
	require.NotEqual(t, res.FrameHashes[0], res.FrameHashes[1])

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "frame scratch dir should be removed")
}

func TestLocal_FrameFailureDegrades(t *testing.T) {
	l := NewLocal(t.TempDir(), "", nil)
	l.probe = func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return &ffmpeg.ProbeResult{Duration: 1.5, VideoStreams: 1}, nil
	}
	l.frames = func(ctx context.Context, input, outDir string) ([]string, error) {
		return nil, errors.New("ffmpeg exploded")
	}

	res, err := l.Extract(context.Background(), "/media/clip.mp4", "video/mp4")
	require.NoError(t, err)
	require.Equal(t, int64(1500), res.DurationMS)
	require.False(t, res.HasAudio)
	require.Nil(t, res.FrameHashes)
}

func TestLocal_ProbeFailureIsUnavailable(t *testing.T) {
	l := NewLocal(t.TempDir(), "", nil)
	l.probe = func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return nil, errors.New("no ffprobe")
	}

	_, err := l.Extract(context.Background(), "/media/clip.mp4", "video/mp4")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestLocal_StillImage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "photo.png")
	savePNG(t, gradient(false), p)

	l := NewLocal(t.TempDir(), "", nil)
	res, err := l.Extract(context.Background(), p, "image/png")
	require.NoError(t, err)
	require.Len(t, res.FrameHashes, 1)
	require.False(t, res.HasAudio)

	want, err := HashImage(gradient(false))
	require.NoError(t, err)
	require.Equal(t, want, res.FrameHashes[0])
}

func TestParseFpcalc(t *testing.T) {
	fp, err := parseFpcalc([]byte(`{"duration": 12.5, "fingerprint": "AQADtE"}`))
	require.NoError(t, err)
	require.Equal(t, "AQADtE", fp)

	_, err = parseFpcalc([]byte(`{"duration": 1}`))
	require.Error(t, err)
}

func TestRemote_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/fingerprint", r.URL.Path)
		assert.Equal(t, "video/webm", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		_ = json.NewEncoder(w).Encode(Result{
			DurationMS:  2000,
			FrameHashes: []string{"00000000000000ff", "00000000000000fe"},
			HasAudio:    true,
		})
	}))
	defer srv.Close()

	p := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(p, []byte("payload"), 0o644))

	res, err := NewRemote(srv.URL+"/", nil).Extract(context.Background(), p, "video/webm")
	require.NoError(t, err)
	require.Equal(t, int64(2000), res.DurationMS)
	require.Len(t, res.FrameHashes, 2)
	require.True(t, res.HasAudio)
}

func TestRemote_StatusHandling(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "nope")
	}))
	defer srv.Close()

	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	r := NewRemote(srv.URL, nil)

	_, err := r.Extract(context.Background(), p, "video/mp4")
	require.ErrorIs(t, err, ErrUnavailable)

	status = http.StatusInternalServerError
	_, err = r.Extract(context.Background(), p, "video/mp4")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "nope")
}
