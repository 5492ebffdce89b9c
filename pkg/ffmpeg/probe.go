package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// ProbeResult holds the container and stream facts the pipeline records.
type ProbeResult struct {
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	AudioCodec string

	Duration   float64 // seconds
	FormatName string

	VideoStreams int
	AudioStreams int
}

func (r *ProbeResult) HasAudio() bool { return r.AudioStreams > 0 }

// DurationMS returns the duration rounded to whole milliseconds.
func (r *ProbeResult) DurationMS() int64 {
	return int64(r.Duration*1000 + 0.5)
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe on path.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := run(ctx, "ffprobe", []string{
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	})
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var output ffprobeOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	result := &ProbeResult{FormatName: output.Format.FormatName}
	if output.Format.Duration != "" {
		result.Duration, _ = strconv.ParseFloat(output.Format.Duration, 64)
	}

	for _, s := range output.Streams {
		switch s.CodecType {
		case "video":
			result.VideoStreams++
			if result.VideoCodec == "" {
				result.Width = s.Width
				result.Height = s.Height
				result.VideoCodec = s.CodecName
				result.FPS = parseFrameRate(s.RFrameRate)
				// still images and some GIFs only report stream duration
				if result.Duration == 0 && s.Duration != "" {
					result.Duration, _ = strconv.ParseFloat(s.Duration, 64)
				}
			}
		case "audio":
			result.AudioStreams++
			if result.AudioCodec == "" {
				result.AudioCodec = s.CodecName
			}
		}
	}

	return result, nil
}

// parseFrameRate parses ffprobe rates such as "30/1" or "30000/1001".
func parseFrameRate(rate string) float64 {
	var num, den int
	if _, err := fmt.Sscanf(rate, "%d/%d", &num, &den); err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
