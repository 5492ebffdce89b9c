package ffmpeg

import "fmt"

// Scale adds a scale filter. -2 on either side keeps the aspect ratio with
// an even dimension, which h264 requires.
func Scale(width, height int) Option {
	return Filter(fmt.Sprintf("scale=%d:%d", width, height))
}

// ScaleWidth scales to width without upscaling smaller inputs.
func ScaleWidth(width int) Option {
	return Filter(fmt.Sprintf("scale='min(%d,iw)':-2", width))
}

// FPS resamples the video to rate frames per second.
func FPS(rate float64) Option {
	return Filter(fmt.Sprintf("fps=%g", rate))
}

// EvenDimensions rounds odd input sizes down to even ones for h264.
func EvenDimensions() Option {
	return Filter("scale=trunc(iw/2)*2:trunc(ih/2)*2")
}
