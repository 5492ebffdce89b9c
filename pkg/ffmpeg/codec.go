package ffmpeg

// PresetWebH264 is the compatibility encode: h264 in yuv420p, which every
// browser plays.
func PresetWebH264() []Option {
	return []Option{
		VideoCodec("libx264"),
		CRF(23),
		Preset("veryfast"),
		PixelFormat("yuv420p"),
		EvenDimensions(),
	}
}

func PresetAAC() []Option {
	return []Option{
		AudioCodec("aac"),
		AudioBitrate("160k"),
	}
}

// Flatten merges option groups into one slice.
func Flatten(groups ...[]Option) []Option {
	var all []Option
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}
