package filename

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"", 0, ""},
		{"  my clip.MP4 ", 0, "my-clip.mp4"},
		{`a<b>c:d"e/f\g|h?i*j.gif`, 0, "a-b-c-d-e-f-g-h-i-j.gif"},
		{"..hidden..", 0, "hidden"},
		{"a  --  b", 0, "a-b"},
		{strings.Repeat("x", 50) + ".webm", 20, strings.Repeat("x", 15) + ".webm"},
		{"archive.tar.gzipped-long", 0, "archive.tar.gzipped-long"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Sanitize(tt.in, tt.max), "input %q", tt.in)
	}
}

func TestSanitize_TruncatesOnRuneBoundary(t *testing.T) {
	got := Sanitize(strings.Repeat("é", 10), 5)
	require.True(t, len(got) <= 5)
	require.Equal(t, "éé", got)
}

func TestFromURL(t *testing.T) {
	require.Equal(t, "clip.mp4", FromURL("https://cdn.example.com/v/clip.mp4?x=1", "download", ".mp4"))
	require.Equal(t, "my-video.mp4", FromURL("https://cdn.example.com/my%20video.mp4", "download", ".mp4"))
	require.Equal(t, "download.mp4", FromURL("https://example.com/", "download", ".mp4"))
	require.Equal(t, "abc123.gif", FromURL("https://i.example.com/abc123", "download", ".gif"))
	require.Equal(t, "download", FromURL("::bad", "download", ""))
}
