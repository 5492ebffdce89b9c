// Package filename turns user-supplied names and URLs into safe original
// filenames for stored assets.
package filename

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	invalidCharsRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiDash      = regexp.MustCompile(`[-_\s]{2,}`)
	extRe          = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,5}$`)
)

const defaultMaxLen = 120

// Sanitize converts an arbitrary string into a filename-safe slug no longer
// than maxLen bytes (default 120). A short alphanumeric extension survives
// truncation.
func Sanitize(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}

	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}

	s = invalidCharsRe.ReplaceAllString(s, "-")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return '-'
		}
		return r
	}, s)
	s = multiDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")

	ext := path.Ext(s)
	if !extRe.MatchString(ext) {
		ext = ""
	}
	ext = strings.ToLower(ext)
	base := strings.TrimSuffix(s, path.Ext(s))
	if ext == "" {
		base = s
	}

	if len(base)+len(ext) > maxLen {
		keep := maxLen - len(ext)
		if keep < 1 {
			keep = 1
		}
		base = truncateUTF8(base, keep)
		base = strings.TrimRight(base, "-.")
	}
	if base == "" {
		return ""
	}
	return base + ext
}

// FromURL derives an original filename from the last path segment of rawURL.
// When the URL carries no usable name, fallback is used with ext appended.
func FromURL(rawURL, fallback, ext string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		seg := path.Base(u.Path)
		if seg != "/" && seg != "." {
			if unescaped, err := url.PathUnescape(seg); err == nil {
				seg = unescaped
			}
			name = Sanitize(seg, 0)
		}
	}
	if name == "" {
		name = Sanitize(fallback, 0)
	}
	if ext != "" && !strings.EqualFold(path.Ext(name), ext) {
		name += ext
	}
	return name
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
