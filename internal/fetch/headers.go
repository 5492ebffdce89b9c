package fetch

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true, ".bmp": true}
	videoExts = map[string]bool{".mp4": true, ".webm": true, ".mov": true, ".m4v": true, ".mkv": true, ".m3u8": true, ".ts": true, ".gifv": true}
)

type hostProfile struct {
	referer string
	origin  string
}

// Hosts that reject referer-less requests. Keys match the hostname or any
// subdomain of it.
var hostProfiles = map[string]hostProfile{
	"imgur.com":   {referer: "https://imgur.com/"},
	"reddit.com":  {referer: "https://www.reddit.com/", origin: "https://www.reddit.com"},
	"redd.it":     {referer: "https://www.reddit.com/", origin: "https://www.reddit.com"},
	"redgifs.com": {referer: "https://www.redgifs.com/", origin: "https://www.redgifs.com"},
}

// PoliteHeaders returns the browser-like header profile for rawURL.
func PoliteHeaders(rawURL string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", browserUserAgent)
	h.Set("Accept-Language", "en-US,en;q=0.9")

	u, err := url.Parse(rawURL)
	if err != nil {
		h.Set("Accept", "*/*")
		return h
	}

	h.Set("Accept", acceptFor(u.Path))

	host := strings.ToLower(u.Hostname())
	for suffix, p := range hostProfiles {
		if host != suffix && !strings.HasSuffix(host, "."+suffix) {
			continue
		}
		if p.referer != "" {
			h.Set("Referer", p.referer)
		}
		if p.origin != "" {
			h.Set("Origin", p.origin)
		}
		break
	}

	return h
}

func acceptFor(p string) string {
	ext := strings.ToLower(path.Ext(p))
	switch {
	case imageExts[ext]:
		return "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	case videoExts[ext]:
		return "video/webm,video/mp4,video/*;q=0.9,*/*;q=0.5"
	case ext == ".json":
		return "application/json, text/plain, */*"
	default:
		return "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
