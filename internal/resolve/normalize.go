package resolve

import (
	"errors"
	"net/url"
	"strings"
)

// Well-known host aliases. Key: input host. Value: canonical domain.
//
// Only hosts that are the same site from a user's point of view are aliased;
// CDN hosts such as i.imgur.com or v.redd.it keep their own name.
var canonicalDomainByHost = map[string]string{
	"reddit.com":     "reddit.com",
	"www.reddit.com": "reddit.com",
	"old.reddit.com": "reddit.com",
	"new.reddit.com": "reddit.com",
	"np.reddit.com":  "reddit.com",
	"m.reddit.com":   "reddit.com",

	"imgur.com":     "imgur.com",
	"www.imgur.com": "imgur.com",
	"m.imgur.com":   "imgur.com",

	"streamable.com":     "streamable.com",
	"www.streamable.com": "streamable.com",

	"redgifs.com":     "redgifs.com",
	"www.redgifs.com": "redgifs.com",
	"v3.redgifs.com":  "redgifs.com",

	"youtube.com":     "youtube.com",
	"www.youtube.com": "youtube.com",
	"m.youtube.com":   "youtube.com",
	"youtu.be":        "youtube.com",

	"x.com":              "x.com",
	"www.x.com":          "x.com",
	"twitter.com":        "x.com",
	"www.twitter.com":    "x.com",
	"mobile.twitter.com": "x.com",
}

// Canonical domains whose query strings only carry share/tracking noise.
var dropQueryDomains = map[string]bool{
	"reddit.com":     true,
	"imgur.com":      true,
	"streamable.com": true,
	"redgifs.com":    true,
	"x.com":          true,
}

// ResolveCanonicalDomain returns the canonical domain for host.
//
// host should be a hostname without port.
func ResolveCanonicalDomain(host string) string {
	h := normalizeHost(host)
	if h == "" {
		return ""
	}
	if c, ok := canonicalDomainByHost[h]; ok {
		return c
	}
	return h
}

// NormalizeSourceURL normalizes a user-provided URL for storage on an asset.
//
// It canonicalizes the host (e.g. old.reddit.com -> reddit.com), forces https,
// drops the fragment and userinfo, and strips query parameters on hosts where
// they only carry tracking. YouTube URLs keep only v=.
//
// For unknown hosts the query is preserved.
func NormalizeSourceURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("missing url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return "", "", err
		}
	}

	u.Fragment = ""
	u.User = nil

	canon := ResolveCanonicalDomain(u.Host)

	// the id has to be read before youtu.be is rewritten
	youtubeID := ""
	if canon == "youtube.com" {
		youtubeID = ExtractYouTubeVideoID(u)
	}

	if canon != "" {
		u.Host = canon
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		u.Scheme = "https"
	}
	u.Path = trimTrailingSlash(u.Path)
	u.RawPath = ""

	switch {
	case canon == "youtube.com":
		if youtubeID != "" {
			u.Path = "/watch"
			u.RawQuery = "v=" + url.QueryEscape(youtubeID)
		}
	case dropQueryDomains[canon]:
		u.RawQuery = ""
	}

	return u.String(), canon, nil
}

// ExtractYouTubeVideoID returns the video id of a YouTube URL, or "".
func ExtractYouTubeVideoID(u *url.URL) string {
	host := normalizeHost(u.Host)
	if host == "youtu.be" {
		return firstPathSegment(u.Path)
	}
	if ResolveCanonicalDomain(host) != "youtube.com" {
		return ""
	}
	if v := strings.TrimSpace(u.Query().Get("v")); v != "" {
		return v
	}
	for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return firstPathSegment(strings.TrimPrefix(u.Path, prefix))
		}
	}
	return ""
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
			h = parsed.Hostname()
		}
	}
	return strings.TrimSuffix(h, ".")
}

func trimTrailingSlash(p string) string {
	if p == "" || p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
