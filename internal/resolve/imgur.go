package resolve

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// direct formats tried for an imgur id, in order
var imgurFormats = []string{".mp4", ".gif", ".jpg", ".png"}

func isImgur(u *url.URL) bool { return hasHostSuffix(u, "imgur.com") }

// resolveImgur derives the media id from the path and probes the direct file
// names on i.imgur.com. Albums and galleries are left to the page scraper.
func (r *Resolver) resolveImgur(ctx context.Context, u *url.URL, depth int) (string, error) {
	id := imgurID(u)
	if id == "" {
		return "", errNoMedia
	}
	candidates := make([]string, 0, len(imgurFormats))
	for _, ext := range imgurFormats {
		candidates = append(candidates, "https://i.imgur.com/"+id+ext)
	}
	return r.firstReachable(ctx, candidates)
}

func imgurID(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if p == "" || strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "gallery/") || strings.HasPrefix(p, "t/") {
		return ""
	}
	if strings.Contains(p, "/") {
		return ""
	}
	return strings.TrimSuffix(p, path.Ext(p))
}
