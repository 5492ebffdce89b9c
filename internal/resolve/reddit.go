package resolve

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	redditPostIDPattern = regexp.MustCompile(`/comments/([a-z0-9]+)`)

	// mirrors tried in order for the post JSON
	redditJSONHosts = []string{"www.reddit.com", "old.reddit.com", "api.reddit.com"}

	// fallback ladder for v.redd.it clips, best first
	redditVideoHeights = []int{1080, 720, 480, 360, 240}
)

func isReddit(u *url.URL) bool {
	h := normalizeHost(u.Host)
	return ResolveCanonicalDomain(h) == "reddit.com" || h == "redd.it"
}

func isRedditVideo(u *url.URL) bool { return normalizeHost(u.Host) == "v.redd.it" }

// resolveReddit unwraps a reddit post to the media it carries.
func (r *Resolver) resolveReddit(ctx context.Context, u *url.URL, depth int) (string, error) {
	pageURL := cleanRedditURL(u)

	id := redditPostID(u)
	var doc *goquery.Document
	if id == "" {
		// share links (/r/x/s/token) only reveal the post after a page fetch
		d, err := r.getDocument(ctx, pageURL)
		if err != nil {
			return "", fmt.Errorf("fetch post page: %w", err)
		}
		doc = d
		id = redditPostIDFromDocument(doc)
		if id == "" {
			return r.redditFromHTML(ctx, u, doc, depth)
		}
	}

	var errs []error
	for _, host := range redditJSONHosts {
		var listing []redditListing
		endpoint := "https://" + host + "/comments/" + id + ".json?raw_json=1"
		if err := r.getJSON(ctx, endpoint, &listing); err != nil {
			errs = append(errs, err)
			continue
		}
		post := firstRedditPost(listing)
		if post == nil {
			errs = append(errs, fmt.Errorf("%s: empty listing", host))
			continue
		}
		if media := post.mediaURL(); media != "" {
			return r.recurse(ctx, media, depth), nil
		}
		errs = append(errs, fmt.Errorf("post %s has no media", id))
		break
	}

	r.logger.Debug("Reddit JSON failed; scanning page", "post", id, "error", errors.Join(errs...))
	if doc == nil {
		d, err := r.getDocument(ctx, pageURL)
		if err != nil {
			return "", errors.Join(append(errs, err)...)
		}
		doc = d
	}
	return r.redditFromHTML(ctx, u, doc, depth)
}

// redditFromHTML looks for Open Graph media, then for an embed that points
// at a host with its own strategy.
func (r *Resolver) redditFromHTML(ctx context.Context, base *url.URL, doc *goquery.Document, depth int) (string, error) {
	for _, prop := range []string{"og:video:secure_url", "og:video", "og:video:url", "og:image"} {
		if v := metaContent(doc, prop); v != "" {
			if abs := absolute(base, html.UnescapeString(v)); abs != "" {
				return r.recurse(ctx, abs, depth), nil
			}
		}
	}

	var found string
	doc.Find("iframe[src], a[href], shreddit-embed[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		ref, ok := s.Attr("src")
		if !ok {
			ref, _ = s.Attr("href")
		}
		abs := absolute(base, ref)
		if abs == "" {
			return true
		}
		if cu, err := url.Parse(abs); err == nil && !isReddit(cu) && needsResolution(cu) {
			found = abs
			return false
		}
		return true
	})
	if found != "" {
		return r.recurse(ctx, found, depth), nil
	}
	return "", errNoMedia
}

func cleanRedditURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.Scheme = "https"
	if normalizeHost(c.Host) != "redd.it" {
		c.Host = "www.reddit.com"
	}
	return c.String()
}

func redditPostID(u *url.URL) string {
	if normalizeHost(u.Host) == "redd.it" {
		return firstPathSegment(u.Path)
	}
	if m := redditPostIDPattern.FindStringSubmatch(strings.ToLower(u.Path)); m != nil {
		return m[1]
	}
	return ""
}

func redditPostIDFromDocument(doc *goquery.Document) string {
	candidates := []string{metaContent(doc, "og:url")}
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		candidates = append([]string{href}, candidates...)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if cu, err := url.Parse(c); err == nil {
			if id := redditPostID(cu); id != "" {
				return id
			}
		}
	}
	return ""
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditVideo struct {
	FallbackURL string `json:"fallback_url"`
}

type redditMedia struct {
	RedditVideo *redditVideo `json:"reddit_video"`
}

type redditImage struct {
	U   string `json:"u"`
	GIF string `json:"gif"`
	MP4 string `json:"mp4"`
}

type redditPost struct {
	URL              string       `json:"url"`
	URLOverriddenBy  string       `json:"url_overridden_by_dest"`
	SecureMedia      *redditMedia `json:"secure_media"`
	Media            *redditMedia `json:"media"`
	CrosspostParents []redditPost `json:"crosspost_parent_list"`
	GalleryData      *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		Status string      `json:"status"`
		S      redditImage `json:"s"`
	} `json:"media_metadata"`
	Preview *struct {
		RedditVideoPreview *redditVideo `json:"reddit_video_preview"`
		Images             []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

func firstRedditPost(listing []redditListing) *redditPost {
	if len(listing) == 0 || len(listing[0].Data.Children) == 0 {
		return nil
	}
	return &listing[0].Data.Children[0].Data
}

// mediaURL picks, in priority order: the hosted video, the preview video,
// the first gallery item, an outbound link to a media host, and finally the
// preview image.
func (p *redditPost) mediaURL() string {
	for _, m := range []*redditMedia{p.SecureMedia, p.Media} {
		if m != nil && m.RedditVideo != nil && m.RedditVideo.FallbackURL != "" {
			return html.UnescapeString(m.RedditVideo.FallbackURL)
		}
	}
	if p.Preview != nil && p.Preview.RedditVideoPreview != nil && p.Preview.RedditVideoPreview.FallbackURL != "" {
		return html.UnescapeString(p.Preview.RedditVideoPreview.FallbackURL)
	}
	if g := p.galleryURL(); g != "" {
		return g
	}
	for _, cp := range p.CrosspostParents {
		if u := cp.mediaURL(); u != "" {
			return u
		}
	}
	if dest := firstNonEmpty(p.URLOverriddenBy, p.URL); dest != "" {
		if du, err := url.Parse(html.UnescapeString(dest)); err == nil && !isReddit(du) && (looksDirect(du) || needsResolution(du)) {
			return du.String()
		}
	}
	if p.Preview != nil && len(p.Preview.Images) > 0 && p.Preview.Images[0].Source.URL != "" {
		return html.UnescapeString(p.Preview.Images[0].Source.URL)
	}
	return ""
}

func (p *redditPost) galleryURL() string {
	if len(p.MediaMetadata) == 0 {
		return ""
	}
	pick := func(id string) string {
		m, ok := p.MediaMetadata[id]
		if !ok || (m.Status != "" && m.Status != "valid") {
			return ""
		}
		return html.UnescapeString(firstNonEmpty(m.S.MP4, m.S.GIF, m.S.U))
	}
	if p.GalleryData != nil {
		for _, item := range p.GalleryData.Items {
			if u := pick(item.MediaID); u != "" {
				return u
			}
		}
	}
	// inline media without gallery_data has no defined order
	for id := range p.MediaMetadata {
		if u := pick(id); u != "" {
			return u
		}
	}
	return ""
}

// resolveRedditVideo walks the DASH ladder of a v.redd.it clip and falls
// back to its HLS playlist.
func (r *Resolver) resolveRedditVideo(ctx context.Context, u *url.URL, depth int) (string, error) {
	if looksDirect(u) {
		return u.String(), nil
	}
	id := firstPathSegment(u.Path)
	if id == "" {
		return "", errNoMedia
	}

	candidates := make([]string, 0, len(redditVideoHeights))
	for _, h := range redditVideoHeights {
		candidates = append(candidates, fmt.Sprintf("https://v.redd.it/%s/DASH_%d.mp4", id, h))
	}
	if out, err := r.firstReachable(ctx, candidates); err == nil {
		return out, nil
	}
	return "https://v.redd.it/" + id + "/HLSPlaylist.m3u8", nil
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"], meta[name="` + property + `"]`).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
