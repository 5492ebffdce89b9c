package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var videoLinkPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+?\.(?:mp4|webm|mov|m4v)(?:\?[^\s"'<>\\]*)?`)

// resolveGeneric scrapes an arbitrary page for a video. Candidates come from
// JSON-LD, Open Graph, <video>/<source> and finally bare links in the page,
// and each must answer a HEAD probe.
func (r *Resolver) resolveGeneric(ctx context.Context, u *url.URL) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	body, header, err := r.get(pctx, u.String(), nil)
	if err != nil {
		return "", err
	}

	// the page URL may already serve media
	if mt, _, _ := mime.ParseMediaType(header.Get("Content-Type")); strings.HasPrefix(mt, "video/") || strings.HasPrefix(mt, "image/") {
		return u.String(), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	seen := map[string]bool{}
	var candidates []string
	add := func(ref string) {
		abs := absolute(u, html.UnescapeString(ref))
		if abs != "" && !seen[abs] {
			seen[abs] = true
			candidates = append(candidates, abs)
		}
	}

	for _, c := range jsonLDVideoURLs(doc) {
		add(c)
	}
	for _, prop := range []string{"og:video:secure_url", "og:video", "og:video:url", "twitter:player:stream"} {
		add(metaContent(doc, prop))
	}
	doc.Find("video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src)
	})
	for _, m := range videoLinkPattern.FindAllString(string(body), -1) {
		add(m)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if r.probe(ctx, c) {
			return c, nil
		}
	}
	return "", errNoMedia
}

// jsonLDVideoURLs collects contentUrl values of VideoObject entries, including
// ones nested in @graph or arrays.
func jsonLDVideoURLs(doc *goquery.Document) []string {
	var out []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		walkJSONLD(v, &out)
	})
	return out
}

func walkJSONLD(v any, out *[]string) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkJSONLD(item, out)
		}
	case map[string]any:
		if isVideoObject(t["@type"]) {
			if s, ok := t["contentUrl"].(string); ok && s != "" {
				*out = append(*out, s)
			}
		}
		for _, key := range []string{"@graph", "video", "associatedMedia"} {
			if child, ok := t[key]; ok {
				walkJSONLD(child, out)
			}
		}
	}
}

func isVideoObject(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "VideoObject"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "VideoObject" {
				return true
			}
		}
	}
	return false
}
