// Package resolve turns a page URL on a hosting site into a URL that serves
// the media bytes directly.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"thirdcoast.systems/reel/internal/fetch"
)

const (
	DefaultDeadline = 8 * time.Second
	DefaultGrace    = 750 * time.Millisecond

	// overall budget for one Resolve call, recursion included
	DefaultOverall = 30 * time.Second

	maxDepth     = 3
	probeTimeout = 3 * time.Second
	pageTimeout  = 6 * time.Second
	maxPageBytes = 4 << 20
)

var errNoMedia = errors.New("no media url found")

// Extractor is the last resort before giving up, typically yt-dlp.
type Extractor interface {
	DirectURL(ctx context.Context, pageURL string) (string, error)
}

type Options struct {
	Deadline  time.Duration
	Grace     time.Duration
	Overall   time.Duration
	Extractor Extractor
	Logger    *slog.Logger
}

type Resolver struct {
	fetch      *fetch.Fetcher
	strategies []strategy
	deadline   time.Duration
	grace      time.Duration
	overall    time.Duration
	extractor  Extractor
	logger     *slog.Logger
}

func New(f *fetch.Fetcher, opts Options) *Resolver {
	r := &Resolver{
		fetch:      f,
		strategies: defaultStrategies(),
		deadline:   opts.Deadline,
		grace:      opts.Grace,
		overall:    opts.Overall,
		extractor:  opts.Extractor,
		logger:     opts.Logger,
	}
	if r.fetch == nil {
		r.fetch = fetch.New()
	}
	if r.deadline <= 0 {
		r.deadline = DefaultDeadline
	}
	if r.grace <= 0 {
		r.grace = DefaultGrace
	}
	if r.overall <= 0 {
		r.overall = DefaultOverall
	}
	if r.logger == nil {
		r.logger = slog.Default().With(slog.String("component", "resolve"))
	}
	return r
}

// strategy is one host-specific resolver. Entries are evaluated in order and
// the first whose match accepts the URL runs.
type strategy struct {
	name    string
	match   func(u *url.URL) bool
	resolve func(r *Resolver, ctx context.Context, u *url.URL, depth int) (string, error)
}

func defaultStrategies() []strategy {
	return []strategy{
		{name: "imgur", match: isImgur, resolve: (*Resolver).resolveImgur},
		{name: "reddit", match: isReddit, resolve: (*Resolver).resolveReddit},
		{name: "v.redd.it", match: isRedditVideo, resolve: (*Resolver).resolveRedditVideo},
		{name: "streamable", match: isStreamable, resolve: (*Resolver).resolveStreamable},
	}
}

// Resolve returns a direct media URL for sourceURL. When nothing works the
// input is returned unchanged so the caller's fetch surfaces the real error.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) string {
	sourceURL = strings.TrimSpace(sourceURL)
	ctx, cancel := context.WithTimeout(ctx, r.overall)
	defer cancel()

	out, err := r.resolve(ctx, sourceURL, 0)
	if err != nil {
		r.logger.Info("Resolution failed; using source url", "url", sourceURL, "error", err)
		return sourceURL
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, raw string, depth int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an http url: %q", raw)
	}

	out, err := r.dispatch(ctx, u, depth)
	if err != nil {
		return "", err
	}
	return r.preferAudio(ctx, out), nil
}

func (r *Resolver) dispatch(ctx context.Context, u *url.URL, depth int) (string, error) {
	var errs []error
	for _, s := range r.strategies {
		if !s.match(u) {
			continue
		}
		out, err := s.resolve(r, ctx, u, depth)
		if err == nil && out != "" {
			r.logger.Debug("Resolved", "strategy", s.name, "url", u.String(), "direct", out)
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		break
	}

	if looksDirect(u) {
		return u.String(), nil
	}

	out, err := r.resolveGeneric(ctx, u)
	if err == nil {
		r.logger.Debug("Resolved", "strategy", "generic", "url", u.String(), "direct", out)
		return out, nil
	}
	errs = append(errs, fmt.Errorf("generic: %w", err))

	if r.extractor != nil {
		out, err := r.extractor.DirectURL(ctx, u.String())
		if err == nil && out != "" {
			r.logger.Debug("Resolved", "strategy", "extractor", "url", u.String(), "direct", out)
			return out, nil
		}
		errs = append(errs, fmt.Errorf("extractor: %w", err))
	}
	return "", errors.Join(errs...)
}

// recurse resolves a URL discovered by another strategy, e.g. a reddit post
// linking to imgur.
func (r *Resolver) recurse(ctx context.Context, discovered string, depth int) string {
	u, err := url.Parse(discovered)
	if err != nil || depth+1 > maxDepth || !needsResolution(u) {
		return discovered
	}
	out, err := r.resolve(ctx, discovered, depth+1)
	if err != nil {
		return discovered
	}
	return out
}

// preferAudio swaps a "-silent" file for its full-audio sibling when the
// sibling exists. The silent URL is kept if the probe fails.
func (r *Resolver) preferAudio(ctx context.Context, direct string) string {
	u, err := url.Parse(direct)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), "-silent.mp4") {
		return direct
	}
	alt := *u
	alt.Path = u.Path[:len(u.Path)-len("-silent.mp4")] + ".mp4"
	if r.probe(ctx, alt.String()) {
		return alt.String()
	}
	return direct
}

// probe HEADs rawURL and reports a 2xx-3xx answer.
func (r *Resolver) probe(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := r.fetch.Do(ctx, http.MethodHead, rawURL, nil, 1)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// firstReachable probes candidates in order.
func (r *Resolver) firstReachable(ctx context.Context, candidates []string) (string, error) {
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

func (r *Resolver) get(ctx context.Context, rawURL string, headers http.Header) ([]byte, http.Header, error) {
	resp, err := r.fetch.Do(ctx, http.MethodGet, rawURL, headers, 1)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func (r *Resolver) getJSON(ctx context.Context, rawURL string, out any) error {
	body, _, err := r.get(ctx, rawURL, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (r *Resolver) getDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	body, _, err := r.get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

var directExts = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true, ".m4v": true, ".mkv": true, ".m3u8": true,
	".gif": true, ".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

func looksDirect(u *url.URL) bool {
	return directExts[strings.ToLower(path.Ext(u.Path))]
}

// needsResolution reports whether a discovered URL points at a host that has
// its own strategy, or at a page rather than a file.
func needsResolution(u *url.URL) bool {
	if looksDirect(u) {
		return false
	}
	return isImgur(u) || isReddit(u) || isRedditVideo(u) || isStreamable(u) || isRedgifs(u)
}

func hasHostSuffix(u *url.URL, suffix string) bool {
	h := normalizeHost(u.Host)
	return h == suffix || strings.HasSuffix(h, "."+suffix)
}

func isRedgifs(u *url.URL) bool { return hasHostSuffix(u, "redgifs.com") }

// absolute resolves ref against base and keeps only http(s) results.
func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}
