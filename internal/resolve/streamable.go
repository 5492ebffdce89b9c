package resolve

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	streamableAPI = "api"
	streamableCDN = "cdn"
	streamableOG  = "page"

	streamableAPITimeout  = 3 * time.Second
	streamableCDNTimeout  = 2 * time.Second
	streamablePageTimeout = 3 * time.Second
)

var streamableCDNPatterns = []string{
	"https://cdn-cf-east.streamable.com/video/mp4/%s.mp4",
	"https://cdn-cf-east.streamable.com/video/mp4-mobile/%s.mp4",
}

func isStreamable(u *url.URL) bool {
	return ResolveCanonicalDomain(u.Host) == "streamable.com"
}

type raceResult struct {
	source string
	url    string
}

// resolveStreamable races the metadata API, CDN probes and the page's
// og:video tag. The first answer wins, but a non-API winner waits up to the
// grace period for the API, whose answer overrides when it differs.
func (r *Resolver) resolveStreamable(ctx context.Context, u *url.URL, depth int) (string, error) {
	code := streamableCode(u)
	if code == "" {
		return "", errNoMedia
	}

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	type racer struct {
		name    string
		timeout time.Duration
		run     func(context.Context, string) (string, error)
	}
	racers := []racer{
		{streamableAPI, streamableAPITimeout, r.streamableFromAPI},
		{streamableCDN, streamableCDNTimeout, r.streamableFromCDN},
		{streamableOG, streamablePageTimeout, r.streamableFromPage},
	}

	// buffered so late finishers never block after we return
	results := make(chan raceResult, len(racers))
	for _, rc := range racers {
		go func() {
			sctx, scancel := context.WithTimeout(ctx, rc.timeout)
			defer scancel()
			out, err := rc.run(sctx, code)
			if err != nil {
				r.logger.Debug("Streamable strategy failed", "strategy", rc.name, "code", code, "error", err)
				out = ""
			}
			results <- raceResult{source: rc.name, url: out}
		}()
	}

	var winner raceResult
	apiDone := false
	for pending := len(racers); pending > 0 && winner.url == ""; pending-- {
		select {
		case res := <-results:
			if res.source == streamableAPI {
				apiDone = true
			}
			if res.url != "" {
				winner = res
			}
		case <-ctx.Done():
			return "", fmt.Errorf("streamable %s: %w", code, ctx.Err())
		}
	}
	if winner.url == "" {
		return "", errNoMedia
	}
	if winner.source == streamableAPI || apiDone {
		return winner.url, nil
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	for {
		select {
		case res := <-results:
			if res.source != streamableAPI {
				continue
			}
			if res.url != "" && res.url != winner.url {
				r.logger.Debug("Streamable API overrides race winner", "winner", winner.source, "code", code)
				return res.url, nil
			}
			return winner.url, nil
		case <-grace.C:
			return winner.url, nil
		case <-ctx.Done():
			return winner.url, nil
		}
	}
}

func streamableCode(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	p = strings.TrimPrefix(p, "e/")
	p = strings.TrimPrefix(p, "o/")
	if p == "" || strings.Contains(p, "/") {
		return ""
	}
	return p
}

type streamableVideo struct {
	Status int `json:"status"`
	Files  map[string]struct {
		URL string `json:"url"`
	} `json:"files"`
}

func (r *Resolver) streamableFromAPI(ctx context.Context, code string) (string, error) {
	var v streamableVideo
	if err := r.getJSON(ctx, "https://api.streamable.com/videos/"+url.PathEscape(code), &v); err != nil {
		return "", err
	}
	for _, key := range []string{"mp4", "mp4-mobile"} {
		if f, ok := v.Files[key]; ok && f.URL != "" {
			if strings.HasPrefix(f.URL, "//") {
				return "https:" + f.URL, nil
			}
			return f.URL, nil
		}
	}
	return "", errNoMedia
}

// streamableFromCDN probes every candidate at once and keeps the first hit.
func (r *Resolver) streamableFromCDN(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once  sync.Once
		found string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pattern := range streamableCDNPatterns {
		candidate := fmt.Sprintf(pattern, code)
		g.Go(func() error {
			if r.probe(gctx, candidate) {
				once.Do(func() {
					found = candidate
					cancel()
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if found == "" {
		return "", errNoMedia
	}
	return found, nil
}

func (r *Resolver) streamableFromPage(ctx context.Context, code string) (string, error) {
	base := &url.URL{Scheme: "https", Host: "streamable.com", Path: "/" + code}
	doc, err := r.getDocument(ctx, base.String())
	if err != nil {
		return "", err
	}
	for _, prop := range []string{"og:video:secure_url", "og:video", "og:video:url"} {
		if abs := absolute(base, metaContent(doc, prop)); abs != "" {
			return abs, nil
		}
	}
	return "", errNoMedia
}
