// Package features extracts script-level signals from a rendered page:
// total script volume, volume of high-entropy (likely obfuscated) scripts and
// the number of cross-origin scripts.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/pagesignal/models"
)

// DefaultThreshold is the entropy in bits/char above which a script body
// counts as obfuscated.
const DefaultThreshold = 4.3

var (
	scriptSelector = cascadia.MustCompile("script")
	baseSelector   = cascadia.MustCompile("base[href]")
)

const snapshotJS = `() => document.documentElement ? document.documentElement.outerHTML : ''`

// fetchJS loads a same-origin script from inside the page so cookies and
// origin match the document. Any failure yields an empty body.
const fetchJS = `async (src) => {
	try {
		const r = await fetch(src);
		if (!r.ok) return '';
		return await r.text();
	} catch (e) {
		return '';
	}
}`

// Evaluator is the slice of the page capability the extractor needs.
type Evaluator interface {
	Evaluate(ctx context.Context, js string, args ...any) (string, error)
}

// Counts are the raw script signals of one page.
type Counts struct {
	JSLen           int
	JSObfLen        int
	JSExternalCount int
}

// Result is either Extracted (Err == nil) or ExtractionFailed.
type Result struct {
	Counts Counts
	Err    error
}

// Failed reports whether extraction failed.
func (r Result) Failed() bool { return r.Err != nil }

// Record converts the result to its dataset form; a failed extraction
// becomes the all -1 sentinel.
func (r Result) Record() models.FeatureRecord {
	if r.Failed() {
		return models.FeatureRecord{JSLen: -1, JSObfLen: -1, JSExternalCount: -1}
	}
	return models.FeatureRecord{
		JSLen:           r.Counts.JSLen,
		JSObfLen:        r.Counts.JSObfLen,
		JSExternalCount: r.Counts.JSExternalCount,
	}
}

// Extractor scores the scripts of a navigated page.
type Extractor struct {
	threshold   float64
	evalTimeout time.Duration
	logger      *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithEvalTimeout bounds each in-page evaluation. A snapshot that times out
// fails the extraction; a script fetch that times out counts as empty.
func WithEvalTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) { e.evalTimeout = d }
}

// NewExtractor creates an Extractor. A non-positive threshold uses DefaultThreshold.
func NewExtractor(threshold float64, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{threshold: threshold, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) evaluate(ctx context.Context, page Evaluator, js string, args ...any) (string, error) {
	if e.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.evalTimeout)
		defer cancel()
	}
	return page.Evaluate(ctx, js, args...)
}

// Extract enumerates every script element of the page at pageURL. It never
// returns an error: any failure is reported through Result.Err.
func (e *Extractor) Extract(ctx context.Context, page Evaluator, pageURL string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("features: panic: %v", r)}
		}
		if res.Err != nil {
			e.logger.Warn("features: extraction failed", "url", pageURL, "error", res.Err)
		}
	}()

	pageU, err := url.Parse(pageURL)
	if err != nil || pageU.Host == "" {
		return Result{Err: fmt.Errorf("features: invalid page url %q", pageURL)}
	}
	origin := originOf(pageU)

	snapshot, err := e.evaluate(ctx, page, snapshotJS)
	if err != nil {
		return Result{Err: fmt.Errorf("features: dom snapshot: %w", err)}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot))
	if err != nil {
		return Result{Err: fmt.Errorf("features: parse dom: %w", err)}
	}

	base := pageU
	if href, ok := doc.FindMatcher(baseSelector).First().Attr("href"); ok {
		if b, err := pageU.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var counts Counts
	doc.FindMatcher(scriptSelector).Each(func(_ int, s *goquery.Selection) {
		content := s.Text()

		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			scriptU, err := base.Parse(src)
			if err != nil {
				return
			}
			if originOf(scriptU) != origin {
				counts.JSExternalCount++
				return
			}
			content, err = e.evaluate(ctx, page, fetchJS, scriptU.String())
			if err != nil {
				content = ""
			}
		}

		// Lengths are in UTF-16 code units, as the page itself measures them.
		units := codeUnits(content)
		n := len(units)
		if n == 0 {
			return
		}
		counts.JSLen += n
		if entropy(units) > e.threshold {
			counts.JSObfLen += n
		}
	})

	return Result{Counts: counts}
}

// originOf returns scheme://host[:port] with default ports elided, matching
// the browser's notion of an origin.
func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
