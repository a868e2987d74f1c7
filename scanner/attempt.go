package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/features"
	"github.com/use-agent/pagesignal/gate"
	"github.com/use-agent/pagesignal/ladder"
	"github.com/use-agent/pagesignal/renderer"
)

// Executor performs single ladder attempts on pages of the shared renderer.
type Executor struct {
	renderer  *renderer.Manager
	pages     *gate.Gate
	extractor *features.Extractor
	filter    renderer.RequestFilter
	emulation renderer.Emulation
	timeout   time.Duration
	protocol  time.Duration // bounds the non-navigation browser calls
	delays    config.DelayConfig
	logger    *slog.Logger
}

// NewExecutor creates an Executor from the browser and scan configuration.
func NewExecutor(mgr *renderer.Manager, pages *gate.Gate, ext *features.Extractor,
	browser config.BrowserConfig, scan config.ScanConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		renderer:  mgr,
		pages:     pages,
		extractor: ext,
		filter:    renderer.NewRequestFilter(scan.BlockedResourceTypes, scan.BlockedExtensions),
		emulation: renderer.Emulation{
			Width:          browser.ViewportWidth,
			Height:         browser.ViewportHeight,
			AcceptLanguage: browser.AcceptLanguage,
		},
		timeout:  scan.NavigationTimeout,
		protocol: browser.ProtocolTimeout,
		delays:   scan.Delays,
		logger:   logger,
	}
}

// Attempt implements ladder.Attempter. When the error shows the browser
// connection is gone, the shared browser is relaunched (coalesced with any
// concurrent relaunch) and the cooldown elapses before returning.
func (e *Executor) Attempt(ctx context.Context, a ladder.Attempt) (features.Result, error) {
	res, err := e.attempt(ctx, a)
	if err == nil {
		return res, nil
	}
	if ladder.IsConnectionClosed(err) {
		e.logger.Warn("scanner: relaunching browser due to closed connection", "url", a.Target)
		if rerr := e.renderer.EnsureRelaunched(ctx, ""); rerr != nil {
			e.logger.Error("scanner: relaunch failed", "error", rerr)
		}
		_ = sleepCtx(ctx, e.delays.RelaunchCooldown)
	}
	return features.Result{}, err
}

// attempt holds one page slot from page creation until the page is closed.
func (e *Executor) attempt(ctx context.Context, a ladder.Attempt) (features.Result, error) {
	var res features.Result
	err := e.pages.Do(ctx, func() error {
		var err error
		res, err = e.onPage(ctx, a)
		return err
	})
	return res, err
}

func (e *Executor) onPage(ctx context.Context, a ladder.Attempt) (features.Result, error) {
	page, err := e.renderer.NewPage(ctx)
	if err != nil {
		return features.Result{}, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Debug("scanner: page close failed", "error", cerr)
		}
	}()

	if err := sleepCtx(ctx, e.delays.Settle); err != nil {
		return features.Result{}, err
	}
	if err := page.SetRequestInterception(e.filter); err != nil {
		return features.Result{}, fmt.Errorf("request interception: %w", err)
	}
	if a.IgnoreCertErrors && strings.HasPrefix(a.NavigateURL, "https://") {
		if err := e.bounded(ctx, page.IgnoreCertificateErrors); err != nil {
			return features.Result{}, fmt.Errorf("ignore certificate errors: %w", err)
		}
	}

	em := e.emulation
	em.UserAgent = a.Identity
	if err := e.bounded(ctx, func(ctx context.Context) error { return page.Emulate(ctx, em) }); err != nil {
		return features.Result{}, fmt.Errorf("emulation: %w", err)
	}

	if err := renderer.NavigateWithFallback(ctx, page, a.NavigateURL, e.timeout); err != nil {
		return features.Result{}, err
	}
	if err := sleepCtx(ctx, e.delays.PostNavigation); err != nil {
		return features.Result{}, err
	}

	res := e.extractor.Extract(ctx, page, a.NavigateURL)

	pause := e.delays.PostSuccess
	if j := e.delays.PostSuccessJitter; j > 0 {
		pause += time.Duration(rand.Int64N(int64(j)))
	}
	if err := sleepCtx(ctx, pause); err != nil {
		return features.Result{}, err
	}
	return res, nil
}

// bounded runs a browser call under the protocol timeout.
func (e *Executor) bounded(ctx context.Context, call func(context.Context) error) error {
	if e.protocol <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, e.protocol)
	defer cancel()
	return call(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
