package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// RodOptions controls how the go-rod backend launches Chromium.
type RodOptions struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string

	// Stealth creates every page with anti-automation evasions injected.
	Stealth bool

	// ProtocolTimeout bounds each evaluation, emulation and security call
	// on a page. Zero leaves them bounded by the caller's context only.
	ProtocolTimeout time.Duration
}

// RodLauncher returns a LaunchFunc backed by a locally launched Chromium.
// Each launch gets its own temporary user-data directory.
func RodLauncher(opts RodOptions) LaunchFunc {
	return func(ctx context.Context, proxy string) (Browser, error) {
		l := launcher.New().
			Context(ctx).
			Headless(opts.Headless).
			NoSandbox(opts.NoSandbox)

		if opts.BrowserBin != "" {
			l = l.Bin(opts.BrowserBin)
		}
		if proxy != "" {
			l = l.Proxy(proxy)
		}

		l.Set(flags.Flag("disable-setuid-sandbox"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch: %w", err)
		}
		slog.Debug("renderer: chromium started", "controlURL", controlURL)

		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			l.Cleanup()
			return nil, fmt.Errorf("connect: %w", err)
		}

		return &rodBrowser{browser: b, launcher: l, stealth: opts.Stealth, timeout: opts.ProtocolTimeout}, nil
	}
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	stealth  bool
	timeout  time.Duration
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, err
	}
	return &rodPage{page: page, timeout: b.timeout}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	return err
}

type rodPage struct {
	page    *rod.Page
	router  *rod.HijackRouter
	timeout time.Duration
}

// bounded returns the page bound to ctx, limited by the protocol timeout.
func (p *rodPage) bounded(ctx context.Context) (*rod.Page, context.CancelFunc) {
	if p.timeout <= 0 {
		return p.page.Context(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return p.page.Context(ctx), cancel
}

func (p *rodPage) SetRequestInterception(filter RequestFilter) error {
	router := p.page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	err := router.Add("*", "", func(h *rod.Hijack) {
		if filter(strings.ToLower(string(h.Request.Type())), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}

	// router.Run() blocks until router.Stop().
	go router.Run()
	p.router = router
	return nil
}

func (p *rodPage) IgnoreCertificateErrors(ctx context.Context) error {
	page, cancel := p.bounded(ctx)
	defer cancel()
	return proto.SecuritySetIgnoreCertificateErrors{Ignore: true}.Call(page)
}

func (p *rodPage) Emulate(ctx context.Context, em Emulation) error {
	page, cancel := p.bounded(ctx)
	defer cancel()

	if em.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      em.UserAgent,
			AcceptLanguage: em.AcceptLanguage,
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if em.Width > 0 && em.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             em.Width,
			Height:            em.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if em.AcceptLanguage != "" {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{"Accept-Language": gson.New(em.AcceptLanguage)},
		}).Call(page); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, rawURL string, wait WaitCondition, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page := p.page.Context(navCtx)

	event := proto.PageLifecycleEventNameDOMContentLoaded
	if wait == WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkAlmostIdle
	}

	// The waiter must be registered before Navigate so the event is not missed.
	waitFn := page.WaitNavigation(event)
	if err := page.Navigate(rawURL); err != nil {
		return err
	}
	waitFn()

	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("navigation timeout of %d ms exceeded (%s): %w", timeout.Milliseconds(), wait, err)
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, js string, args ...any) (string, error) {
	page, cancel := p.bounded(ctx)
	defer cancel()
	res, err := page.Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	return p.page.Close()
}
