package ladder

import (
	"context"
	"log/slog"

	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/features"
	"github.com/use-agent/pagesignal/gate"
)

// Attempt describes one navigation of a target.
type Attempt struct {
	// Target is the URL being scanned.
	Target string
	// NavigateURL is what the page loads: Target itself, or the proxy URL.
	NavigateURL string
	Rung        State
	// IgnoreCertErrors suppresses certificate validation for this page.
	IgnoreCertErrors bool
	Identity         string
}

// Attempter performs one attempt with the per-attempt side effects (page
// slot, interception, emulation, navigation, extraction, page release).
type Attempter interface {
	Attempt(ctx context.Context, a Attempt) (features.Result, error)
}

// AttempterFunc adapts a function to Attempter.
type AttempterFunc func(ctx context.Context, a Attempt) (features.Result, error)

func (f AttempterFunc) Attempt(ctx context.Context, a Attempt) (features.Result, error) {
	return f(ctx, a)
}

// Outcome is the successful result of a ladder run.
type Outcome struct {
	Features features.Result
	// FinalURL is the variant that succeeded (never the proxy URL).
	FinalURL      string
	SSLBypassUsed bool
	UsedProxy     bool
	Identity      string
}

// variant is one form in which a target is tried.
type variant struct {
	url       string
	sslBypass bool
}

func variants(target string) []variant {
	return []variant{
		{url: target, sslBypass: false},
		{url: target, sslBypass: true},
	}
}

// Ladder runs targets through the rungs.
type Ladder struct {
	attempter   Attempter
	proxy       config.ProxyConfig
	proxyGate   *gate.Gate
	proxyWorthy []string
	logger      *slog.Logger
}

// Option configures a Ladder.
type Option func(*Ladder)

// WithProxy enables the proxy rung. Proxied attempts of all targets share g.
func WithProxy(cfg config.ProxyConfig, g *gate.Gate) Option {
	return func(l *Ladder) {
		l.proxy = cfg
		l.proxyGate = g
	}
}

// WithProxyWorthy sets the error markers that escalate a target to the
// proxy rung when its bypass attempts fail.
func WithProxyWorthy(markers []string) Option {
	return func(l *Ladder) { l.proxyWorthy = markers }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ladder) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates a Ladder.
func New(attempter Attempter, opts ...Option) *Ladder {
	l := &Ladder{
		attempter: attempter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.proxyGate == nil {
		l.proxyGate = gate.New("proxy", gate.ProxyLimit)
	}
	return l
}

func (l *Ladder) proxyAvailable() bool {
	return l.proxy.Enabled()
}

// run holds the state of one target's trip through the ladder.
type run struct {
	target      string
	identity    string
	errs        []AttemptError
	proxyNeeded bool
	outcome     *Outcome
}

func (r *run) fail(rung State, err error) {
	r.errs = append(r.errs, AttemptError{Rung: rung, Message: err.Error()})
}

// Run scans target, climbing rungs until one succeeds or all are exhausted.
// On exhaustion the error is a *Failure.
func (l *Ladder) Run(ctx context.Context, target, identity string) (*Outcome, error) {
	r := &run{target: target, identity: identity}

	state, err := Next(StateInit, EventStart)
	if err != nil {
		return nil, err
	}
	for !state.Terminal() {
		var ev Event
		switch state {
		case StateDirect:
			ev = l.direct(ctx, r)
		case StateSSLBypass:
			ev = l.bypass(ctx, r)
		case StateProxy:
			ev = l.viaProxy(ctx, r)
		}
		next, err := Next(state, ev)
		if err != nil {
			return nil, err
		}
		if state == StateDirect && next == StateFailed {
			l.logger.Warn("ladder: skipping ssl bypass", "url", target)
		}
		if next == StateProxy {
			l.logger.Warn("ladder: retrying through proxy", "url", target)
		}
		state = next
	}

	if state == StateSucceeded {
		return r.outcome, nil
	}
	return nil, &Failure{URL: target, Attempts: r.errs}
}

func (l *Ladder) direct(ctx context.Context, r *run) Event {
	var classes []Class
	for _, v := range variants(r.target) {
		if v.sslBypass {
			continue
		}
		res, err := l.attempter.Attempt(ctx, Attempt{
			Target:      r.target,
			NavigateURL: v.url,
			Rung:        StateDirect,
			Identity:    r.identity,
		})
		if err == nil {
			r.outcome = &Outcome{Features: res, FinalURL: v.url, Identity: r.identity}
			return EventSucceeded
		}
		r.fail(StateDirect, err)
		classes = append(classes, Classify(err))
		if ProxyWorthy(err, l.proxyWorthy) {
			r.proxyNeeded = true
		}
	}
	return DirectVerdict(classes)
}

func (l *Ladder) bypass(ctx context.Context, r *run) Event {
	for _, v := range variants(r.target) {
		if !v.sslBypass {
			continue
		}
		res, err := l.attempter.Attempt(ctx, Attempt{
			Target:           r.target,
			NavigateURL:      v.url,
			Rung:             StateSSLBypass,
			IgnoreCertErrors: true,
			Identity:         r.identity,
		})
		if err == nil {
			r.outcome = &Outcome{Features: res, FinalURL: v.url, SSLBypassUsed: true, Identity: r.identity}
			return EventSucceeded
		}
		r.fail(StateSSLBypass, err)
		if ProxyWorthy(err, l.proxyWorthy) {
			r.proxyNeeded = true
		}
	}
	return BypassVerdict(r.proxyNeeded, l.proxyAvailable())
}

// viaProxy tries every variant through the forward proxy under the proxy
// gate. All variants run even after a success; the first success is kept.
func (l *Ladder) viaProxy(ctx context.Context, r *run) Event {
	if err := l.proxyGate.Acquire(ctx); err != nil {
		r.fail(StateProxy, err)
		return EventExhausted
	}
	defer l.proxyGate.Release()

	for _, v := range variants(r.target) {
		res, err := l.attempter.Attempt(ctx, Attempt{
			Target:      r.target,
			NavigateURL: ProxyURL(l.proxy.URLTemplate, l.proxy.APIKey, v.url),
			Rung:        StateProxy,
			Identity:    r.identity,
		})
		if err != nil {
			r.fail(StateProxy, err)
			l.logger.Error("ladder: proxy attempt failed", "url", v.url, "error", err)
			continue
		}
		if r.outcome == nil {
			r.outcome = &Outcome{Features: res, FinalURL: v.url, UsedProxy: true, Identity: r.identity}
		}
	}
	if r.outcome != nil {
		return EventSucceeded
	}
	return EventExhausted
}
