// Package scanner runs a batch of targets through the retry ladder on one
// shared browser and aggregates a single outcome per URL.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/features"
	"github.com/use-agent/pagesignal/gate"
	"github.com/use-agent/pagesignal/ladder"
	"github.com/use-agent/pagesignal/models"
	"github.com/use-agent/pagesignal/renderer"
	"golang.org/x/sync/errgroup"
)

// Prober computes the domain metadata of a successfully scanned URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string) models.MetadataRecord
}

// Batch is the aggregated outcome of one Run.
type Batch struct {
	ID string
	// Results holds exactly one entry per distinct target URL.
	Results map[string]*models.ScanResult
	// Errors lists failed targets in the order they failed.
	Errors     []models.ErrorLogEntry
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns the number of successful results.
func (b *Batch) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of failed results.
func (b *Batch) Failed() int {
	return len(b.Results) - b.Succeeded()
}

// Sink persists a finished batch.
type Sink interface {
	Write(ctx context.Context, b *Batch) error
}

// Scanner owns the gates and the ladder of a batch run.
type Scanner struct {
	renderer *renderer.Manager
	gates    *gate.Set
	ladder   *ladder.Ladder
	prober   Prober
	sinks    []Sink
	identity func() string
	logger   *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSink adds a sink that receives every finished batch.
func WithSink(s Sink) Option {
	return func(sc *Scanner) { sc.sinks = append(sc.sinks, s) }
}

// WithIdentity replaces the per-target identity picker.
func WithIdentity(fn func() string) Option {
	return func(sc *Scanner) { sc.identity = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sc *Scanner) {
		if l != nil {
			sc.logger = l
		}
	}
}

// New wires a Scanner from the configuration.
func New(cfg *config.Config, mgr *renderer.Manager, prober Prober, opts ...Option) *Scanner {
	s := &Scanner{
		renderer: mgr,
		gates:    gate.NewSet(cfg.Scan.TaskConcurrency, cfg.Scan.PageConcurrency),
		prober:   prober,
		identity: RandomIdentity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ext := features.NewExtractor(cfg.Scan.EntropyThreshold, s.logger,
		features.WithEvalTimeout(cfg.Browser.ProtocolTimeout))
	exec := NewExecutor(mgr, s.gates.Page, ext, cfg.Browser, cfg.Scan, s.logger)
	s.ladder = ladder.New(exec,
		ladder.WithProxy(cfg.Proxy, s.gates.Proxy),
		ladder.WithProxyWorthy(cfg.Scan.ProxyRetryErrors),
		ladder.WithLogger(s.logger),
	)
	return s
}

// Gates exposes the admission pools, mainly for inspection.
func (s *Scanner) Gates() *gate.Set {
	return s.gates
}

// Run launches the browser, scans every target and tears the browser down.
// A failing target never aborts the batch. Sinks are called once with the
// complete batch; a sink error is returned alongside the batch.
func (s *Scanner) Run(ctx context.Context, targets []models.ScanTarget) (*Batch, error) {
	b := &Batch{
		ID:        uuid.NewString(),
		Results:   make(map[string]*models.ScanResult, len(targets)),
		StartedAt: time.Now(),
	}
	s.logger.Info("scanner: batch started", "batch", b.ID, "targets", len(targets))

	if err := s.renderer.Launch(ctx, ""); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			if err := s.gates.Task.Acquire(ctx); err != nil {
				s.record(&mu, b, t, failure(t, err))
				return nil
			}
			defer s.gates.Task.Release()
			s.record(&mu, b, t, s.scanTarget(ctx, t))
			return nil
		})
	}
	_ = g.Wait()

	if err := s.renderer.Close(); err != nil {
		s.logger.Debug("scanner: browser close failed", "error", err)
	}
	b.FinishedAt = time.Now()
	s.logger.Info("scanner: batch finished",
		"batch", b.ID,
		"results", len(b.Results),
		"succeeded", b.Succeeded(),
		"failed", b.Failed(),
		"duration", b.FinishedAt.Sub(b.StartedAt),
	)

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return b, errors.Join(errs...)
}

func (s *Scanner) record(mu *sync.Mutex, b *Batch, t models.ScanTarget, r *models.ScanResult) {
	mu.Lock()
	defer mu.Unlock()
	b.Results[t.URL] = r
	if !r.Success {
		b.Errors = append(b.Errors, models.ErrorLogEntry{URL: t.URL, Error: r.Error})
	}
}

// scanTarget resolves one target. Panics are converted to a failure record.
func (s *Scanner) scanTarget(ctx context.Context, t models.ScanTarget) (res *models.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(t, models.NewScanError(models.ErrCodeInternal, "scan panicked", fmt.Errorf("%v", r)))
			s.logger.Error("scanner: recovered panic", "url", t.URL, "panic", r)
		}
	}()

	if strings.TrimSpace(t.URL) == "" {
		return failure(t, models.NewScanError(models.ErrCodeInvalidInput, "empty url", nil))
	}

	s.logger.Info("scanner: scanning", "url", t.URL)
	out, err := s.ladder.Run(ctx, t.URL, s.identity())
	if err != nil {
		attrs := []any{"url", t.URL, "error", err}
		var f *ladder.Failure
		if errors.As(err, &f) {
			attrs = append(attrs, "rungs", f.Rungs())
		}
		s.logger.Error("scanner: failed", attrs...)
		return failure(t, err)
	}

	rec := out.Features.Record()
	md := s.prober.Probe(ctx, out.FinalURL)
	s.logger.Info("scanner: scanned", "url", t.URL, "ssl_bypass", out.SSLBypassUsed, "proxy", out.UsedProxy)
	return &models.ScanResult{
		Success:       true,
		Label:         t.Label,
		Features:      &rec,
		Metadata:      &md,
		FinalURL:      out.FinalURL,
		SSLBypassUsed: out.SSLBypassUsed,
		UsedProxy:     out.UsedProxy,
		Identity:      out.Identity,
	}
}

func failure(t models.ScanTarget, err error) *models.ScanResult {
	return &models.ScanResult{
		Label:         t.Label,
		Error:         err.Error(),
		FinalURLTried: t.URL,
	}
}
