package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/pagesignal/models"
	"golang.org/x/sync/singleflight"
)

// ErrNotLaunched is returned by NewPage before the first Launch.
var ErrNotLaunched = errors.New("renderer: browser not launched")

// Manager owns the browser shared by every task of a batch. Relaunch
// requests are coalesced: while one relaunch is in flight, every other
// caller waits on it instead of starting its own.
type Manager struct {
	launch LaunchFunc
	warmup time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	browser Browser

	relaunch singleflight.Group
	launches atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithWarmup sets the fixed delay after each launch before the browser is used.
func WithWarmup(d time.Duration) Option {
	return func(m *Manager) { m.warmup = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. Call Launch before requesting pages.
func NewManager(launch LaunchFunc, opts ...Option) *Manager {
	m := &Manager{
		launch: launch,
		warmup: 2500 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Launch closes any existing browser (best-effort), starts a new one and
// waits for the warm-up delay.
func (m *Manager) Launch(ctx context.Context, proxy string) error {
	m.mu.Lock()
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Debug("renderer: closing previous browser failed", "error", err)
		}
		m.browser = nil
	}
	b, err := m.launch(ctx, proxy)
	if err != nil {
		m.mu.Unlock()
		return models.NewScanError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	m.browser = b
	m.mu.Unlock()

	n := m.launches.Add(1)
	m.logger.Info("renderer: browser launched", "launch", n, "proxy", proxy != "")

	return sleepCtx(ctx, m.warmup)
}

// EnsureRelaunched replaces the shared browser. Concurrent callers share a
// single in-flight relaunch and all receive its result.
func (m *Manager) EnsureRelaunched(ctx context.Context, proxy string) error {
	_, err, shared := m.relaunch.Do("relaunch", func() (any, error) {
		m.logger.Warn("renderer: relaunching browser")
		// The relaunch outlives any single caller's cancellation.
		return nil, m.Launch(context.WithoutCancel(ctx), proxy)
	})
	if shared {
		m.logger.Debug("renderer: joined in-flight relaunch")
	}
	return err
}

// NewPage opens a tab on the current browser.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotLaunched
	}
	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("renderer: new page: %w", err)
	}
	return p, nil
}

// Launches returns how many times a browser has been started.
func (m *Manager) Launches() int64 {
	return m.launches.Load()
}

// Close shuts the browser down. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.logger.Info("renderer: browser closed")
	return err
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
