package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/use-agent/pagesignal/cache"
	"github.com/use-agent/pagesignal/models"
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"
)

// Registry looks up the registrar name of a domain.
type Registry interface {
	Lookup(ctx context.Context, domain string) (registrar string, err error)
}

// WhoisRegistry queries public WHOIS servers, following one referral.
type WhoisRegistry struct {
	client *whois.Client
}

// NewWhoisRegistry creates a WhoisRegistry with a per-query timeout.
func NewWhoisRegistry(timeout time.Duration) *WhoisRegistry {
	return &WhoisRegistry{client: whois.NewClient().SetTimeout(timeout)}
}

// Lookup returns the registrar name, or "" when the record carries none.
func (r *WhoisRegistry) Lookup(ctx context.Context, domain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := r.client.Whois(domain)
	if err != nil {
		return "", err
	}
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("whois: parse %s: %w", domain, err)
	}
	if info.Registrar == nil {
		return "", nil
	}
	return info.Registrar.Name, nil
}

// Prober derives the metadata record of a URL.
type Prober struct {
	registry Registry
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	cache    *cache.Cache
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithRetry sets the number of lookup attempts and the fixed pause between them.
func WithRetry(attempts int, backoff time.Duration) ProberOption {
	return func(p *Prober) {
		if attempts > 0 {
			p.attempts = attempts
		}
		p.backoff = backoff
	}
}

// WithRateLimit paces registry queries across all concurrent tasks.
func WithRateLimit(perSecond float64, burst int) ProberOption {
	return func(p *Prober) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithCache reuses completed lookups for the same domain.
func WithCache(c *cache.Cache) ProberOption {
	return func(p *Prober) { p.cache = c }
}

// WithProberLogger sets the logger.
func WithProberLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProber creates a Prober. Defaults: 2 attempts, 2s backoff, no pacing, no cache.
func NewProber(registry Registry, opts ...ProberOption) *Prober {
	p := &Prober{
		registry: registry,
		attempts: 2,
		backoff:  2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the metadata record for rawURL. It never fails.
func (p *Prober) Probe(ctx context.Context, rawURL string) models.MetadataRecord {
	return models.MetadataRecord{
		IsHTTPS:       HTTPSCheck(rawURL),
		WhoisComplete: p.RegistrationCompleteness(ctx, rawURL),
	}
}

// RegistrationCompleteness returns 1 when the registry reports a registrar
// for the URL's domain (leading "www." stripped) and 0 otherwise, including
// on any lookup failure.
func (p *Prober) RegistrationCompleteness(ctx context.Context, rawURL string) int {
	domain := lookupDomain(rawURL)
	if domain == "" {
		return 0
	}
	key := cache.Key(domain)
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			return v
		}
	}

	registrar, err := p.lookup(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			p.logger.Warn("probe: whois server not found, likely unsupported TLD", "domain", domain)
		} else {
			p.logger.Warn("probe: whois failed", "domain", domain, "error", err)
		}
		return 0
	}

	complete := 0
	if len(strings.TrimSpace(registrar)) > 1 {
		complete = 1
	}
	if p.cache != nil {
		p.cache.Set(key, complete)
	}
	return complete
}

func (p *Prober) lookup(ctx context.Context, domain string) (string, error) {
	var lastErr error
	for i := 0; i < p.attempts; i++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		registrar, err := p.registry.Lookup(ctx, domain)
		if err == nil {
			return registrar, nil
		}
		lastErr = err
		if i == p.attempts-1 || !isTransient(err) {
			break
		}
		p.logger.Warn("probe: whois retry", "domain", domain, "attempt", i+1, "error", err)
		if err := sleepCtx(ctx, p.backoff); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// lookupDomain extracts the ASCII hostname of rawURL without a leading "www.".
func lookupDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}

// isTransient reports network and name-resolution failures worth retrying.
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "no such host", "temporary failure in name resolution", "server misbehaving"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
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
