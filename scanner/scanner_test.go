package scanner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/pagesignal/config"
	"github.com/use-agent/pagesignal/models"
	"github.com/use-agent/pagesignal/renderer"
)

const testHTML = `<html><head><script>var a = 1;</script><script src="https://cdn.example.net/x.js"></script></head></html>`

// fakeEnv backs every fake browser generation; navigate decides the result
// of each navigation given the browser generation that served it.
type fakeEnv struct {
	gen      atomic.Int32
	navigate func(gen int32, url string) error
	emulate  func(ctx context.Context) error
}

func (e *fakeEnv) launch(ctx context.Context, proxy string) (renderer.Browser, error) {
	return &fakeBrowser{env: e, gen: e.gen.Add(1)}, nil
}

type fakeBrowser struct {
	env *fakeEnv
	gen int32
}

func (b *fakeBrowser) NewPage(ctx context.Context) (renderer.Page, error) {
	return &fakePage{env: b.env, gen: b.gen}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakePage struct {
	env      *fakeEnv
	gen      int32
	ignored  bool
	emulated renderer.Emulation
}

func (p *fakePage) SetRequestInterception(filter renderer.RequestFilter) error { return nil }

func (p *fakePage) IgnoreCertificateErrors(ctx context.Context) error {
	p.ignored = true
	return nil
}

func (p *fakePage) Emulate(ctx context.Context, em renderer.Emulation) error {
	if p.env.emulate != nil {
		if err := p.env.emulate(ctx); err != nil {
			return err
		}
	}
	p.emulated = em
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, wait renderer.WaitCondition, timeout time.Duration) error {
	if p.env.navigate == nil {
		return nil
	}
	return p.env.navigate(p.gen, url)
}

func (p *fakePage) Evaluate(ctx context.Context, js string, args ...any) (string, error) {
	if len(args) == 0 {
		return testHTML, nil
	}
	return "", nil
}

func (p *fakePage) Close() error { return nil }

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, rawURL string) models.MetadataRecord {
	return models.MetadataRecord{IsHTTPS: 1, WhoisComplete: 1}
}

type recordingSink struct {
	calls   atomic.Int32
	batches []*Batch
	mu      sync.Mutex
}

func (s *recordingSink) Write(ctx context.Context, b *Batch) error {
	s.calls.Add(1)
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	return nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Scan.Delays = config.DelayConfig{}
	cfg.Proxy.APIKey = "test-key"
	cfg.Proxy.URLTemplate = "http://proxy.test/?api_key={api_key}&url={url}"
	return cfg
}

func newTestScanner(env *fakeEnv, cfg *config.Config, opts ...Option) (*Scanner, *renderer.Manager) {
	mgr := renderer.NewManager(env.launch, renderer.WithWarmup(0))
	opts = append([]Option{WithIdentity(func() string { return "test-agent" })}, opts...)
	return New(cfg, mgr, fakeProber{}, opts...), mgr
}

func TestRun_OneEntryPerTarget(t *testing.T) {
	env := &fakeEnv{navigate: func(gen int32, url string) error {
		if strings.Contains(url, "nx.test") {
			return errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")
		}
		return nil
	}}
	sink := &recordingSink{}
	s, _ := newTestScanner(env, testConfig(), WithSink(sink))

	targets := []models.ScanTarget{
		{URL: "https://a.com", Label: "benign"},
		{URL: "https://nx.test", Label: "phish"},
		{URL: "https://b.com", Label: "benign"},
	}
	b, err := s.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(b.Results) != len(targets) {
		t.Fatalf("results = %d, want %d", len(b.Results), len(targets))
	}

	ok := b.Results["https://a.com"]
	if !ok.Success || ok.Label != "benign" || ok.Features == nil || ok.Metadata == nil {
		t.Errorf("a.com = %+v", ok)
	}
	if ok.Features.JSLen != len("var a = 1;") || ok.Features.JSExternalCount != 1 {
		t.Errorf("features = %+v", ok.Features)
	}
	if ok.Identity != "test-agent" || ok.FinalURL != "https://a.com" {
		t.Errorf("outcome fields = %+v", ok)
	}

	bad := b.Results["https://nx.test"]
	if bad.Success || bad.Label != "phish" || bad.FinalURLTried != "https://nx.test" {
		t.Errorf("nx.test = %+v", bad)
	}
	if !strings.HasPrefix(bad.Error, "- direct: ") || strings.Contains(bad.Error, "ssl-bypass") {
		t.Errorf("nx.test error = %q, want direct-only failure", bad.Error)
	}
	if len(b.Errors) != 1 || b.Errors[0].URL != "https://nx.test" {
		t.Errorf("error log = %+v", b.Errors)
	}
	if sink.calls.Load() != 1 {
		t.Errorf("sink calls = %d, want 1", sink.calls.Load())
	}
}

func TestRun_DuplicateCollapse(t *testing.T) {
	s, _ := newTestScanner(&fakeEnv{}, testConfig())
	b, err := s.Run(context.Background(), []models.ScanTarget{{URL: "a.com"}, {URL: "a.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(b.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(b.Results))
	}
	if _, ok := b.Results["a.com"]; !ok {
		t.Error("missing entry keyed a.com")
	}
}

func TestRun_EmptyURL(t *testing.T) {
	s, _ := newTestScanner(&fakeEnv{}, testConfig())
	b, err := s.Run(context.Background(), []models.ScanTarget{{URL: " ", Label: "x"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r := b.Results[" "]; r == nil || r.Success {
		t.Errorf("result = %+v, want failure", r)
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	env := &fakeEnv{navigate: func(gen int32, url string) error {
		if strings.Contains(url, "panic.test") {
			panic("renderer exploded")
		}
		return nil
	}}
	s, _ := newTestScanner(env, testConfig())

	b, err := s.Run(context.Background(), []models.ScanTarget{
		{URL: "https://panic.test"},
		{URL: "https://ok.test"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r := b.Results["https://panic.test"]; r.Success || !strings.Contains(r.Error, "renderer exploded") {
		t.Errorf("panic target = %+v", r)
	}
	if r := b.Results["https://ok.test"]; !r.Success {
		t.Errorf("sibling target = %+v", r)
	}
	if in := s.Gates().Page.InFlight(); in != 0 {
		t.Errorf("page slots leaked: %d", in)
	}
}

func TestRun_RelaunchCoalesced(t *testing.T) {
	const n = 10

	var arrived sync.WaitGroup
	arrived.Add(n)
	barrier := make(chan struct{})
	go func() {
		arrived.Wait()
		close(barrier)
	}()

	env := &fakeEnv{}
	env.navigate = func(gen int32, url string) error {
		if gen == 1 {
			closed := errors.New("Protocol error: Connection closed.")
			select {
			case <-barrier:
				// fallback navigation after the barrier opened
				return closed
			default:
			}
			// Every task sees the first browser die at the same moment.
			arrived.Done()
			<-barrier
			return closed
		}
		return nil
	}
	cfg := testConfig()
	cfg.Scan.NavigationTimeout = time.Second

	var launches atomic.Int32
	mgr := renderer.NewManager(func(ctx context.Context, proxy string) (renderer.Browser, error) {
		if launches.Add(1) > 1 {
			time.Sleep(100 * time.Millisecond)
		}
		return env.launch(ctx, proxy)
	}, renderer.WithWarmup(0))
	s := New(cfg, mgr, fakeProber{})

	targets := make([]models.ScanTarget, n)
	for i := range targets {
		targets[i] = models.ScanTarget{URL: "https://t" + string(rune('a'+i)) + ".test"}
	}
	b, err := s.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mgr.Launches(); got != 2 {
		t.Errorf("launches = %d, want 2 (initial + one coalesced relaunch)", got)
	}
	for u, r := range b.Results {
		if !r.Success || !r.SSLBypassUsed {
			t.Errorf("%s = %+v, want success on the bypass rung", u, r)
		}
	}
}

func TestRun_ProxyGateBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	env := &fakeEnv{navigate: func(gen int32, url string) error {
		if !strings.HasPrefix(url, "http://proxy.test/") {
			return errors.New("navigation failed: net::ERR_CONNECTION_RESET")
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}}
	cfg := testConfig()
	cfg.Scan.TaskConcurrency = 30
	cfg.Scan.PageConcurrency = 30
	s, _ := newTestScanner(env, cfg)

	targets := make([]models.ScanTarget, 25)
	for i := range targets {
		targets[i] = models.ScanTarget{URL: "https://p" + string(rune('a'+i)) + ".test"}
	}
	b, err := s.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p := peak.Load(); p > 5 {
		t.Errorf("peak proxied navigations = %d, want <= 5", p)
	}
	for u, r := range b.Results {
		if !r.Success || !r.UsedProxy {
			t.Errorf("%s = %+v, want proxied success", u, r)
		}
		if r.FinalURL != u {
			t.Errorf("final url = %q, want the target not the proxy URL", r.FinalURL)
		}
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	mgr := renderer.NewManager(func(ctx context.Context, proxy string) (renderer.Browser, error) {
		return nil, errors.New("no chromium")
	}, renderer.WithWarmup(0))
	s := New(testConfig(), mgr, fakeProber{})
	if _, err := s.Run(context.Background(), []models.ScanTarget{{URL: "https://a.com"}}); err == nil {
		t.Fatal("want launch error")
	}
}

func TestRun_SinkError(t *testing.T) {
	s, _ := newTestScanner(&fakeEnv{}, testConfig(), WithSink(failingSink{}))
	b, err := s.Run(context.Background(), []models.ScanTarget{{URL: "https://a.com"}})
	if err == nil {
		t.Fatal("want sink error")
	}
	if b == nil || len(b.Results) != 1 {
		t.Error("batch must still be returned")
	}
}

type failingSink struct{}

func (failingSink) Write(ctx context.Context, b *Batch) error { return errors.New("disk full") }

func TestRun_FailureLogsRungs(t *testing.T) {
	env := &fakeEnv{navigate: func(gen int32, url string) error {
		return errors.New("navigation failed: net::ERR_ABORTED")
	}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s, _ := newTestScanner(env, testConfig(), WithLogger(logger))

	if _, err := s.Run(context.Background(), []models.ScanTarget{{URL: "https://a.com"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "direct ssl-bypass") {
		t.Errorf("failure log does not list the attempted rungs: %s", buf.String())
	}
}
