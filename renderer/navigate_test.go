package renderer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type scriptedNavPage struct {
	Page
	results []error
	waits   []WaitCondition
}

func (p *scriptedNavPage) Navigate(ctx context.Context, rawURL string, wait WaitCondition, timeout time.Duration) error {
	p.waits = append(p.waits, wait)
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func TestNavigateWithFallback(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		p := &scriptedNavPage{results: []error{nil}}
		if err := NavigateWithFallback(context.Background(), p, "https://a.com", time.Second); err != nil {
			t.Fatal(err)
		}
		if len(p.waits) != 1 || p.waits[0] != WaitDOMReady {
			t.Errorf("waits = %v", p.waits)
		}
	})

	t.Run("fallback succeeds", func(t *testing.T) {
		p := &scriptedNavPage{results: []error{errors.New("timeout"), nil}}
		if err := NavigateWithFallback(context.Background(), p, "https://a.com", time.Second); err != nil {
			t.Fatal(err)
		}
		if len(p.waits) != 2 || p.waits[1] != WaitNetworkIdle {
			t.Errorf("waits = %v", p.waits)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		fallbackErr := errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")
		p := &scriptedNavPage{results: []error{errors.New("first"), fallbackErr}}
		err := NavigateWithFallback(context.Background(), p, "https://a.com", time.Second)

		var navErr *NavigationError
		if !errors.As(err, &navErr) {
			t.Fatalf("error = %v, want *NavigationError", err)
		}
		if !errors.Is(err, fallbackErr) {
			t.Error("NavigationError should wrap the fallback error")
		}
		if !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
			t.Errorf("message %q should carry the fallback reason", err.Error())
		}
	})
}
