package renderer

import (
	"context"
	"fmt"
	"time"
)

// NavigationError is returned when both wait strategies failed.
type NavigationError struct {
	URL      string
	Primary  error // DOM-ready attempt
	Fallback error // network-idle attempt
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("Navigation failed (fallback too): %v", e.Fallback)
}

func (e *NavigationError) Unwrap() []error {
	return []error{e.Fallback, e.Primary}
}

// NavigateWithFallback navigates with a DOM-ready wait and, if that fails,
// once more with a network-idle wait using the same timeout.
func NavigateWithFallback(ctx context.Context, p Page, rawURL string, timeout time.Duration) error {
	primary := p.Navigate(ctx, rawURL, WaitDOMReady, timeout)
	if primary == nil {
		return nil
	}
	fallback := p.Navigate(ctx, rawURL, WaitNetworkIdle, timeout)
	if fallback == nil {
		return nil
	}
	return &NavigationError{URL: rawURL, Primary: primary, Fallback: fallback}
}
