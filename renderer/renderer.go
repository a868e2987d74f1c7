// Package renderer owns the single shared headless browser of a scan batch
// and defines the execution-context capability that the rest of the scanner
// depends on. Any browser-automation backend can implement Browser and Page;
// the go-rod backend lives in rod.go.
package renderer

import (
	"context"
	"time"
)

// WaitCondition selects the lifecycle event a navigation waits for.
type WaitCondition int

const (
	// WaitDOMReady waits for DOMContentLoaded.
	WaitDOMReady WaitCondition = iota
	// WaitNetworkIdle waits until at most two requests are in flight.
	WaitNetworkIdle
)

func (w WaitCondition) String() string {
	switch w {
	case WaitDOMReady:
		return "domcontentloaded"
	case WaitNetworkIdle:
		return "networkidle"
	default:
		return "unknown"
	}
}

// RequestFilter reports whether a sub-request should be aborted.
// resourceType is lower-case (e.g. "image", "script").
type RequestFilter func(resourceType, rawURL string) bool

// Emulation is the client identity applied to a page before navigation.
type Emulation struct {
	UserAgent      string
	Width          int
	Height         int
	AcceptLanguage string
}

// Page is one exclusive tab used for a single attempt.
type Page interface {
	// SetRequestInterception routes every sub-request through filter.
	SetRequestInterception(filter RequestFilter) error

	// IgnoreCertificateErrors opens a protocol session on the page and
	// suppresses certificate errors for subsequent navigations.
	IgnoreCertificateErrors(ctx context.Context) error

	// Emulate applies the user agent, viewport and Accept-Language header.
	Emulate(ctx context.Context, em Emulation) error

	// Navigate loads rawURL and waits for the given condition, bounded by timeout.
	Navigate(ctx context.Context, rawURL string, wait WaitCondition, timeout time.Duration) error

	// Evaluate runs a JavaScript function in the page and returns its string result.
	Evaluate(ctx context.Context, js string, args ...any) (string, error)

	// Close releases the tab.
	Close() error
}

// Browser is a running rendering engine that hands out pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// LaunchFunc starts a fresh browser. proxy is an optional upstream proxy
// server address; empty means direct.
type LaunchFunc func(ctx context.Context, proxy string) (Browser, error)
