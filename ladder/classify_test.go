package ladder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/use-agent/pagesignal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassOther},
		{"dns", errors.New("Navigation failed (fallback too): navigation failed: net::ERR_NAME_NOT_RESOLVED"), ClassDNS},
		{"timeout", errors.New("net::ERR_CONNECTION_TIMED_OUT"), ClassTimeout},
		{"closed", errors.New("Protocol error: Connection closed."), ClassConnectionClosed},
		{"closed socket", fmt.Errorf("eval: %w", errors.New("write tcp: use of closed network connection")), ClassConnectionClosed},
		{"closed code", models.NewScanError(models.ErrCodeConnectionClosed, "gone", nil), ClassConnectionClosed},
		{"cert", errors.New("net::ERR_CERT_AUTHORITY_INVALID"), ClassCertificate},
		{"ssl", errors.New("net::ERR_SSL_PROTOCOL_ERROR"), ClassCertificate},
		{"other", errors.New("net::ERR_ABORTED"), ClassOther},
		{"navigation timeout", errors.New("navigation timeout of 90000 ms exceeded"), ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProxyWorthy(t *testing.T) {
	markers := []string{"ERR_CONNECTION_RESET", "ERR_CERT_"}
	if !ProxyWorthy(errors.New("net::ERR_CONNECTION_RESET"), markers) {
		t.Error("reset should be proxy-worthy")
	}
	if !ProxyWorthy(errors.New("net::ERR_CERT_DATE_INVALID"), markers) {
		t.Error("cert prefix should match")
	}
	if ProxyWorthy(errors.New("net::ERR_NAME_NOT_RESOLVED"), markers) {
		t.Error("dns should not be proxy-worthy")
	}
	if ProxyWorthy(nil, markers) {
		t.Error("nil is never proxy-worthy")
	}
	if ProxyWorthy(errors.New("anything"), []string{""}) {
		t.Error("empty marker must not match")
	}
}

func TestProxyURL(t *testing.T) {
	got := ProxyURL("http://api.scraperapi.com/?api_key={api_key}&url={url}", "k3y", "https://a.com/p?x=1&y=2")
	want := "http://api.scraperapi.com/?api_key=k3y&url=https%3A%2F%2Fa.com%2Fp%3Fx%3D1%26y%3D2"
	if got != want {
		t.Errorf("ProxyURL = %q, want %q", got, want)
	}
}

func TestFailureError(t *testing.T) {
	f := &Failure{URL: "https://a.com", Attempts: []AttemptError{
		{Rung: StateDirect, Message: "boom"},
		{Rung: StateSSLBypass, Message: "bang"},
		{Rung: StateProxy, Message: "p1"},
		{Rung: StateProxy, Message: "p2"},
	}}
	want := "- direct: boom\n- ssl-bypass: bang\n- proxy: p1\n- proxy: p2"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
	rungs := f.Rungs()
	if len(rungs) != 3 || rungs[0] != StateDirect || rungs[2] != StateProxy {
		t.Errorf("Rungs = %v", rungs)
	}
}
