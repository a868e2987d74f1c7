package ladder

import (
	"errors"
	"strings"

	"github.com/use-agent/pagesignal/models"
)

// Class groups navigation failures by what the ladder does about them.
type Class int

const (
	ClassOther Class = iota
	ClassDNS
	ClassTimeout
	ClassConnectionClosed
	ClassCertificate
)

func (c Class) String() string {
	switch c {
	case ClassDNS:
		return "dns"
	case ClassTimeout:
		return "timeout"
	case ClassConnectionClosed:
		return "connection-closed"
	case ClassCertificate:
		return "certificate"
	default:
		return "other"
	}
}

var (
	dnsMarkers     = []string{"ERR_NAME_NOT_RESOLVED"}
	timeoutMarkers = []string{"ERR_CONNECTION_TIMED_OUT"}
	closedMarkers  = []string{
		"connection closed",
		"use of closed network connection",
		"websocket: close",
		"browser has disconnected",
	}
	certMarkers = []string{"ERR_CERT_", "ERR_SSL_"}
)

// Classify maps a navigation error to its class by its message.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	var se *models.ScanError
	if errors.As(err, &se) && se.Code == models.ErrCodeConnectionClosed {
		return ClassConnectionClosed
	}
	msg := err.Error()
	switch {
	case containsAny(msg, dnsMarkers):
		return ClassDNS
	case containsAny(msg, timeoutMarkers):
		return ClassTimeout
	case containsAny(strings.ToLower(msg), closedMarkers):
		return ClassConnectionClosed
	case containsAny(msg, certMarkers):
		return ClassCertificate
	}
	return ClassOther
}

// IsConnectionClosed reports whether err means the shared browser's
// transport is gone and the browser must be relaunched.
func IsConnectionClosed(err error) bool {
	return Classify(err) == ClassConnectionClosed
}

// ProxyWorthy reports whether err matches one of the configured markers.
func ProxyWorthy(err error, markers []string) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), markers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
