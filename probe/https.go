// Package probe computes the domain-level signals of a scanned page: whether
// it is served over TLS and whether its domain has a complete registration
// record.
package probe

import "net/url"

// HTTPSCheck returns 1 for an https URL, 0 for any other scheme and -1 when
// rawURL cannot be parsed as an absolute URL. http and https URLs without a
// host are unparsable.
func HTTPSCheck(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return -1
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return -1
	}
	if u.Scheme == "https" {
		return 1
	}
	return 0
}
