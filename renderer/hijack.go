package renderer

import (
	"strings"
)

// NewRequestFilter builds a filter that aborts the given resource types
// (case-insensitive, e.g. "image", "stylesheet", "font") and any request whose
// URL ends with one of the given extensions. Everything else passes through.
func NewRequestFilter(resourceTypes, extensions []string) RequestFilter {
	blocked := make(map[string]struct{}, len(resourceTypes))
	for _, t := range resourceTypes {
		blocked[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			exts = append(exts, e)
		}
	}

	return func(resourceType, rawURL string) bool {
		if _, ok := blocked[strings.ToLower(resourceType)]; ok {
			return true
		}
		lower := strings.ToLower(rawURL)
		for _, ext := range exts {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
		return false
	}
}
