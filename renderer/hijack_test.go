package renderer

import "testing"

func TestNewRequestFilter(t *testing.T) {
	filter := NewRequestFilter(
		[]string{"Image", "stylesheet", "font"},
		[]string{".zip", ".PDF", "AppImage"},
	)

	tests := []struct {
		name         string
		resourceType string
		url          string
		want         bool
	}{
		{"image blocked", "image", "https://a.com/x.png", true},
		{"stylesheet blocked", "Stylesheet", "https://a.com/site.css", true},
		{"font blocked", "font", "https://a.com/f.woff2", true},
		{"script passes", "script", "https://a.com/app.js", false},
		{"document passes", "document", "https://a.com/", false},
		{"extension blocked", "other", "https://a.com/archive.ZIP", true},
		{"extension case-insensitive", "xhr", "https://a.com/report.pdf", true},
		{"appimage suffix", "other", "https://a.com/tool.AppImage", true},
		{"extension must be suffix", "script", "https://a.com/zip.js", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter(tt.resourceType, tt.url); got != tt.want {
				t.Errorf("filter(%q, %q) = %v, want %v", tt.resourceType, tt.url, got, tt.want)
			}
		})
	}
}
