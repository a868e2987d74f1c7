package ladder

import (
	"net/url"
	"strings"
)

// ProxyURL fills the {api_key} and {url} placeholders of a forward-proxy
// URL template. The target is query-escaped.
func ProxyURL(template, apiKey, target string) string {
	r := strings.NewReplacer(
		"{api_key}", url.QueryEscape(apiKey),
		"{url}", url.QueryEscape(target),
	)
	return r.Replace(template)
}
