package models

// ScanTarget is one input row: a page to scan and its dataset label.
type ScanTarget struct {
	URL   string `json:"url" yaml:"url" binding:"required"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// FeatureRecord holds the script signals of one page. All three fields are
// -1 when extraction failed on an otherwise successful navigation.
type FeatureRecord struct {
	JSLen           int `json:"js_len"`
	JSObfLen        int `json:"js_obf_len"`
	JSExternalCount int `json:"js_external_count"`
}

// MetadataRecord holds the domain-level signals of one page.
type MetadataRecord struct {
	// IsHTTPS is 1 for https, 0 for any other scheme, -1 if unparsable.
	IsHTTPS int `json:"is_https"`

	// WhoisComplete is 1 when the registry returned a registrar name.
	WhoisComplete int `json:"whois_complete"`
}

// ScanResult is the single outcome recorded for a target URL.
type ScanResult struct {
	Success bool   `json:"success"`
	Label   string `json:"label"`

	// Populated on success.
	Features      *FeatureRecord  `json:"features,omitempty"`
	Metadata      *MetadataRecord `json:"metadata,omitempty"`
	FinalURL      string          `json:"final_url,omitempty"`
	SSLBypassUsed bool            `json:"ssl_bypass_used,omitempty"`
	UsedProxy     bool            `json:"used_proxy,omitempty"`
	Identity      string          `json:"identity,omitempty"`

	// Populated on failure.
	Error         string `json:"error,omitempty"`
	FinalURLTried string `json:"final_url_tried,omitempty"`
}

// ErrorLogEntry is one row of the per-batch error log.
type ErrorLogEntry struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// FeatureColumns is the fixed column order of a successful result row after
// the leading url and label columns.
var FeatureColumns = []string{
	"js_len",
	"js_obf_len",
	"js_external_count",
	"is_https",
	"whois_complete",
}

// Row flattens a successful result into column values keyed by FeatureColumns.
func (r *ScanResult) Row() map[string]int {
	row := make(map[string]int, len(FeatureColumns))
	if r.Features != nil {
		row["js_len"] = r.Features.JSLen
		row["js_obf_len"] = r.Features.JSObfLen
		row["js_external_count"] = r.Features.JSExternalCount
	}
	if r.Metadata != nil {
		row["is_https"] = r.Metadata.IsHTTPS
		row["whois_complete"] = r.Metadata.WhoisComplete
	}
	return row
}
