package models

// Job status values.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobPartial    = "partial"
	JobFailed     = "failed"
)

// ScanRequest is the payload for POST /api/v1/scans.
type ScanRequest struct {
	// Targets is the list of pages to scan. Required.
	Targets []ScanTarget `json:"targets" binding:"required,min=1,max=1000,dive"`

	// WebhookURL receives a scan.completed event when the batch finishes.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`
}

// ScanResponse is the immediate response for POST /api/v1/scans.
type ScanResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Total  int          `json:"total"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// JobStatusResponse is the response for GET /api/v1/scans/:id.
type JobStatusResponse struct {
	ID        string                 `json:"id"`
	Status    string                 `json:"status"`
	Total     int                    `json:"total"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Results   map[string]*ScanResult `json:"results,omitempty"`
	Errors    []ErrorLogEntry        `json:"errors,omitempty"`
	Error     *ErrorDetail           `json:"error,omitempty"`
}

// ScanJob tracks a queued or running API batch.
type ScanJob struct {
	ID         string
	Status     string
	Targets    []ScanTarget
	WebhookURL string
	Results    map[string]*ScanResult
	Errors     []ErrorLogEntry
	Error      *ErrorDetail // set when the batch could not run at all
	CreatedAt  int64        // unix timestamp
	FinishedAt int64
}

// StatusResponse renders the job for the API and webhook payloads.
func (j *ScanJob) StatusResponse() JobStatusResponse {
	resp := JobStatusResponse{
		ID:      j.ID,
		Status:  j.Status,
		Total:   len(j.Targets),
		Results: j.Results,
		Errors:  j.Errors,
		Error:   j.Error,
	}
	for _, r := range j.Results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}
