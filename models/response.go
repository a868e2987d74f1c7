package models

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	QueuedJobs int    `json:"queued_jobs"`
	ActiveJob  string `json:"active_job,omitempty"`
	Version    string `json:"version"`
}

// ErrorResponse wraps an ErrorDetail for handlers that fail before a job exists.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}
