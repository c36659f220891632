package models

// ErrCodeUnauthorized is returned by the status server for a missing or
// unknown API key.
const ErrCodeUnauthorized = "UNAUTHORIZED"

// ErrorDetail is the error body of a status server response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an ErrorDetail.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Phase   string `json:"phase"`
	RunID   string `json:"run_id"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}
