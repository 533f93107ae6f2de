package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"`
	ServiceCount  int    `json:"service_count"`
	UpCount       int    `json:"up_count"`
	DownCount     int    `json:"down_count"`
	DegradedCount int    `json:"degraded_count"`
	UnknownCount  int    `json:"unknown_count"`
	GeneratedAt   string `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
