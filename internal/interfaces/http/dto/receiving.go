package dto

// SessionURI binds the session path segments
type SessionURI struct {
	Location string `uri:"location" binding:"required,max=64"`
	Date     string `uri:"date" binding:"required"`
}

// RegisterScanRequest is the body of a scan
type RegisterScanRequest struct {
	PackageID string `json:"package_id"`
}

// HealthResponse reports the reachability of the backing services
type HealthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Instance string            `json:"instance,omitempty"`
	Details  map[string]any    `json:"details,omitempty"`
}
