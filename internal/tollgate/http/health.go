package http

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
	Cache    string `json:"cache,omitempty"`
}
