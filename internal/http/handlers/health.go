// Package handlers provides HTTP API handlers for mediaflow.
package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"
)

// HealthHandler handles health, liveness, and readiness check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health and readiness checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthResponse is the body of the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezResponse is the body of the liveness probe response.
type LivezResponse struct {
	Status string `json:"status"`
}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body LivezResponse
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzResponse is the body of the readiness probe response.
type ReadyzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body ReadyzResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status and uptime of the service",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Description: "Returns ok as long as the process is running",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Returns ready only once the database is reachable",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	uptime := time.Since(h.startTime)
	return &HealthOutput{
		Body: HealthResponse{
			Status:  "healthy",
			Version: h.version,
			Uptime:  uptime.Round(time.Second).String(),
		},
	}, nil
}

// GetLivez always reports ok: it only proves the process can still handle
// requests, not that its dependencies are reachable.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	return &LivezOutput{Body: LivezResponse{Status: "ok"}}, nil
}

// GetReadyz checks the database connection and reports not_ready until it
// responds.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	components := map[string]string{}

	dbStatus := "not_configured"
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil {
			dbStatus = "error"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error"
		} else {
			dbStatus = "ok"
		}
	}
	components["database"] = dbStatus

	status := "ready"
	if dbStatus != "ok" {
		status = "not_ready"
	}

	return &ReadyzOutput{
		Body: ReadyzResponse{
			Status:     status,
			Components: components,
		},
	}, nil
}
