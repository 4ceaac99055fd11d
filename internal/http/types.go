package http

import "github.com/fyrsmithlabs/codexd/internal/project"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of any error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListProjectsResponse is the body of GET /api/v1/projects.
type ListProjectsResponse struct {
	Projects []*project.Project `json:"projects"`
}

// RegisterSessionRequest is the body of POST /api/v1/sessions.
type RegisterSessionRequest struct {
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"working_directory"`
}
