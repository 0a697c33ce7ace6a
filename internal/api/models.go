// Package api exposes project runs over HTTP: submission, status, listing
// and cancellation, plus the probe and metrics endpoints.
package api

import (
	"time"

	"github.com/p-blackswan/crewflow/internal/project"
)

// RunStatus is the lifecycle of a submission inside the run engine. It is
// distinct from the project phase: a queued run has no phase yet.
type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunRejected RunStatus = "rejected"
)

// Run is one submitted project request.
type Run struct {
	ID          string         `json:"id"`
	Request     string         `json:"request"`
	Status      RunStatus      `json:"status"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
	Phase       project.Phase  `json:"phase,omitempty"`
	State       *project.State `json:"state,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// runFromState describes a persisted snapshot the engine no longer tracks.
func runFromState(s *project.State) Run {
	status := RunRunning
	var finished *time.Time
	if s.Phase.IsTerminal() {
		status = RunFinished
		at := s.UpdatedAt
		finished = &at
	}
	return Run{
		ID:         s.ID,
		Request:    s.Request,
		Status:     status,
		Phase:      s.Phase,
		State:      s,
		CreatedAt:  s.CreatedAt,
		FinishedAt: finished,
	}
}

// SubmitProjectRequest is the payload for POST /api/v1/projects.
type SubmitProjectRequest struct {
	Request string `json:"request"`
}

// ListProjectsQuery filters GET /api/v1/projects.
type ListProjectsQuery struct {
	Phase  string `query:"phase"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// ListProjectsResponse is the body of GET /api/v1/projects.
type ListProjectsResponse struct {
	Projects []Run `json:"projects"`
	Total    int   `json:"total"`
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
