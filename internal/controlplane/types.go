package controlplane

import (
	"cleanupd/internal/index"
	"cleanupd/internal/policy"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string               `json:"status"`
	Database index.DatabaseHealth `json:"database"`
	Error    string               `json:"error,omitempty"`
}

// PolicyIssue reports a policy file the last snapshot skipped.
type PolicyIssue struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	TargetPath string `json:"target_path,omitempty"`
	Error      string `json:"error"`
}

// PolicyListResponse is returned by GET /api/policies.
type PolicyListResponse struct {
	Policies []policy.DirectoryPolicy `json:"policies"`
	Issues   []PolicyIssue            `json:"issues"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	Limit   int                   `json:"limit"`
	Records []index.HistoryRecord `json:"records"`
}
