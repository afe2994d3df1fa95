package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
)

const (
	defaultHistoryLimit = 50
	maxPolicyBody       = 64 << 10
	collectTimeout      = 15 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.index.CheckHealth(r.Context())
	resp := HealthResponse{Status: "ok", Database: health}
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if health.IntegrityCheck != "" && health.IntegrityCheck != "ok" {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), collectTimeout)
	defer cancel()
	if err := s.refreshMetrics(ctx); err != nil {
		s.metrics.scrapeErrors.Inc()
		logging.WarnWithContext(s.logger, "metrics refresh failed; serving stale values", "metrics_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the index database and policy directory are readable"),
		)
	}
	s.metrics.handler().ServeHTTP(w, r)
}

func (s *Server) refreshMetrics(ctx context.Context) error {
	policies, _, err := s.policies.Snapshot(ctx)
	if err != nil {
		return err
	}
	report, err := s.usage.Collect(ctx, policies)
	if err != nil {
		return err
	}
	s.metrics.update(report, s.now())
	return nil
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, issues, err := s.policies.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := PolicyListResponse{Policies: policies, Issues: make([]PolicyIssue, 0, len(issues))}
	if resp.Policies == nil {
		resp.Policies = []policy.DirectoryPolicy{}
	}
	for _, issue := range issues {
		resp.Issues = append(resp.Issues, PolicyIssue{
			ID:         issue.ID,
			Path:       issue.Path,
			TargetPath: issue.TargetPath,
			Error:      issue.Err.Error(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writePolicyError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p policy.DirectoryPolicy
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPolicyBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid policy body: %v", err))
		return
	}
	if p.ID != "" && p.ID != id {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("body id %q does not match path id %q", p.ID, id))
		return
	}
	p.ID = id

	stored, err := s.policies.Write(r.Context(), p)
	if err != nil {
		s.writePolicyError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.policies.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writePolicyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), collectTimeout)
	defer cancel()
	policies, _, err := s.policies.Snapshot(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := s.usage.Collect(ctx, policies)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, index.MaxHistoryLimit)
	}
	records, err := s.index.RecentHistory(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []index.HistoryRecord{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Limit: limit, Records: records})
}

func (s *Server) writePolicyError(w http.ResponseWriter, err error) {
	var verr *policy.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Problems: verr.Problems})
	case errors.Is(err, policy.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
