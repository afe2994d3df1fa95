package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRole identifies the process role (indexer, evictor, api).
	FieldRole = "role"
	// FieldRunID correlates every line of one role session.
	FieldRunID = "run_id"
	// FieldTarget is the absolute target directory a line concerns.
	FieldTarget = "target"
	// FieldPolicyID is the policy file identifier.
	FieldPolicyID = "policy_id"
	// FieldEventType classifies a line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDryRun marks lines describing actions that were only simulated.
	FieldDryRun = "dry_run"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	roleKey
)

// WithRunID attaches a session run identifier to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run identifier stored by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}

// WithRole attaches the process role to ctx.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if role, ok := ctx.Value(roleKey).(string); ok && role != "" {
		fields = append(fields, slog.String(FieldRole, role))
	}
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
