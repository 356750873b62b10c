// Package audithook bridges Turnstile lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/turnstile/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnDownloadAuthorized = (*Extension)(nil)
	_ plugin.OnDownloadDenied     = (*Extension)(nil)
	_ plugin.OnDailyReset         = (*Extension)(nil)
	_ plugin.OnAdWatched          = (*Extension)(nil)
	_ plugin.OnEmailCollected     = (*Extension)(nil)
	_ plugin.OnPointsCredited     = (*Extension)(nil)
	_ plugin.OnPointsDebited      = (*Extension)(nil)
	_ plugin.OnPointsRefunded     = (*Extension)(nil)
	_ plugin.OnRefundRejected     = (*Extension)(nil)
	_ plugin.OnContention         = (*Extension)(nil)
	_ plugin.OnReconciled         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package does not depend on any one audit
// backend; callers inject the concrete recorder at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Turnstile lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Download hooks
// ──────────────────────────────────────────────────

// OnDownloadAuthorized implements plugin.OnDownloadAuthorized.
func (e *Extension) OnDownloadAuthorized(ctx context.Context, userID string, _ interface{}) error {
	return e.record(ctx, ActionDownloadAuthorized, SeverityInfo, OutcomeSuccess,
		ResourceGrant, userID, CategoryEntitlement, nil,
		"user_id", userID,
	)
}

// OnDownloadDenied implements plugin.OnDownloadDenied.
func (e *Extension) OnDownloadDenied(ctx context.Context, userID string, decision interface{}) error {
	meta := []any{"user_id", userID}
	if d, ok := decision.(fmt.Stringer); ok {
		meta = append(meta, "decision", d.String())
	}
	return e.record(ctx, ActionDownloadDenied, SeverityInfo, OutcomeFailure,
		ResourceGrant, userID, CategoryAccess, nil,
		meta...,
	)
}

// OnDailyReset implements plugin.OnDailyReset.
func (e *Extension) OnDailyReset(ctx context.Context, userID, day string) error {
	return e.record(ctx, ActionDailyReset, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID, CategoryEntitlement, nil,
		"user_id", userID,
		"day", day,
	)
}

// ──────────────────────────────────────────────────
// Gate progress hooks
// ──────────────────────────────────────────────────

// OnAdWatched implements plugin.OnAdWatched.
func (e *Extension) OnAdWatched(ctx context.Context, userID, sessionID string, total int64) error {
	return e.record(ctx, ActionAdWatched, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID, CategoryEntitlement, nil,
		"user_id", userID,
		"session_id", sessionID,
		"ads_watched", total,
	)
}

// OnEmailCollected implements plugin.OnEmailCollected.
func (e *Extension) OnEmailCollected(ctx context.Context, userID, email string) error {
	return e.record(ctx, ActionEmailCollected, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID, CategoryEntitlement, nil,
		"user_id", userID,
		"email", maskEmail(email),
	)
}

// ──────────────────────────────────────────────────
// Point ledger hooks
// ──────────────────────────────────────────────────

// OnPointsCredited implements plugin.OnPointsCredited.
func (e *Extension) OnPointsCredited(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPointsCredited, SeverityInfo, OutcomeSuccess,
		ResourceEntry, "", CategoryPayment, nil,
		"event", "points_credited",
	)
}

// OnPointsDebited implements plugin.OnPointsDebited.
func (e *Extension) OnPointsDebited(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPointsDebited, SeverityInfo, OutcomeSuccess,
		ResourceEntry, "", CategoryPayment, nil,
		"event", "points_debited",
	)
}

// OnPointsRefunded implements plugin.OnPointsRefunded.
func (e *Extension) OnPointsRefunded(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPointsRefunded, SeverityWarning, OutcomeSuccess,
		ResourceEntry, "", CategoryPayment, nil,
		"event", "points_refunded",
	)
}

// OnRefundRejected implements plugin.OnRefundRejected.
func (e *Extension) OnRefundRejected(ctx context.Context, _ interface{}, cause error) error {
	return e.record(ctx, ActionRefundRejected, SeverityCritical, OutcomeFailure,
		ResourceEntry, "", CategoryPayment, cause,
		"event", "refund_rejected",
	)
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// OnContention implements plugin.OnContention.
func (e *Extension) OnContention(ctx context.Context, userID, op string, attempts int) error {
	return e.record(ctx, ActionContention, SeverityWarning, OutcomeFailure,
		ResourceAccount, userID, CategoryIntegrity, nil,
		"user_id", userID,
		"op", op,
		"attempts", attempts,
	)
}

// OnReconciled implements plugin.OnReconciled.
func (e *Extension) OnReconciled(ctx context.Context, report interface{}) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if r, ok := report.(interface{ Balanced() bool }); ok && !r.Balanced() {
		severity = SeverityError
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionReconciled, severity, outcome,
		ResourceLedger, "", CategoryIntegrity, nil,
		"event", "ledger_reconciled",
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

// maskEmail keeps the first character and the domain so the trail stays
// useful without storing the full address.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
