// Package audithook bridges Mandate lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// an audit backend directly. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
	"github.com/xraph/mandate/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnAuthorizationGranted = (*Extension)(nil)
	_ plugin.OnAuthorizationCharged = (*Extension)(nil)
	_ plugin.OnChargeRejected       = (*Extension)(nil)
	_ plugin.OnAuthorizationRevoked = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
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

// Extension bridges Mandate lifecycle events to an audit trail backend.
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
// Authorization lifecycle hooks
// ──────────────────────────────────────────────────

// OnAuthorizationGranted implements plugin.OnAuthorizationGranted.
func (e *Extension) OnAuthorizationGranted(ctx context.Context, a *authorization.Authorization) error {
	return e.record(ctx, ActionAuthorizationGranted, SeverityInfo, OutcomeSuccess,
		ResourceAuthorization, a.ID.String(), CategoryAuthorization, nil,
		"address", a.Address.String(),
		"payer", a.Payer.String(),
		"receiver", a.Receiver.String(),
		"subscription_id", a.SubscriptionID,
		"asset_type", a.AssetType.String(),
		"approved_amount", a.ApprovedAmount,
	)
}

// OnAuthorizationRevoked implements plugin.OnAuthorizationRevoked.
func (e *Extension) OnAuthorizationRevoked(ctx context.Context, a *authorization.Authorization) error {
	return e.record(ctx, ActionAuthorizationRevoked, SeverityInfo, OutcomeSuccess,
		ResourceAuthorization, a.ID.String(), CategoryAuthorization, nil,
		"address", a.Address.String(),
		"payer", a.Payer.String(),
		"subscription_id", a.SubscriptionID,
		"spent_amount", a.SpentAmount,
		"approved_amount", a.ApprovedAmount,
	)
}

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnAuthorizationCharged implements plugin.OnAuthorizationCharged.
func (e *Extension) OnAuthorizationCharged(ctx context.Context, a *authorization.Authorization, amount uint64, chargeID id.ChargeID) error {
	return e.record(ctx, ActionChargeSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceCharge, chargeID.String(), CategoryPayment, nil,
		"authorization_id", a.ID.String(),
		"address", a.Address.String(),
		"subscription_id", a.SubscriptionID,
		"amount", amount,
		"spent_amount", a.SpentAmount,
		"remaining", a.Remaining(),
	)
}

// OnChargeRejected implements plugin.OnChargeRejected. Denials by policy and
// execution failures are recorded as distinct actions; authentication
// failures are escalated to the security category.
func (e *Extension) OnChargeRejected(ctx context.Context, c *instruction.Charge, reason error) error {
	action, severity, category := classifyRejection(reason)
	return e.record(ctx, action, severity, OutcomeFailure,
		ResourceCharge, "", category, reason,
		"payer", c.Payer.String(),
		"caller", c.Caller.String(),
		"subscription_id", c.SubscriptionID,
		"amount", c.Amount,
	)
}

func classifyRejection(reason error) (action, severity, category string) {
	switch {
	case mandate.IsUncommitted(reason):
		return ActionChargeUncommitted, SeverityCritical, CategoryPayment
	case errors.Is(reason, mandate.ErrUnauthorized),
		errors.Is(reason, mandate.ErrReplayed),
		errors.Is(reason, mandate.ErrInvalidAccount):
		return ActionChargeDenied, SeverityCritical, CategorySecurity
	case mandate.IsDenied(reason):
		return ActionChargeDenied, SeverityWarning, CategoryPayment
	default:
		return ActionChargeFailed, SeverityError, CategoryPayment
	}
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
