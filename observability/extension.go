// Package observability provides a metrics extension for Mandate that records
// grant, charge and revoke activity through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
	"github.com/xraph/mandate/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnAuthorizationGranted = (*MetricsExtension)(nil)
	_ plugin.OnAuthorizationCharged = (*MetricsExtension)(nil)
	_ plugin.OnChargeRejected       = (*MetricsExtension)(nil)
	_ plugin.OnAuthorizationRevoked = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Mandate plugin to track authorization activity.
type MetricsExtension struct {
	factory MetricFactory

	// Authorization metrics
	AuthorizationGranted Counter
	AuthorizationRevoked Counter
	ApprovedAmount       Histogram

	// Charge metrics
	ChargeSucceeded Counter
	ChargeAmount    Histogram
	ChargeExhausted Counter

	// Rejection metrics
	ChargeDenied       Counter
	ChargeUnauthorized Counter
	ChargeOverCap      Counter
	ChargeReplayed     Counter
	ChargeFailed       Counter
	ChargeUncommitted  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AuthorizationGranted: factory.Counter("mandate.authorization.granted"),
		AuthorizationRevoked: factory.Counter("mandate.authorization.revoked"),
		ApprovedAmount:       factory.Histogram("mandate.authorization.approved_amount"),

		ChargeSucceeded: factory.Counter("mandate.charge.succeeded"),
		ChargeAmount:    factory.Histogram("mandate.charge.amount"),
		ChargeExhausted: factory.Counter("mandate.charge.exhausted"),

		ChargeDenied:       factory.Counter("mandate.charge.denied"),
		ChargeUnauthorized: factory.Counter("mandate.charge.unauthorized"),
		ChargeOverCap:      factory.Counter("mandate.charge.over_cap"),
		ChargeReplayed:     factory.Counter("mandate.charge.replayed"),
		ChargeFailed:       factory.Counter("mandate.charge.failed"),
		ChargeUncommitted:  factory.Counter("mandate.charge.uncommitted"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Authorization lifecycle hooks
// ──────────────────────────────────────────────────

// OnAuthorizationGranted implements plugin.OnAuthorizationGranted.
func (m *MetricsExtension) OnAuthorizationGranted(_ context.Context, a *authorization.Authorization) error {
	m.AuthorizationGranted.Inc()
	m.ApprovedAmount.Observe(float64(a.ApprovedAmount))
	return nil
}

// OnAuthorizationRevoked implements plugin.OnAuthorizationRevoked.
func (m *MetricsExtension) OnAuthorizationRevoked(_ context.Context, _ *authorization.Authorization) error {
	m.AuthorizationRevoked.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnAuthorizationCharged implements plugin.OnAuthorizationCharged.
func (m *MetricsExtension) OnAuthorizationCharged(_ context.Context, a *authorization.Authorization, amount uint64, _ id.ChargeID) error {
	m.ChargeSucceeded.Inc()
	m.ChargeAmount.Observe(float64(amount))
	if a.Exhausted() {
		m.ChargeExhausted.Inc()
	}
	return nil
}

// OnChargeRejected implements plugin.OnChargeRejected.
func (m *MetricsExtension) OnChargeRejected(_ context.Context, _ *instruction.Charge, reason error) error {
	if mandate.IsUncommitted(reason) {
		m.ChargeUncommitted.Inc()
		return nil
	}
	if !mandate.IsDenied(reason) {
		m.ChargeFailed.Inc()
		return nil
	}
	m.ChargeDenied.Inc()
	switch {
	case errors.Is(reason, mandate.ErrUnauthorized):
		m.ChargeUnauthorized.Inc()
	case errors.Is(reason, mandate.ErrInsufficientAllowance):
		m.ChargeOverCap.Inc()
	case errors.Is(reason, mandate.ErrReplayed):
		m.ChargeReplayed.Inc()
	}
	return nil
}
