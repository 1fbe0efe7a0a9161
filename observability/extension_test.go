package observability

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
)

type gathered map[string]float64

func newTestExtension(t *testing.T) (*MetricsExtension, func() gathered) {
	t.Helper()
	reg := prometheus.NewRegistry()
	factory := NewPrometheusFactory(WithRegisterer(reg), WithNamespace("test"))
	gather := func() gathered {
		families, err := reg.Gather()
		if err != nil {
			t.Fatal(err)
		}
		out := make(gathered)
		for _, mf := range families {
			for _, metric := range mf.GetMetric() {
				if c := metric.GetCounter(); c != nil {
					out[mf.GetName()] += c.GetValue()
				}
			}
		}
		return out
	}
	return NewMetricsExtension(factory), gather
}

func TestLifecycleCounters(t *testing.T) {
	ctx := context.Background()
	m, gather := newTestExtension(t)
	a := &authorization.Authorization{ApprovedAmount: 1000, SpentAmount: 400}

	_ = m.OnAuthorizationGranted(ctx, a)
	_ = m.OnAuthorizationCharged(ctx, a, 400, id.NewChargeID())
	a.SpentAmount = 1000
	_ = m.OnAuthorizationCharged(ctx, a, 600, id.NewChargeID())
	_ = m.OnAuthorizationRevoked(ctx, a)

	got := gather()
	want := gathered{
		"test_mandate_authorization_granted_total": 1,
		"test_mandate_charge_succeeded_total":      2,
		"test_mandate_charge_exhausted_total":      1,
		"test_mandate_authorization_revoked_total": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s: got %v, want %v", name, got[name], v)
		}
	}
}

func TestRejectionCounters(t *testing.T) {
	ctx := context.Background()
	m, gather := newTestExtension(t)
	charge := &instruction.Charge{}

	reasons := []error{
		mandate.ErrUnauthorized,
		fmt.Errorf("charge: %w", mandate.ErrInsufficientAllowance),
		mandate.ErrInsufficientAllowance,
		mandate.ErrReplayed,
		mandate.ErrNotFound,
		mandate.ErrTransferFailed,
		fmt.Errorf("%w: %w", mandate.ErrUncommitted, mandate.ErrNotFound),
	}
	for _, r := range reasons {
		_ = m.OnChargeRejected(ctx, charge, r)
	}

	got := gather()
	want := gathered{
		"test_mandate_charge_denied_total":       5,
		"test_mandate_charge_unauthorized_total": 1,
		"test_mandate_charge_over_cap_total":     2,
		"test_mandate_charge_replayed_total":     1,
		"test_mandate_charge_failed_total":       1,
		"test_mandate_charge_uncommitted_total":  1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s: got %v, want %v", name, got[name], v)
		}
	}
}

func TestPrometheusFactoryNaming(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(WithRegisterer(reg), WithNamespace("test"))

	c := f.Counter("mandate.charge.succeeded")
	if f.Counter("mandate.charge.succeeded") != c {
		t.Error("same name should return the same counter")
	}
	c.Inc()
	f.Histogram("mandate.charge.amount").Observe(42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"test_mandate_charge_succeeded_total", "test_mandate_charge_amount"} {
		if !names[want] {
			t.Errorf("missing metric %s in %v", want, names)
		}
	}
}

func TestFactoriesShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetricsExtension(NewPrometheusFactory(WithRegisterer(reg), WithNamespace("test")))
	second := NewMetricsExtension(NewPrometheusFactory(WithRegisterer(reg), WithNamespace("test")))

	first.AuthorizationGranted.Inc()
	second.AuthorizationGranted.Inc()
	second.ChargeAmount.Observe(10)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "test_mandate_authorization_granted_total" {
			continue
		}
		if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
			t.Errorf("shared counter: got %v, want 2", got)
		}
		return
	}
	t.Error("granted counter not registered")
}
