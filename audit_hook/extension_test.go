package audithook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
)

type captured struct {
	events []*AuditEvent
	err    error
}

func (c *captured) recorder() Recorder {
	return RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		c.events = append(c.events, evt)
		return c.err
	})
}

func sampleAuthorization() *authorization.Authorization {
	a := &authorization.Authorization{
		ID:             id.NewAuthorizationID(),
		SubscriptionID: "sub-1",
		ApprovedAmount: 1000,
		SpentAmount:    400,
	}
	a.Address[0] = 1
	a.Payer[0] = 2
	return a
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	c := &captured{}
	ext := New(c.recorder())
	a := sampleAuthorization()
	chargeID := id.NewChargeID()

	_ = ext.OnAuthorizationGranted(ctx, a)
	_ = ext.OnAuthorizationCharged(ctx, a, 400, chargeID)
	_ = ext.OnAuthorizationRevoked(ctx, a)

	if len(c.events) != 3 {
		t.Fatalf("got %d events, want 3", len(c.events))
	}

	granted := c.events[0]
	if granted.Action != ActionAuthorizationGranted || granted.Resource != ResourceAuthorization {
		t.Errorf("granted: %+v", granted)
	}
	if granted.ResourceID != a.ID.String() {
		t.Errorf("granted resource id: got %s", granted.ResourceID)
	}
	if granted.Metadata["subscription_id"] != "sub-1" {
		t.Errorf("granted metadata: %v", granted.Metadata)
	}

	charged := c.events[1]
	if charged.Action != ActionChargeSucceeded || charged.ResourceID != chargeID.String() {
		t.Errorf("charged: %+v", charged)
	}
	if charged.Metadata["remaining"] != uint64(600) {
		t.Errorf("charged remaining: %v", charged.Metadata["remaining"])
	}
	if charged.Outcome != OutcomeSuccess || charged.Category != CategoryPayment {
		t.Errorf("charged outcome/category: %s/%s", charged.Outcome, charged.Category)
	}

	if c.events[2].Action != ActionAuthorizationRevoked {
		t.Errorf("revoked action: got %s", c.events[2].Action)
	}
}

func TestChargeRejectionClassification(t *testing.T) {
	tests := []struct {
		name     string
		reason   error
		action   string
		severity string
		category string
	}{
		{"Untrusted caller", mandate.ErrUnauthorized, ActionChargeDenied, SeverityCritical, CategorySecurity},
		{"Replay", fmt.Errorf("wrapped: %w", mandate.ErrReplayed), ActionChargeDenied, SeverityCritical, CategorySecurity},
		{"Account substitution", mandate.ErrInvalidAccount, ActionChargeDenied, SeverityCritical, CategorySecurity},
		{"Over cap", mandate.ErrInsufficientAllowance, ActionChargeDenied, SeverityWarning, CategoryPayment},
		{"Missing", mandate.ErrNotFound, ActionChargeDenied, SeverityWarning, CategoryPayment},
		{"Transfer failure", mandate.ErrTransferFailed, ActionChargeFailed, SeverityError, CategoryPayment},
		{"Uncommitted conflict", fmt.Errorf("%w: %w", mandate.ErrUncommitted, mandate.ErrConflict), ActionChargeUncommitted, SeverityCritical, CategoryPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &captured{}
			ext := New(c.recorder())
			charge := &instruction.Charge{SubscriptionID: "sub-1", Amount: 5}

			if err := ext.OnChargeRejected(context.Background(), charge, tt.reason); err != nil {
				t.Fatal(err)
			}
			if len(c.events) != 1 {
				t.Fatalf("got %d events, want 1", len(c.events))
			}
			evt := c.events[0]
			if evt.Action != tt.action || evt.Severity != tt.severity || evt.Category != tt.category {
				t.Errorf("got %s/%s/%s, want %s/%s/%s",
					evt.Action, evt.Severity, evt.Category, tt.action, tt.severity, tt.category)
			}
			if evt.Outcome != OutcomeFailure || evt.Reason != tt.reason.Error() {
				t.Errorf("outcome %s reason %q", evt.Outcome, evt.Reason)
			}
		})
	}
}

func TestActionFiltering(t *testing.T) {
	ctx := context.Background()
	a := sampleAuthorization()

	c := &captured{}
	ext := New(c.recorder(), WithEnabledActions(ActionAuthorizationRevoked))
	_ = ext.OnAuthorizationGranted(ctx, a)
	_ = ext.OnAuthorizationRevoked(ctx, a)
	if len(c.events) != 1 || c.events[0].Action != ActionAuthorizationRevoked {
		t.Errorf("enabled filter: got %d events", len(c.events))
	}

	c = &captured{}
	ext = New(c.recorder(), WithDisabledActions(ActionChargeSucceeded))
	_ = ext.OnAuthorizationCharged(ctx, a, 1, id.NewChargeID())
	_ = ext.OnAuthorizationGranted(ctx, a)
	if len(c.events) != 1 || c.events[0].Action != ActionAuthorizationGranted {
		t.Errorf("disabled filter: got %d events", len(c.events))
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	c := &captured{err: errors.New("backend down")}
	ext := New(c.recorder(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := ext.OnAuthorizationGranted(context.Background(), sampleAuthorization()); err != nil {
		t.Errorf("recorder error leaked to caller: %v", err)
	}
}
