// Package plugin provides an extensible plugin system for Mandate.
// Plugins can hook into authorization lifecycle events to extend
// functionality. Hooks observe; they cannot veto or alter an operation.
package plugin

import (
	"context"

	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, m any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Authorization lifecycle hooks
// ──────────────────────────────────────────────────

// OnAuthorizationGranted is called after a grant is persisted and the asset
// ledger approved the delegate.
type OnAuthorizationGranted interface {
	Plugin
	OnAuthorizationGranted(ctx context.Context, auth *authorization.Authorization) error
}

// OnAuthorizationCharged is called after a charge transferred funds and the
// new spent amount was committed. auth reflects the committed state.
type OnAuthorizationCharged interface {
	Plugin
	OnAuthorizationCharged(ctx context.Context, auth *authorization.Authorization, amount uint64, chargeID id.ChargeID) error
}

// OnChargeRejected is called when a charge is denied or fails.
type OnChargeRejected interface {
	Plugin
	OnChargeRejected(ctx context.Context, charge *instruction.Charge, reason error) error
}

// OnAuthorizationRevoked is called after a record is deleted by its payer.
type OnAuthorizationRevoked interface {
	Plugin
	OnAuthorizationRevoked(ctx context.Context, auth *authorization.Authorization) error
}
