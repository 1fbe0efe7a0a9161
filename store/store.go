package store

import (
	"context"

	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
)

// Store is the unified storage interface for all Mandate entities.
type Store interface {
	// Authorization methods
	CreateAuthorization(ctx context.Context, a *authorization.Authorization) error
	GetAuthorization(ctx context.Context, address authority.Identity) (*authorization.Authorization, error)
	ListAuthorizations(ctx context.Context, payer authority.Identity, opts authorization.ListOpts) ([]*authorization.Authorization, error)
	UpdateSpent(ctx context.Context, address authority.Identity, prev, next uint64) error
	DeleteAuthorization(ctx context.Context, address authority.Identity) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
