package mandate

import (
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/types"
)

// Re-export common types for convenience so users don't have to import the
// sub-packages for everyday use.

// Identity is re-exported from authority package.
type Identity = authority.Identity

// Authorization is re-exported from authorization package.
type Authorization = authorization.Authorization

// ListOpts is re-exported from authorization package.
type ListOpts = authorization.ListOpts

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export constructors
var (
	ParseIdentity           = authority.ParseIdentity
	NormalizeSubscriptionID = authorization.NormalizeSubscriptionID
	Units                   = types.Units
	NewEntity               = types.NewEntity
)
