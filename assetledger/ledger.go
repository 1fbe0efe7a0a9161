// Package assetledger defines the boundary between Mandate and the external
// ledger that holds balances and enforces its own allowances.
//
// Mandate never moves funds itself. Grant asks the ledger to approve the
// delegate authority as spender of the payer's account; Charge asks it to
// transfer using that authority. The ledger keeps its own delegated-amount
// bookkeeping, independent of the per-subscription cap held by Mandate.
package assetledger

import (
	"context"
	"errors"

	"github.com/xraph/mandate/authority"
)

var (
	ErrAccountNotFound        = errors.New("assetledger: account not found")
	ErrAccountExists          = errors.New("assetledger: account already exists")
	ErrAssetNotFound          = errors.New("assetledger: asset not found")
	ErrOwnerMismatch          = errors.New("assetledger: owner does not control account")
	ErrAssetMismatch          = errors.New("assetledger: asset mismatch")
	ErrNotDelegate            = errors.New("assetledger: authority is not the approved delegate")
	ErrInsufficientDelegation = errors.New("assetledger: delegated amount too low")
	ErrInsufficientFunds      = errors.New("assetledger: insufficient funds")
	ErrInvalidSigner          = errors.New("assetledger: invalid program signer")
	ErrBalanceOverflow        = errors.New("assetledger: balance overflow")
)

// Account is a token account: a balance of one asset controlled by one owner,
// with at most one delegate allowed to spend up to DelegatedAmount.
type Account struct {
	Address         authority.Identity `json:"address"`
	Owner           authority.Identity `json:"owner"`
	Asset           authority.Identity `json:"asset"`
	Balance         uint64             `json:"balance,string"`
	Delegate        authority.Identity `json:"delegate"`
	DelegatedAmount uint64             `json:"delegated_amount,string"`
}

// HasDelegate reports whether a delegate is currently approved.
func (a *Account) HasDelegate() bool {
	return !a.Delegate.IsZero()
}

// Ledger is the external asset ledger consumed by the engine.
type Ledger interface {
	// Account returns a snapshot of the account at address.
	Account(ctx context.Context, address authority.Identity) (*Account, error)

	// Authorize sets spender as the delegate of account for amount, replacing
	// any previous approval. owner must control account.
	Authorize(ctx context.Context, account, owner, spender authority.Identity, amount uint64) error

	// Transfer moves amount of asset from one account to another, authorized
	// by a program signer that must be the current delegate of from for at
	// least amount. The ledger decrements its own delegated amount.
	Transfer(ctx context.Context, from, to, asset authority.Identity, signer authority.Signer, amount uint64) error
}
