// Package memory provides an in-process asset ledger with token-account
// semantics: one owner and one optional delegate per account.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/mandate/assetledger"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/types"
)

// compile-time interface check
var _ assetledger.Ledger = (*Ledger)(nil)

// Ledger is a thread-safe in-memory asset ledger.
type Ledger struct {
	mu       sync.RWMutex
	assets   map[authority.Identity]uint8
	accounts map[authority.Identity]*assetledger.Account
	programs map[authority.Identity]bool // nil = any program
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTrustedPrograms restricts program signers to the given programs.
func WithTrustedPrograms(programs ...authority.Identity) Option {
	return func(l *Ledger) {
		l.programs = make(map[authority.Identity]bool, len(programs))
		for _, p := range programs {
			l.programs[p] = true
		}
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		assets:   make(map[authority.Identity]uint8),
		accounts: make(map[authority.Identity]*assetledger.Account),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAsset registers an asset with its display precision.
func (l *Ledger) CreateAsset(asset authority.Identity, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[asset] = decimals
}

// OpenAccount creates an empty account of asset owned by owner.
func (l *Ledger) OpenAccount(address, owner, asset authority.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.assets[asset]; !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAssetNotFound, asset)
	}
	if _, exists := l.accounts[address]; exists {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountExists, address)
	}
	l.accounts[address] = &assetledger.Account{
		Address: address,
		Owner:   owner,
		Asset:   asset,
	}
	return nil
}

// Mint credits amount to address.
func (l *Ledger) Mint(address authority.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[address]
	if !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, address)
	}
	next, err := types.CheckedAdd(acct.Balance, amount)
	if err != nil {
		return assetledger.ErrBalanceOverflow
	}
	acct.Balance = next
	return nil
}

// Balance returns the account balance formatted with its asset precision.
func (l *Ledger) Balance(address authority.Identity) (types.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[address]
	if !ok {
		return types.Amount{}, fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, address)
	}
	return types.Units(acct.Balance, l.assets[acct.Asset]), nil
}

// Account implements assetledger.Ledger.
func (l *Ledger) Account(ctx context.Context, address authority.Identity) (*assetledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, address)
	}
	snapshot := *acct
	return &snapshot, nil
}

// Authorize implements assetledger.Ledger.
func (l *Ledger) Authorize(ctx context.Context, account, owner, spender authority.Identity, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[account]
	if !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, account)
	}
	if acct.Owner != owner {
		return assetledger.ErrOwnerMismatch
	}
	acct.Delegate = spender
	acct.DelegatedAmount = amount
	return nil
}

// Revoke clears the delegate of account. Only the owner may call it.
func (l *Ledger) Revoke(ctx context.Context, account, owner authority.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[account]
	if !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, account)
	}
	if acct.Owner != owner {
		return assetledger.ErrOwnerMismatch
	}
	acct.Delegate = authority.Zero
	acct.DelegatedAmount = 0
	return nil
}

// Transfer implements assetledger.Ledger. All checks run before any balance
// changes, so a failed transfer leaves every account untouched.
func (l *Ledger) Transfer(ctx context.Context, from, to, asset authority.Identity, signer authority.Signer, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := signer.Verify(); err != nil {
		return fmt.Errorf("%w: %w", assetledger.ErrInvalidSigner, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.programs != nil && !l.programs[signer.Program()] {
		return fmt.Errorf("%w: untrusted program %s", assetledger.ErrInvalidSigner, signer.Program())
	}

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, from)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", assetledger.ErrAccountNotFound, to)
	}
	if src.Asset != asset || dst.Asset != asset {
		return assetledger.ErrAssetMismatch
	}
	if src.Delegate != signer.Address() {
		return assetledger.ErrNotDelegate
	}
	if src.DelegatedAmount < amount {
		return fmt.Errorf("%w: delegated %d, requested %d", assetledger.ErrInsufficientDelegation, src.DelegatedAmount, amount)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", assetledger.ErrInsufficientFunds, src.Balance, amount)
	}
	if src != dst {
		credited, err := types.CheckedAdd(dst.Balance, amount)
		if err != nil {
			return assetledger.ErrBalanceOverflow
		}
		src.Balance -= amount
		dst.Balance = credited
	}

	src.DelegatedAmount -= amount
	if src.DelegatedAmount == 0 {
		src.Delegate = authority.Zero
	}
	return nil
}
