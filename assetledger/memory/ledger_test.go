package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/mandate/assetledger"
	"github.com/xraph/mandate/assetledger/memory"
	"github.com/xraph/mandate/authority"
)

var program = authority.MustParseIdentity("BPFLoaderUpgradeab1e11111111111111111111111")

func newTestIdentity(fill byte) authority.Identity {
	var id authority.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

type fixture struct {
	ledger   *memory.Ledger
	owner    authority.Identity
	asset    authority.Identity
	from     authority.Identity
	to       authority.Identity
	delegate authority.Signer
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger: memory.New(opts...),
		owner:  newTestIdentity(1),
		asset:  newTestIdentity(2),
		from:   newTestIdentity(3),
		to:     newTestIdentity(4),
	}
	f.ledger.CreateAsset(f.asset, 6)
	require.NoError(t, f.ledger.OpenAccount(f.from, f.owner, f.asset))
	require.NoError(t, f.ledger.OpenAccount(f.to, newTestIdentity(5), f.asset))
	require.NoError(t, f.ledger.Mint(f.from, 5_000))

	delegate, err := authority.DeriveDelegate(program)
	require.NoError(t, err)
	f.delegate = delegate
	return f
}

func TestAuthorizeRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.ledger.Authorize(ctx, f.from, newTestIdentity(9), f.delegate.Address(), 100)
	require.ErrorIs(t, err, assetledger.ErrOwnerMismatch)

	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 100))
	acct, err := f.ledger.Account(ctx, f.from)
	require.NoError(t, err)
	assert.Equal(t, f.delegate.Address(), acct.Delegate)
	assert.Equal(t, uint64(100), acct.DelegatedAmount)

	// Overwrite semantics.
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 40))
	acct, err = f.ledger.Account(ctx, f.from)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), acct.DelegatedAmount)
}

func TestTransferByDelegate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 1_000))

	require.NoError(t, f.ledger.Transfer(ctx, f.from, f.to, f.asset, f.delegate, 400))

	src, err := f.ledger.Account(ctx, f.from)
	require.NoError(t, err)
	dst, err := f.ledger.Account(ctx, f.to)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_600), src.Balance)
	assert.Equal(t, uint64(400), dst.Balance)
	assert.Equal(t, uint64(600), src.DelegatedAmount)

	bal, err := f.ledger.Balance(f.to)
	require.NoError(t, err)
	assert.Equal(t, "0.000400", bal.String())

	require.NoError(t, f.ledger.Transfer(ctx, f.from, f.to, f.asset, f.delegate, 600))
	src, err = f.ledger.Account(ctx, f.from)
	require.NoError(t, err)
	assert.False(t, src.HasDelegate(), "delegate clears once the allowance is used up")
}

func TestTransferFailuresLeaveBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 1_000))

	otherProgram := authority.MustParseIdentity("2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk")
	impostor, err := authority.DeriveDelegate(otherProgram)
	require.NoError(t, err)

	tests := []struct {
		name   string
		signer authority.Signer
		asset  authority.Identity
		amount uint64
		want   error
	}{
		{"Over delegation", f.delegate, f.asset, 1_001, assetledger.ErrInsufficientDelegation},
		{"Wrong delegate", impostor, f.asset, 10, assetledger.ErrNotDelegate},
		{"Wrong asset", f.delegate, newTestIdentity(8), 10, assetledger.ErrAssetMismatch},
		{"Zero signer", authority.Signer{}, f.asset, 10, assetledger.ErrInvalidSigner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.Transfer(ctx, f.from, f.to, tt.asset, tt.signer, tt.amount)
			require.ErrorIs(t, err, tt.want)

			src, err := f.ledger.Account(ctx, f.from)
			require.NoError(t, err)
			assert.Equal(t, uint64(5_000), src.Balance)
			assert.Equal(t, uint64(1_000), src.DelegatedAmount)
		})
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 10_000))

	err := f.ledger.Transfer(ctx, f.from, f.to, f.asset, f.delegate, 6_000)
	require.ErrorIs(t, err, assetledger.ErrInsufficientFunds)
}

func TestTrustedPrograms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.WithTrustedPrograms(newTestIdentity(7)))
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 1_000))

	err := f.ledger.Transfer(ctx, f.from, f.to, f.asset, f.delegate, 1)
	require.ErrorIs(t, err, assetledger.ErrInvalidSigner)
}

func TestOwnerRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Authorize(ctx, f.from, f.owner, f.delegate.Address(), 1_000))

	require.ErrorIs(t, f.ledger.Revoke(ctx, f.from, newTestIdentity(9)), assetledger.ErrOwnerMismatch)
	require.NoError(t, f.ledger.Revoke(ctx, f.from, f.owner))

	err := f.ledger.Transfer(ctx, f.from, f.to, f.asset, f.delegate, 1)
	require.ErrorIs(t, err, assetledger.ErrNotDelegate)
}

func TestAccountSetup(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.ledger.OpenAccount(f.from, f.owner, f.asset), assetledger.ErrAccountExists)
	require.ErrorIs(t, f.ledger.OpenAccount(newTestIdentity(6), f.owner, newTestIdentity(8)), assetledger.ErrAssetNotFound)
	require.ErrorIs(t, f.ledger.Mint(newTestIdentity(6), 1), assetledger.ErrAccountNotFound)

	_, err := f.ledger.Account(context.Background(), newTestIdentity(6))
	require.ErrorIs(t, err, assetledger.ErrAccountNotFound)
}
