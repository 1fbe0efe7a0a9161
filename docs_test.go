package mandate_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/mandate"
	ledgermem "github.com/xraph/mandate/assetledger/memory"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/instruction"
	"github.com/xraph/mandate/replay"
	"github.com/xraph/mandate/store/memory"
	"github.com/xraph/mandate/types"
)

// TestDocumentationExamples verifies that the examples in the documentation compile and run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		ctx := context.Background()

		// Keys: the payer signs grants, the backend signs charges.
		payer, err := authority.GenerateKeypair()
		if err != nil {
			t.Fatal(err)
		}
		backend, err := authority.GenerateKeypair()
		if err != nil {
			t.Fatal(err)
		}
		programID := authority.MustParseIdentity("BPFLoaderUpgradeab1e11111111111111111111111")

		// Asset ledger with a funded payer account (memory for demo).
		usdc := identity(0x10)
		payerAcct, merchantAcct := identity(0x11), identity(0x12)
		assets := ledgermem.New()
		assets.CreateAsset(usdc, 6)
		if err := assets.OpenAccount(payerAcct, payer.Public(), usdc); err != nil {
			t.Fatal(err)
		}
		if err := assets.OpenAccount(merchantAcct, identity(0x13), usdc); err != nil {
			t.Fatal(err)
		}
		if err := assets.Mint(payerAcct, 100_000_000); err != nil {
			t.Fatal(err)
		}

		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		m, err := mandate.New(store, assets,
			mandate.WithProgramID(programID),
			mandate.WithTrustedBackend(backend.Public()),
			mandate.WithLogger(slog.Default()),
			mandate.WithReplayGuard(replay.NewMemoryGuard()),
			mandate.WithMaxInstructionAge(5*time.Minute),
		)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer m.Stop() //nolint:errcheck // test cleanup

		// Payer approves up to 30 USDC for the subscription.
		grant := &instruction.Grant{
			SubscriptionID:  "123e4567-e89b-12d3-a456-426614174000",
			ApprovedAmount:  30_000_000,
			Payer:           payer.Public(),
			Receiver:        identity(0x13),
			AssetType:       usdc,
			PayerAccount:    payerAcct,
			ReceiverAccount: merchantAcct,
		}
		if err := grant.Sign(payer, programID); err != nil {
			t.Fatal(err)
		}
		auth, err := m.Grant(ctx, grant)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("authorization %s at %s", auth.ID, auth.Address)

		// Backend pulls the monthly 9.99 USDC.
		charge := &instruction.Charge{
			SubscriptionID:  grant.SubscriptionID,
			Payer:           payer.Public(),
			Amount:          9_990_000,
			AssetType:       usdc,
			PayerAccount:    payerAcct,
			ReceiverAccount: merchantAcct,
			Nonce:           1,
		}
		if err := charge.Sign(backend, programID); err != nil {
			t.Fatal(err)
		}
		receipt, err := m.Charge(ctx, charge)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("charged %s, remaining %s",
			types.Units(receipt.Amount, 6), types.Units(receipt.Remaining, 6))

		// Payer cancels.
		revoke := &instruction.Revoke{
			SubscriptionID: grant.SubscriptionID,
			Payer:          payer.Public(),
		}
		if err := revoke.Sign(payer, programID); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Revoke(ctx, revoke); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		a := types.Units(9_990_000, 6)
		if a.String() != "9.990000" {
			t.Errorf("String: got %s", a.String())
		}

		sum, err := a.Add(types.Units(10_000, 6))
		if err != nil {
			t.Fatal(err)
		}
		if sum.Units != 10_000_000 {
			t.Errorf("Add: got %d", sum.Units)
		}

		if _, err := types.CheckedAdd(^uint64(0), 1); err == nil {
			t.Error("expected overflow")
		}
	})
}
