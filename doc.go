// Package mandate provides delegated, allowance-capped recurring payment
// authorization for Go applications.
//
// A payer grants a subscription a spending cap once. A single trusted backend
// then pulls funds on a schedule without further payer involvement, and never
// beyond the cap. Mandate is designed as a library, not a service: import it
// and plug in a store and an asset ledger.
//
//   - Grant: payer-signed; persists the authorization and approves the shared
//     delegate authority as spender of the payer account
//   - Charge: backend-signed; checks the remaining cap, transfers through the
//     delegate authority, then advances the spent amount
//   - Revoke: payer-signed; deletes the authorization
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/mandate"
//	    "github.com/xraph/mandate/store/postgres"
//	)
//
//	m, err := mandate.New(postgres.New(db), assets,
//	    mandate.WithProgramID(programID),
//	    mandate.WithTrustedBackend(backendKey.Public()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Stop()
//
// # Authorities
//
// Record addresses and the delegate authority are program-derived addresses:
// SHA-256 digests of seeds, a bump byte and the program ID that fall off the
// ed25519 curve, so no private key exists for them. The delegate authority
// is derived once from the "delegate_pda" tag and shared by every
// authorization. Its bump is stored on each record and the signer is
// reconstructed from it at charge time.
//
// The external allowance only bounds the aggregate; the per-subscription cap
// is enforced here, on every charge, with overflow-checked arithmetic.
//
// # Instructions
//
// Grant, Charge and Revoke arrive as signed instructions. Signatures are
// ed25519 over a deterministic CBOR encoding bound to the program ID and the
// instruction kind. Instructions expire after WithMaxInstructionAge and are
// accepted at most once; share a replay.RedisGuard across processes.
//
// # TypeID
//
// Records and charges carry TypeIDs:
//
//	auth_01h2xcejqtf2nbrexx3vqjhp41  // Authorization ID
//	chg_01h455vb4pex5vsknk084sn02q   // Charge ID
package mandate
