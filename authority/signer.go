package authority

import (
	"bytes"
	"errors"
	"fmt"
)

// Derivation tags.
const (
	// DelegateTag is the single seed of the global delegate authority that
	// every payer names as the spender of their allowance.
	DelegateTag = "delegate_pda"

	// RecordTag is the first seed of an authorization record address.
	RecordTag = "delegate"
)

// ErrSignerMismatch is returned when a Signer's seeds and bump no longer
// reproduce its address.
var ErrSignerMismatch = errors.New("authority: signer does not match its derivation")

// Signer is the capability to act as a program-derived identity. It holds
// the derivation inputs only; the address is recomputed on Verify.
type Signer struct {
	program Identity
	seeds   [][]byte
	bump    uint8
	address Identity
}

// Derive finds the canonical bump for seeds under program and returns the
// resulting Signer.
func Derive(program Identity, seeds ...[]byte) (Signer, error) {
	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		return Signer{}, err
	}
	return newSigner(program, seeds, bump, addr), nil
}

// Reconstruct rebuilds a Signer from stored derivation data.
func Reconstruct(program Identity, bump uint8, seeds ...[]byte) (Signer, error) {
	addr, err := CreateProgramAddress(appendBump(seeds, bump), program)
	if err != nil {
		return Signer{}, fmt.Errorf("authority: reconstruct: %w", err)
	}
	return newSigner(program, seeds, bump, addr), nil
}

// DeriveDelegate derives the global delegate authority of program.
func DeriveDelegate(program Identity) (Signer, error) {
	return Derive(program, []byte(DelegateTag))
}

// ReconstructDelegate rebuilds the delegate authority from its bump.
func ReconstructDelegate(program Identity, bump uint8) (Signer, error) {
	return Reconstruct(program, bump, []byte(DelegateTag))
}

// RecordAddress derives the address of the authorization record for
// (subscriptionID, payer).
func RecordAddress(program Identity, subscriptionID string, payer Identity) (Identity, uint8, error) {
	return FindProgramAddress([][]byte{
		[]byte(RecordTag),
		[]byte(subscriptionID),
		payer[:],
	}, program)
}

// Address returns the identity this signer acts as.
func (s Signer) Address() Identity { return s.address }

// Program returns the owning program.
func (s Signer) Program() Identity { return s.program }

// Bump returns the bump seed.
func (s Signer) Bump() uint8 { return s.bump }

// IsZero reports whether s is the zero Signer.
func (s Signer) IsZero() bool { return s.address.IsZero() }

// Seeds returns a copy of the derivation seeds, bump excluded.
func (s Signer) Seeds() [][]byte {
	out := make([][]byte, len(s.seeds))
	for i, seed := range s.seeds {
		out[i] = bytes.Clone(seed)
	}
	return out
}

// Verify recomputes the address from the seeds and bump.
func (s Signer) Verify() error {
	if s.IsZero() {
		return ErrSignerMismatch
	}
	addr, err := CreateProgramAddress(appendBump(s.seeds, s.bump), s.program)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignerMismatch, err)
	}
	if addr != s.address {
		return ErrSignerMismatch
	}
	return nil
}

// SignsFor reports whether s verifies and acts as addr under program.
func (s Signer) SignsFor(program, addr Identity) bool {
	return s.program == program && s.address == addr && s.Verify() == nil
}

// String returns the base58 address.
func (s Signer) String() string { return s.address.String() }

func newSigner(program Identity, seeds [][]byte, bump uint8, addr Identity) Signer {
	owned := make([][]byte, len(seeds))
	for i, seed := range seeds {
		owned[i] = bytes.Clone(seed)
	}
	return Signer{program: program, seeds: owned, bump: bump, address: addr}
}

func appendBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds), len(seeds)+1)
	copy(out, seeds)
	return append(out, []byte{bump})
}
