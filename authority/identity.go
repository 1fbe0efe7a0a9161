// Package authority provides the identities and keyless signing authority
// used by Mandate.
//
// Identities are 32-byte values rendered in base58. Wallet identities are
// ed25519 public keys; program-derived identities are SHA-256 digests that
// deliberately fall off the ed25519 curve, so no private key can exist for
// them. A program-derived identity can only act through a Signer, which is
// reconstructed from its seeds and bump rather than from secret material.
package authority

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// IdentityLength is the byte length of every identity.
const IdentityLength = 32

// ErrInvalidIdentity is returned when bytes or text do not decode to an identity.
var ErrInvalidIdentity = errors.New("authority: invalid identity")

// Identity names a wallet, account, asset, or program.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type Identity [IdentityLength]byte

// Zero is the empty identity.
var Zero Identity

// IdentityFromBytes copies b into an Identity. b must be exactly 32 bytes.
func IdentityFromBytes(b []byte) (Identity, error) {
	var out Identity
	if len(b) != IdentityLength {
		return out, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidIdentity, IdentityLength, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseIdentity decodes a base58 identity string.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Zero, fmt.Errorf("%w: empty string", ErrInvalidIdentity)
	}
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return Zero, fmt.Errorf("%w: %q is not base58", ErrInvalidIdentity, s)
	}
	return IdentityFromBytes(decoded)
}

// MustParseIdentity is like ParseIdentity but panics on error.
func MustParseIdentity(s string) Identity {
	i, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return i
}

// String returns the base58 form.
func (i Identity) String() string {
	return base58.Encode(i[:])
}

// Bytes returns a copy of the raw bytes.
func (i Identity) Bytes() []byte {
	out := make([]byte, IdentityLength)
	copy(out, i[:])
	return out
}

// IsZero reports whether i is the empty identity.
func (i Identity) IsZero() bool {
	return i == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (i Identity) MarshalText() ([]byte, error) {
	if i.IsZero() {
		return []byte{}, nil
	}
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Zero
		return nil
	}
	parsed, err := ParseIdentity(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
