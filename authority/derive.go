package authority

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeedLength is the maximum length of a single derivation seed.
	MaxSeedLength = 32

	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16

	derivationMarker = "ProgramDerivedAddress"
)

var (
	// ErrSeedTooLong is returned when a seed exceeds MaxSeedLength.
	ErrSeedTooLong = errors.New("authority: seed exceeds maximum length")

	// ErrTooManySeeds is returned when more than MaxSeeds seeds are given.
	ErrTooManySeeds = errors.New("authority: too many seeds")

	// ErrOnCurve is returned when a candidate address is a valid ed25519
	// point and could therefore have a private key.
	ErrOnCurve = errors.New("authority: derived address lies on the ed25519 curve")

	// ErrNoViableBump is returned when no bump in [0, 255] yields an
	// off-curve address.
	ErrNoViableBump = errors.New("authority: no viable bump seed")
)

// CreateProgramAddress hashes seeds and program into an address and fails
// with ErrOnCurve if the result is a valid ed25519 public key.
func CreateProgramAddress(seeds [][]byte, program Identity) (Identity, error) {
	if len(seeds) > MaxSeeds {
		return Zero, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Zero, fmt.Errorf("%w: %d > %d", ErrSeedTooLong, len(seed), MaxSeedLength)
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(derivationMarker))

	var addr Identity
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr) {
		return Zero, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program Identity) (Identity, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}

		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}
