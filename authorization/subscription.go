package authorization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/mandate/authority"
)

// MaxSubscriptionIDLength is the byte bound on a normalized subscription ID.
// It equals the derivation seed limit because the ID is a seed of the record
// address.
const MaxSubscriptionIDLength = authority.MaxSeedLength

var (
	// ErrEmptySubscriptionID is returned for a blank subscription ID.
	ErrEmptySubscriptionID = errors.New("authorization: subscription id is empty")

	// ErrSubscriptionIDTooLong is returned when the normalized ID exceeds
	// MaxSubscriptionIDLength bytes.
	ErrSubscriptionIDTooLong = errors.New("authorization: subscription id too long")
)

// NormalizeSubscriptionID maps an external subscription identifier to the
// form used as a derivation seed: surrounding space trimmed and every hyphen
// removed, so a canonical UUID becomes its 32 hex characters. Case is kept;
// clients deriving addresses off-engine strip hyphens the same way and no
// more.
func NormalizeSubscriptionID(raw string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if s == "" {
		return "", ErrEmptySubscriptionID
	}
	if len(s) > MaxSubscriptionIDLength {
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrSubscriptionIDTooLong, len(s), MaxSubscriptionIDLength)
	}
	return s, nil
}
