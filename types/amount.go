package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrAmountOverflow is returned when unsigned amount arithmetic would wrap.
var ErrAmountOverflow = errors.New("types: amount overflow")

// ErrAmountUnderflow is returned when a subtraction would go below zero.
var ErrAmountUnderflow = errors.New("types: amount underflow")

// Amount is a quantity of a fungible asset in its smallest unit.
// All arithmetic is unsigned integer arithmetic and is checked.
//
// Examples:
//   - Amount{Units: 1_500_000, Decimals: 6} = 1.500000
//   - Amount{Units: 42, Decimals: 0} = 42
type Amount struct {
	Units    uint64 `json:"units"`
	Decimals uint8  `json:"decimals"`
}

// Units creates an Amount with the given precision.
func Units(units uint64, decimals uint8) Amount {
	return Amount{Units: units, Decimals: decimals}
}

// CheckedAdd returns a+b, or ErrAmountOverflow if the sum exceeds 64 bits.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b, or ErrAmountUnderflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrAmountUnderflow
	}
	return a - b, nil
}

// Add adds other to a. The precisions must match.
func (a Amount) Add(other Amount) (Amount, error) {
	if err := a.samePrecision(other); err != nil {
		return Amount{}, err
	}
	sum, err := CheckedAdd(a.Units, other.Units)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Units: sum, Decimals: a.Decimals}, nil
}

// Sub subtracts other from a. The precisions must match.
func (a Amount) Sub(other Amount) (Amount, error) {
	if err := a.samePrecision(other); err != nil {
		return Amount{}, err
	}
	diff, err := CheckedSub(a.Units, other.Units)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Units: diff, Decimals: a.Decimals}, nil
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.Units == 0 }

// FormatMajor renders the amount in major units, e.g. "1.500000".
func (a Amount) FormatMajor() string {
	digits := strconv.FormatUint(a.Units, 10)
	if a.Decimals == 0 {
		return digits
	}

	d := int(a.Decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d+1-len(digits)) + digits
	}
	return digits[:len(digits)-d] + "." + digits[len(digits)-d:]
}

// String returns FormatMajor.
func (a Amount) String() string {
	return a.FormatMajor()
}

// MarshalJSON encodes units as a decimal string so values above 2^53
// survive JSON consumers that parse numbers as float64.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Units    string `json:"units"`
		Decimals uint8  `json:"decimals"`
		Display  string `json:"display"`
	}{
		Units:    strconv.FormatUint(a.Units, 10),
		Decimals: a.Decimals,
		Display:  a.FormatMajor(),
	})
}

// UnmarshalJSON accepts units as either a string or a number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Units    json.Number `json:"units"`
		Decimals uint8       `json:"decimals"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	units, err := strconv.ParseUint(raw.Units.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("types: amount units: %w", err)
	}
	a.Units = units
	a.Decimals = raw.Decimals
	return nil
}

func (a Amount) samePrecision(other Amount) error {
	if a.Decimals != other.Decimals {
		return fmt.Errorf("types: precision mismatch: %d != %d", a.Decimals, other.Decimals)
	}
	return nil
}
