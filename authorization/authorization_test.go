package authorization

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/xraph/mandate/authority"
)

func TestNormalizeSubscriptionID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"Plain", "abc123", "abc123", nil},
		{"Trimmed", "  abc123 ", "abc123", nil},
		{"UUID", "123e4567-e89b-12d3-a456-426614174000", "123e4567e89b12d3a456426614174000", nil},
		{"UUID upper keeps case", "123E4567-E89B-12D3-A456-426614174000", "123E4567E89B12D3A456426614174000", nil},
		{"UUID braces not unwrapped", "{123e4567-e89b-12d3-a456-426614174000}", "", ErrSubscriptionIDTooLong},
		{"UUID urn not unwrapped", "urn:uuid:123e4567-e89b-12d3-a456-426614174000", "", ErrSubscriptionIDTooLong},
		{"Non-UUID hyphens", "sub-2024-01", "sub202401", nil},
		{"Only hyphens", "---", "", ErrEmptySubscriptionID},
		{"Exactly 32 bytes", strings.Repeat("s", 32), strings.Repeat("s", 32), nil},
		{"Empty", "", "", ErrEmptySubscriptionID},
		{"Blank", "   ", "", ErrEmptySubscriptionID},
		{"Too long", strings.Repeat("s", 33), "", ErrSubscriptionIDTooLong},
		{"Multibyte over limit", strings.Repeat("☉", 11), "", ErrSubscriptionIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSubscriptionID(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	once, err := NormalizeSubscriptionID("123e4567-e89b-12d3-a456-426614174000")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := NormalizeSubscriptionID(once)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("normalization not idempotent: %q != %q", once, twice)
	}
}

func TestRemaining(t *testing.T) {
	a := &Authorization{ApprovedAmount: 1000, SpentAmount: 400}
	if got := a.Remaining(); got != 600 {
		t.Errorf("Remaining: got %d, want 600", got)
	}
	if a.Exhausted() {
		t.Error("expected not exhausted")
	}

	a.SpentAmount = 1000
	if got := a.Remaining(); got != 0 {
		t.Errorf("Remaining: got %d, want 0", got)
	}
	if !a.Exhausted() {
		t.Error("expected exhausted")
	}

	zero := &Authorization{}
	if !zero.Exhausted() {
		t.Error("a zero-cap authorization is exhausted from the start")
	}
}

func TestCloneAndMatch(t *testing.T) {
	var payerAcct, receiverAcct, asset authority.Identity
	payerAcct[0], receiverAcct[0], asset[0] = 1, 2, 3

	a := &Authorization{PayerAccount: payerAcct, ReceiverAccount: receiverAcct, AssetType: asset, SpentAmount: 5}
	c := a.Clone()
	c.SpentAmount = 9
	if a.SpentAmount != 5 {
		t.Error("Clone shares state with the original")
	}

	if !a.MatchesAccounts(payerAcct, receiverAcct, asset) {
		t.Error("expected accounts to match")
	}
	if a.MatchesAccounts(receiverAcct, payerAcct, asset) {
		t.Error("swapped accounts must not match")
	}

	var nilAuth *Authorization
	if nilAuth.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestJSONAmountsAsStrings(t *testing.T) {
	a := &Authorization{ApprovedAmount: math.MaxUint64, SpentAmount: 1}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"approved_amount":"18446744073709551615"`) {
		t.Errorf("approved amount not string-encoded: %s", data)
	}

	var restored Authorization
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatal(err)
	}
	if restored.ApprovedAmount != math.MaxUint64 {
		t.Errorf("round trip lost precision: %d", restored.ApprovedAmount)
	}
}
