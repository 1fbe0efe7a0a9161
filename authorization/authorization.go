// Package authorization defines the persisted authorization record: the
// per-subscription policy overlay that caps what the shared delegate
// authority may draw from one payer account.
package authorization

import (
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/types"
)

// Authorization is one payer's grant for one subscription.
//
// ApprovedAmount and the account fields are frozen at grant time.
// SpentAmount only grows, and never beyond ApprovedAmount.
type Authorization struct {
	types.Entity
	ID              id.AuthorizationID `json:"id"`
	Address         authority.Identity `json:"address"`
	Payer           authority.Identity `json:"payer"`
	Receiver        authority.Identity `json:"receiver"`
	AssetType       authority.Identity `json:"asset_type"`
	PayerAccount    authority.Identity `json:"payer_account"`
	ReceiverAccount authority.Identity `json:"receiver_account"`
	ApprovedAmount  uint64             `json:"approved_amount,string"`
	SpentAmount     uint64             `json:"spent_amount,string"`
	SubscriptionID  string             `json:"subscription_id"`
	Bump            uint8              `json:"bump"`
	DelegateBump    uint8              `json:"delegate_bump"`
}

// Remaining returns how much of the cap is still available.
func (a *Authorization) Remaining() uint64 {
	if a.SpentAmount >= a.ApprovedAmount {
		return 0
	}
	return a.ApprovedAmount - a.SpentAmount
}

// Exhausted reports whether no further non-zero charge can succeed.
func (a *Authorization) Exhausted() bool {
	return a.SpentAmount >= a.ApprovedAmount
}

// Clone returns a deep copy.
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// MatchesAccounts reports whether the presented accounts and asset equal the
// values frozen at grant time.
func (a *Authorization) MatchesAccounts(payerAccount, receiverAccount, assetType authority.Identity) bool {
	return a.PayerAccount == payerAccount &&
		a.ReceiverAccount == receiverAccount &&
		a.AssetType == assetType
}

// ListOpts filters and paginates listings.
type ListOpts struct {
	AssetType authority.Identity
	Limit     int
	Offset    int
}
