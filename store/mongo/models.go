package mongo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/types"
)

// ==================== Authorization models ====================

// The derived address is the document key, so a second grant for the same
// (subscription, payer) collides on _id. Amounts are decimal strings because
// BSON integers are signed.
type authorizationModel struct {
	grove.BaseModel `grove:"table:mandate_authorizations"`

	Address         string    `grove:"address,pk"       bson:"_id"`
	ID              string    `grove:"id"               bson:"authorization_id"`
	SubscriptionID  string    `grove:"subscription_id"  bson:"subscription_id"`
	Payer           string    `grove:"payer"            bson:"payer"`
	Receiver        string    `grove:"receiver"         bson:"receiver"`
	AssetType       string    `grove:"asset_type"       bson:"asset_type"`
	PayerAccount    string    `grove:"payer_account"    bson:"payer_account"`
	ReceiverAccount string    `grove:"receiver_account" bson:"receiver_account"`
	ApprovedAmount  string    `grove:"approved_amount"  bson:"approved_amount"`
	SpentAmount     string    `grove:"spent_amount"     bson:"spent_amount"`
	Bump            int32     `grove:"bump"             bson:"bump"`
	DelegateBump    int32     `grove:"delegate_bump"    bson:"delegate_bump"`
	CreatedAt       time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"       bson:"updated_at"`
}

func toAuthorizationModel(a *authorization.Authorization) *authorizationModel {
	return &authorizationModel{
		Address:         a.Address.String(),
		ID:              a.ID.String(),
		SubscriptionID:  a.SubscriptionID,
		Payer:           a.Payer.String(),
		Receiver:        a.Receiver.String(),
		AssetType:       a.AssetType.String(),
		PayerAccount:    a.PayerAccount.String(),
		ReceiverAccount: a.ReceiverAccount.String(),
		ApprovedAmount:  strconv.FormatUint(a.ApprovedAmount, 10),
		SpentAmount:     strconv.FormatUint(a.SpentAmount, 10),
		Bump:            int32(a.Bump),
		DelegateBump:    int32(a.DelegateBump),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func fromAuthorizationModel(m *authorizationModel) (*authorization.Authorization, error) {
	authID, err := id.ParseAuthorizationID(m.ID)
	if err != nil {
		return nil, err
	}

	a := &authorization.Authorization{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             authID,
		SubscriptionID: m.SubscriptionID,
		Bump:           uint8(m.Bump),         //nolint:gosec // field written from uint8
		DelegateBump:   uint8(m.DelegateBump), //nolint:gosec // field written from uint8
	}

	for name, f := range map[string]struct {
		src string
		dst *authority.Identity
	}{
		"address":          {m.Address, &a.Address},
		"payer":            {m.Payer, &a.Payer},
		"receiver":         {m.Receiver, &a.Receiver},
		"asset_type":       {m.AssetType, &a.AssetType},
		"payer_account":    {m.PayerAccount, &a.PayerAccount},
		"receiver_account": {m.ReceiverAccount, &a.ReceiverAccount},
	} {
		if *f.dst, err = authority.ParseIdentity(f.src); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	if a.ApprovedAmount, err = strconv.ParseUint(m.ApprovedAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("approved_amount: %w", err)
	}
	if a.SpentAmount, err = strconv.ParseUint(m.SpentAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("spent_amount: %w", err)
	}
	return a, nil
}
