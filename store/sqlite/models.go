package sqlite

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

// Amounts are stored as decimal text: uint64 does not fit INTEGER.
type authorizationModel struct {
	grove.BaseModel `grove:"table:mandate_authorizations"`

	ID              string    `grove:"id,pk"`
	Address         string    `grove:"address"`
	SubscriptionID  string    `grove:"subscription_id"`
	Payer           string    `grove:"payer"`
	Receiver        string    `grove:"receiver"`
	AssetType       string    `grove:"asset_type"`
	PayerAccount    string    `grove:"payer_account"`
	ReceiverAccount string    `grove:"receiver_account"`
	ApprovedAmount  string    `grove:"approved_amount"`
	SpentAmount     string    `grove:"spent_amount"`
	Bump            int16     `grove:"bump"`
	DelegateBump    int16     `grove:"delegate_bump"`
	CreatedAt       time.Time `grove:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"`
}

func toAuthorizationModel(a *authorization.Authorization) *authorizationModel {
	return &authorizationModel{
		ID:              a.ID.String(),
		Address:         a.Address.String(),
		SubscriptionID:  a.SubscriptionID,
		Payer:           a.Payer.String(),
		Receiver:        a.Receiver.String(),
		AssetType:       a.AssetType.String(),
		PayerAccount:    a.PayerAccount.String(),
		ReceiverAccount: a.ReceiverAccount.String(),
		ApprovedAmount:  formatAmount(a.ApprovedAmount),
		SpentAmount:     formatAmount(a.SpentAmount),
		Bump:            int16(a.Bump),
		DelegateBump:    int16(a.DelegateBump),
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
		Bump:           uint8(m.Bump),         //nolint:gosec // column written from uint8
		DelegateBump:   uint8(m.DelegateBump), //nolint:gosec // column written from uint8
	}

	fields := []struct {
		name string
		src  string
		dst  *authority.Identity
	}{
		{"address", m.Address, &a.Address},
		{"payer", m.Payer, &a.Payer},
		{"receiver", m.Receiver, &a.Receiver},
		{"asset_type", m.AssetType, &a.AssetType},
		{"payer_account", m.PayerAccount, &a.PayerAccount},
		{"receiver_account", m.ReceiverAccount, &a.ReceiverAccount},
	}
	for _, f := range fields {
		if *f.dst, err = authority.ParseIdentity(f.src); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	if a.ApprovedAmount, err = parseAmount(m.ApprovedAmount); err != nil {
		return nil, fmt.Errorf("approved_amount: %w", err)
	}
	if a.SpentAmount, err = parseAmount(m.SpentAmount); err != nil {
		return nil, fmt.Errorf("spent_amount: %w", err)
	}
	return a, nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
