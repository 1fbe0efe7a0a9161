package instruction_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/instruction"
)

var program = authority.MustParseIdentity("BPFLoaderUpgradeab1e11111111111111111111111")

func mustKeypair(t *testing.T) *authority.Keypair {
	t.Helper()
	kp, err := authority.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func newTestIdentity(fill byte) authority.Identity {
	var id authority.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func newGrant(payer authority.Identity) *instruction.Grant {
	return &instruction.Grant{
		SubscriptionID:  "abc123",
		ApprovedAmount:  1000,
		Payer:           payer,
		Receiver:        newTestIdentity(2),
		AssetType:       newTestIdentity(3),
		PayerAccount:    newTestIdentity(4),
		ReceiverAccount: newTestIdentity(5),
		IssuedAt:        time.Unix(1_700_000_000, 0).UTC(),
		Nonce:           7,
	}
}

func TestGrantSignVerify(t *testing.T) {
	payer := mustKeypair(t)
	g := newGrant(payer.Public())

	require.NoError(t, g.Sign(payer, program))
	require.NoError(t, g.Validate())
	require.NoError(t, g.Verify(program))

	other := authority.MustParseIdentity("2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk")
	require.ErrorIs(t, g.Verify(other), instruction.ErrBadSignature, "signature is bound to the program")

	g.ApprovedAmount = 1_000_000
	require.ErrorIs(t, g.Verify(program), instruction.ErrBadSignature, "tampered amount must not verify")
}

func TestGrantSignRequiresPayer(t *testing.T) {
	payer := mustKeypair(t)
	stranger := mustKeypair(t)
	g := newGrant(payer.Public())

	require.Error(t, g.Sign(stranger, program))
	require.ErrorIs(t, g.Verify(program), instruction.ErrMissingSignature)
}

func TestChargeSignSetsCaller(t *testing.T) {
	backend := mustKeypair(t)
	c := &instruction.Charge{
		SubscriptionID:  "abc123",
		Payer:           newTestIdentity(1),
		Amount:          400,
		AssetType:       newTestIdentity(3),
		PayerAccount:    newTestIdentity(4),
		ReceiverAccount: newTestIdentity(5),
	}
	require.NoError(t, c.Sign(backend, program))

	assert.Equal(t, backend.Public(), c.Caller)
	assert.False(t, c.IssuedAt.IsZero())
	require.NoError(t, c.Validate())
	require.NoError(t, c.Verify(program))

	c.Caller = newTestIdentity(9)
	require.ErrorIs(t, c.Verify(program), instruction.ErrBadSignature)
}

func TestKindsDoNotCrossVerify(t *testing.T) {
	payer := mustKeypair(t)

	r := &instruction.Revoke{SubscriptionID: "abc123", Payer: payer.Public()}
	require.NoError(t, r.Sign(payer, program))

	c := &instruction.Charge{
		SubscriptionID: "abc123",
		Payer:          payer.Public(),
		Caller:         payer.Public(),
		IssuedAt:       r.IssuedAt,
		Nonce:          r.Nonce,
		Signature:      r.Signature,
	}
	require.ErrorIs(t, c.Verify(program), instruction.ErrBadSignature)
	assert.NotEqual(t, r.Fingerprint(), c.Fingerprint())
}

func TestValidateReportsMissingFields(t *testing.T) {
	g := &instruction.Grant{SubscriptionID: "abc123"}
	err := g.Validate()
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, fe := range verrs {
		fields[fe.Field()] = true
	}
	for _, f := range []string{"Payer", "Receiver", "AssetType", "PayerAccount", "ReceiverAccount", "IssuedAt", "Signature"} {
		assert.True(t, fields[f], "expected %s to be reported", f)
	}
	assert.False(t, fields["ApprovedAmount"], "zero approved amount is valid")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payer := mustKeypair(t)
	g := newGrant(payer.Public())
	require.NoError(t, g.Sign(payer, program))

	data, err := instruction.Encode(g)
	require.NoError(t, err)

	decoded, err := instruction.DecodeGrant(data)
	require.NoError(t, err)
	assert.Equal(t, g.Payer, decoded.Payer)
	assert.Equal(t, g.ReceiverAccount, decoded.ReceiverAccount)
	assert.True(t, g.IssuedAt.Equal(decoded.IssuedAt))
	require.NoError(t, decoded.Verify(program))

	_, err = instruction.DecodeCharge([]byte{0xff})
	require.Error(t, err)
}

func TestSigningBytesDeterministic(t *testing.T) {
	g := newGrant(newTestIdentity(1))
	a, err := g.SigningBytes(program)
	require.NoError(t, err)
	b, err := g.SigningBytes(program)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
