// Package instruction defines the signed requests accepted by the Mandate
// engine: Grant, Charge, and Revoke.
//
// Each instruction is signed by exactly one wallet: the payer for Grant and
// Revoke, the trusted backend for Charge. The signature covers a canonical
// CBOR payload that also binds the program identity, so an instruction signed
// for one deployment is not valid for another.
package instruction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/mandate/authority"
)

// Kind tags the payload so a signature over one instruction type can never
// verify as another.
type Kind uint8

// Instruction kinds.
const (
	KindGrant  Kind = 1
	KindCharge Kind = 2
	KindRevoke Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindGrant:
		return "grant"
	case KindCharge:
		return "charge"
	case KindRevoke:
		return "revoke"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrMissingSignature is returned when an instruction carries no signature.
	ErrMissingSignature = errors.New("instruction: missing signature")

	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("instruction: signature verification failed")
)

var validate = validator.New()

// Signed is implemented by every instruction.
type Signed interface {
	Kind() Kind
	SignerIdentity() authority.Identity
	Issued() time.Time
	SigningBytes(program authority.Identity) ([]byte, error)
	Validate() error
	Verify(program authority.Identity) error
	Fingerprint() string
}

// Compile-time interface checks.
var (
	_ Signed = (*Grant)(nil)
	_ Signed = (*Charge)(nil)
	_ Signed = (*Revoke)(nil)
)

// ──────────────────────────────────────────────────
// Grant
// ──────────────────────────────────────────────────

// Grant asks the engine to create an authorization and approve the delegate
// authority on the payer's account. Signed by Payer.
type Grant struct {
	SubscriptionID  string             `cbor:"1,keyasint" json:"subscription_id"  validate:"required"`
	ApprovedAmount  uint64             `cbor:"2,keyasint" json:"approved_amount"`
	Payer           authority.Identity `cbor:"3,keyasint" json:"payer"            validate:"required"`
	Receiver        authority.Identity `cbor:"4,keyasint" json:"receiver"         validate:"required"`
	AssetType       authority.Identity `cbor:"5,keyasint" json:"asset_type"       validate:"required"`
	PayerAccount    authority.Identity `cbor:"6,keyasint" json:"payer_account"    validate:"required"`
	ReceiverAccount authority.Identity `cbor:"7,keyasint" json:"receiver_account" validate:"required"`
	IssuedAt        time.Time          `cbor:"8,keyasint" json:"issued_at"        validate:"required"`
	Nonce           uint64             `cbor:"9,keyasint" json:"nonce"`
	Signature       []byte             `cbor:"10,keyasint" json:"signature"       validate:"required,len=64"`
}

type grantPayload struct {
	Kind            Kind               `cbor:"1,keyasint"`
	Program         authority.Identity `cbor:"2,keyasint"`
	SubscriptionID  string             `cbor:"3,keyasint"`
	ApprovedAmount  uint64             `cbor:"4,keyasint"`
	Payer           authority.Identity `cbor:"5,keyasint"`
	Receiver        authority.Identity `cbor:"6,keyasint"`
	AssetType       authority.Identity `cbor:"7,keyasint"`
	PayerAccount    authority.Identity `cbor:"8,keyasint"`
	ReceiverAccount authority.Identity `cbor:"9,keyasint"`
	IssuedAt        int64              `cbor:"10,keyasint"`
	Nonce           uint64             `cbor:"11,keyasint"`
}

// Kind implements Signed.
func (g *Grant) Kind() Kind { return KindGrant }

// SignerIdentity implements Signed.
func (g *Grant) SignerIdentity() authority.Identity { return g.Payer }

// Issued implements Signed.
func (g *Grant) Issued() time.Time { return g.IssuedAt }

// SigningBytes implements Signed.
func (g *Grant) SigningBytes(program authority.Identity) ([]byte, error) {
	return Marshal(grantPayload{
		Kind:            KindGrant,
		Program:         program,
		SubscriptionID:  g.SubscriptionID,
		ApprovedAmount:  g.ApprovedAmount,
		Payer:           g.Payer,
		Receiver:        g.Receiver,
		AssetType:       g.AssetType,
		PayerAccount:    g.PayerAccount,
		ReceiverAccount: g.ReceiverAccount,
		IssuedAt:        g.IssuedAt.Unix(),
		Nonce:           g.Nonce,
	})
}

// Sign stamps IssuedAt if unset and signs with kp, which must be the payer.
func (g *Grant) Sign(kp *authority.Keypair, program authority.Identity) error {
	if g.IssuedAt.IsZero() {
		g.IssuedAt = time.Now().UTC()
	}
	sig, err := sign(g, kp, program)
	if err != nil {
		return err
	}
	g.Signature = sig
	return nil
}

// Validate implements Signed.
func (g *Grant) Validate() error { return validate.Struct(g) }

// Verify implements Signed.
func (g *Grant) Verify(program authority.Identity) error { return verify(g, g.Signature, program) }

// Fingerprint implements Signed.
func (g *Grant) Fingerprint() string { return fingerprint(KindGrant, g.Signature) }

// ──────────────────────────────────────────────────
// Charge
// ──────────────────────────────────────────────────

// Charge asks the engine to move Amount from the payer's account to the
// receiver's account. Signed by Caller, which must be the trusted backend.
// Payer and SubscriptionID address the record; the account and asset fields
// are the values presented at charge time and must match the record.
type Charge struct {
	SubscriptionID  string             `cbor:"1,keyasint" json:"subscription_id"  validate:"required"`
	Payer           authority.Identity `cbor:"2,keyasint" json:"payer"            validate:"required"`
	Amount          uint64             `cbor:"3,keyasint" json:"amount"`
	AssetType       authority.Identity `cbor:"4,keyasint" json:"asset_type"       validate:"required"`
	PayerAccount    authority.Identity `cbor:"5,keyasint" json:"payer_account"    validate:"required"`
	ReceiverAccount authority.Identity `cbor:"6,keyasint" json:"receiver_account" validate:"required"`
	Caller          authority.Identity `cbor:"7,keyasint" json:"caller"           validate:"required"`
	IssuedAt        time.Time          `cbor:"8,keyasint" json:"issued_at"        validate:"required"`
	Nonce           uint64             `cbor:"9,keyasint" json:"nonce"`
	Signature       []byte             `cbor:"10,keyasint" json:"signature"       validate:"required,len=64"`
}

type chargePayload struct {
	Kind            Kind               `cbor:"1,keyasint"`
	Program         authority.Identity `cbor:"2,keyasint"`
	SubscriptionID  string             `cbor:"3,keyasint"`
	Payer           authority.Identity `cbor:"4,keyasint"`
	Amount          uint64             `cbor:"5,keyasint"`
	AssetType       authority.Identity `cbor:"6,keyasint"`
	PayerAccount    authority.Identity `cbor:"7,keyasint"`
	ReceiverAccount authority.Identity `cbor:"8,keyasint"`
	Caller          authority.Identity `cbor:"9,keyasint"`
	IssuedAt        int64              `cbor:"10,keyasint"`
	Nonce           uint64             `cbor:"11,keyasint"`
}

// Kind implements Signed.
func (c *Charge) Kind() Kind { return KindCharge }

// SignerIdentity implements Signed.
func (c *Charge) SignerIdentity() authority.Identity { return c.Caller }

// Issued implements Signed.
func (c *Charge) Issued() time.Time { return c.IssuedAt }

// SigningBytes implements Signed.
func (c *Charge) SigningBytes(program authority.Identity) ([]byte, error) {
	return Marshal(chargePayload{
		Kind:            KindCharge,
		Program:         program,
		SubscriptionID:  c.SubscriptionID,
		Payer:           c.Payer,
		Amount:          c.Amount,
		AssetType:       c.AssetType,
		PayerAccount:    c.PayerAccount,
		ReceiverAccount: c.ReceiverAccount,
		Caller:          c.Caller,
		IssuedAt:        c.IssuedAt.Unix(),
		Nonce:           c.Nonce,
	})
}

// Sign sets Caller to kp's identity, stamps IssuedAt if unset, and signs.
func (c *Charge) Sign(kp *authority.Keypair, program authority.Identity) error {
	c.Caller = kp.Public()
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now().UTC()
	}
	sig, err := sign(c, kp, program)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

// Validate implements Signed.
func (c *Charge) Validate() error { return validate.Struct(c) }

// Verify implements Signed.
func (c *Charge) Verify(program authority.Identity) error { return verify(c, c.Signature, program) }

// Fingerprint implements Signed.
func (c *Charge) Fingerprint() string { return fingerprint(KindCharge, c.Signature) }

// ──────────────────────────────────────────────────
// Revoke
// ──────────────────────────────────────────────────

// Revoke asks the engine to delete the authorization addressed by
// (Payer, SubscriptionID). Signed by Caller, which must equal the payer.
type Revoke struct {
	SubscriptionID string             `cbor:"1,keyasint" json:"subscription_id" validate:"required"`
	Payer          authority.Identity `cbor:"2,keyasint" json:"payer"           validate:"required"`
	Caller         authority.Identity `cbor:"3,keyasint" json:"caller"          validate:"required"`
	IssuedAt       time.Time          `cbor:"4,keyasint" json:"issued_at"       validate:"required"`
	Nonce          uint64             `cbor:"5,keyasint" json:"nonce"`
	Signature      []byte             `cbor:"6,keyasint" json:"signature"       validate:"required,len=64"`
}

type revokePayload struct {
	Kind           Kind               `cbor:"1,keyasint"`
	Program        authority.Identity `cbor:"2,keyasint"`
	SubscriptionID string             `cbor:"3,keyasint"`
	Payer          authority.Identity `cbor:"4,keyasint"`
	Caller         authority.Identity `cbor:"5,keyasint"`
	IssuedAt       int64              `cbor:"6,keyasint"`
	Nonce          uint64             `cbor:"7,keyasint"`
}

// Kind implements Signed.
func (r *Revoke) Kind() Kind { return KindRevoke }

// SignerIdentity implements Signed.
func (r *Revoke) SignerIdentity() authority.Identity { return r.Caller }

// Issued implements Signed.
func (r *Revoke) Issued() time.Time { return r.IssuedAt }

// SigningBytes implements Signed.
func (r *Revoke) SigningBytes(program authority.Identity) ([]byte, error) {
	return Marshal(revokePayload{
		Kind:           KindRevoke,
		Program:        program,
		SubscriptionID: r.SubscriptionID,
		Payer:          r.Payer,
		Caller:         r.Caller,
		IssuedAt:       r.IssuedAt.Unix(),
		Nonce:          r.Nonce,
	})
}

// Sign sets Caller to kp's identity, stamps IssuedAt if unset, and signs.
func (r *Revoke) Sign(kp *authority.Keypair, program authority.Identity) error {
	r.Caller = kp.Public()
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now().UTC()
	}
	sig, err := sign(r, kp, program)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Validate implements Signed.
func (r *Revoke) Validate() error { return validate.Struct(r) }

// Verify implements Signed.
func (r *Revoke) Verify(program authority.Identity) error { return verify(r, r.Signature, program) }

// Fingerprint implements Signed.
func (r *Revoke) Fingerprint() string { return fingerprint(KindRevoke, r.Signature) }

// ──────────────────────────────────────────────────
// Wire encoding
// ──────────────────────────────────────────────────

// Encode serializes a signed instruction for transport.
func Encode(ins Signed) ([]byte, error) {
	return Marshal(ins)
}

// DecodeGrant decodes a Grant produced by Encode.
func DecodeGrant(data []byte) (*Grant, error) {
	g := new(Grant)
	if err := Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("instruction: decode grant: %w", err)
	}
	return g, nil
}

// DecodeCharge decodes a Charge produced by Encode.
func DecodeCharge(data []byte) (*Charge, error) {
	c := new(Charge)
	if err := Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("instruction: decode charge: %w", err)
	}
	return c, nil
}

// DecodeRevoke decodes a Revoke produced by Encode.
func DecodeRevoke(data []byte) (*Revoke, error) {
	r := new(Revoke)
	if err := Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("instruction: decode revoke: %w", err)
	}
	return r, nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func sign(ins Signed, kp *authority.Keypair, program authority.Identity) ([]byte, error) {
	if kp.Public() != ins.SignerIdentity() {
		return nil, fmt.Errorf("instruction: %s must be signed by %s, not %s",
			ins.Kind(), ins.SignerIdentity(), kp.Public())
	}
	msg, err := ins.SigningBytes(program)
	if err != nil {
		return nil, fmt.Errorf("instruction: encode %s: %w", ins.Kind(), err)
	}
	return kp.Sign(msg), nil
}

func verify(ins Signed, sig []byte, program authority.Identity) error {
	if len(sig) == 0 {
		return ErrMissingSignature
	}
	msg, err := ins.SigningBytes(program)
	if err != nil {
		return fmt.Errorf("instruction: encode %s: %w", ins.Kind(), err)
	}
	if !authority.Verify(ins.SignerIdentity(), msg, sig) {
		return ErrBadSignature
	}
	return nil
}

func fingerprint(kind Kind, sig []byte) string {
	return kind.String() + ":" + hex.EncodeToString(sig)
}
