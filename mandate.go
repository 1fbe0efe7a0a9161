package mandate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/mandate/assetledger"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
	"github.com/xraph/mandate/plugin"
	"github.com/xraph/mandate/replay"
	"github.com/xraph/mandate/store"
	"github.com/xraph/mandate/types"
)

const (
	// DefaultMaxInstructionAge is how long a signed instruction stays valid.
	DefaultMaxInstructionAge = 10 * time.Minute

	// DefaultClockSkew is how far in the future IssuedAt may be.
	DefaultClockSkew = time.Minute
)

// Mandate is the authorization engine. It owns the per-subscription records
// and drives the external asset ledger through the shared delegate authority.
type Mandate struct {
	store   store.Store
	assets  assetledger.Ledger
	plugins *plugin.Registry
	logger  *slog.Logger
	guard   replay.Guard
	locks   *addressLocks

	program        authority.Identity
	trustedBackend authority.Identity
	delegate       authority.Signer

	now       func() time.Time
	maxAge    time.Duration
	clockSkew time.Duration
}

// Receipt describes a committed charge.
type Receipt struct {
	ChargeID    id.ChargeID        `json:"charge_id"`
	Address     authority.Identity `json:"address"`
	Amount      uint64             `json:"amount,string"`
	SpentAmount uint64             `json:"spent_amount,string"`
	Remaining   uint64             `json:"remaining,string"`
	ChargedAt   time.Time          `json:"charged_at"`
}

// New creates a new Mandate instance. A program ID and a trusted backend are
// required; the delegate authority is derived once here and shared by every
// authorization.
func New(s store.Store, assets assetledger.Ledger, opts ...Option) (*Mandate, error) {
	m := &Mandate{
		store:     s,
		assets:    assets,
		plugins:   plugin.NewRegistry(),
		logger:    slog.Default(),
		guard:     replay.NewMemoryGuard(),
		locks:     newAddressLocks(),
		now:       time.Now,
		maxAge:    DefaultMaxInstructionAge,
		clockSkew: DefaultClockSkew,
	}

	for _, opt := range opts {
		opt(m)
	}

	if s == nil || assets == nil {
		return nil, fmt.Errorf("%w: store and asset ledger are required", ErrInvalidInput)
	}
	if m.program.IsZero() {
		return nil, fmt.Errorf("%w: program id is required", ErrInvalidInput)
	}
	if m.trustedBackend.IsZero() {
		return nil, fmt.Errorf("%w: trusted backend is required", ErrInvalidInput)
	}

	delegate, err := authority.DeriveDelegate(m.program)
	if err != nil {
		return nil, fmt.Errorf("mandate: derive delegate authority: %w", err)
	}
	m.delegate = delegate

	return m, nil
}

// Option configures a Mandate instance.
type Option func(*Mandate)

// WithProgramID sets the program identity that scopes every derived address
// and every signed instruction.
func WithProgramID(program authority.Identity) Option {
	return func(m *Mandate) {
		m.program = program
	}
}

// WithTrustedBackend sets the only identity allowed to charge.
func WithTrustedBackend(backend authority.Identity) Option {
	return func(m *Mandate) {
		m.trustedBackend = backend
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mandate) {
		m.logger = logger
		m.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(m *Mandate) {
		_ = m.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithReplayGuard replaces the in-memory replay guard, e.g. with a Redis
// guard shared between processes.
func WithReplayGuard(g replay.Guard) Option {
	return func(m *Mandate) {
		m.guard = g
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mandate) {
		m.now = now
	}
}

// WithMaxInstructionAge sets how long a signed instruction is accepted.
func WithMaxInstructionAge(d time.Duration) Option {
	return func(m *Mandate) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// Start migrates the store and initializes plugins.
func (m *Mandate) Start(ctx context.Context) error {
	if err := m.store.Migrate(ctx); err != nil {
		return err
	}

	m.plugins.EmitInit(ctx, m)

	m.logger.Info("mandate started",
		"program", m.program.String(),
		"delegate", m.delegate.Address().String(),
		"delegate_bump", m.delegate.Bump(),
		"max_instruction_age", m.maxAge,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (m *Mandate) Stop() error {
	ctx := context.Background()
	m.plugins.EmitShutdown(ctx)

	return m.store.Close()
}

// ProgramID returns the program identity.
func (m *Mandate) ProgramID() authority.Identity { return m.program }

// TrustedBackend returns the identity allowed to charge.
func (m *Mandate) TrustedBackend() authority.Identity { return m.trustedBackend }

// DelegateAuthority returns the shared delegate signer named as spender on
// every payer account.
func (m *Mandate) DelegateAuthority() authority.Signer { return m.delegate }

// Plugins returns the plugin registry.
func (m *Mandate) Plugins() *plugin.Registry { return m.plugins }

// ──────────────────────────────────────────────────
// Grant
// ──────────────────────────────────────────────────

// Grant creates the authorization for (subscription, payer) and approves the
// delegate authority as spender of the payer account for ApprovedAmount.
// Either both happen or neither does.
func (m *Mandate) Grant(ctx context.Context, g *instruction.Grant) (*authorization.Authorization, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grant", ErrInvalidInput)
	}
	if err := g.Validate(); err != nil {
		return nil, validationError(err)
	}
	subID, err := authorization.NormalizeSubscriptionID(g.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := m.verify(g); err != nil {
		return nil, err
	}

	// The fingerprint is claimed only once the accounts check out; a grant
	// rejected for an unopened account stays resubmittable.
	if err := m.checkGrantAccounts(ctx, g); err != nil {
		return nil, err
	}

	addr, bump, err := authority.RecordAddress(m.program, subID, g.Payer)
	if err != nil {
		return nil, fmt.Errorf("%w: derive record address: %w", ErrInvalidInput, err)
	}

	release := m.locks.lock(addr)
	defer release()

	if err := m.claim(ctx, g); err != nil {
		return nil, err
	}

	auth := &authorization.Authorization{
		Entity:          types.NewEntityAt(m.now()),
		ID:              id.NewAuthorizationID(),
		Address:         addr,
		Payer:           g.Payer,
		Receiver:        g.Receiver,
		AssetType:       g.AssetType,
		PayerAccount:    g.PayerAccount,
		ReceiverAccount: g.ReceiverAccount,
		ApprovedAmount:  g.ApprovedAmount,
		SubscriptionID:  subID,
		Bump:            bump,
		DelegateBump:    m.delegate.Bump(),
	}

	if err := m.store.CreateAuthorization(ctx, auth); err != nil {
		if errors.Is(err, ErrDuplicateAuthorization) {
			m.logger.Info("grant rejected: authorization exists",
				"address", addr.String(),
				"subscription_id", subID,
			)
		}
		return nil, err
	}

	if err := m.assets.Authorize(ctx, g.PayerAccount, g.Payer, m.delegate.Address(), g.ApprovedAmount); err != nil {
		// Roll back so no record exists without its external approval.
		if delErr := m.store.DeleteAuthorization(context.WithoutCancel(ctx), addr); delErr != nil {
			m.logger.Error("grant rollback failed",
				"address", addr.String(),
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("mandate: approve delegate: %w", err)
	}

	m.logger.Info("authorization granted",
		"id", auth.ID.String(),
		"address", addr.String(),
		"payer", g.Payer.String(),
		"subscription_id", subID,
		"approved_amount", g.ApprovedAmount,
	)

	m.plugins.EmitAuthorizationGranted(ctx, auth)
	return auth.Clone(), nil
}

// checkGrantAccounts verifies the payer account is owned by the payer and
// that both accounts hold the declared asset.
func (m *Mandate) checkGrantAccounts(ctx context.Context, g *instruction.Grant) error {
	payerAcct, err := m.account(ctx, g.PayerAccount)
	if err != nil {
		return err
	}
	if payerAcct.Owner != g.Payer {
		return fmt.Errorf("%w: payer account %s is not owned by payer", ErrInvalidAccount, g.PayerAccount)
	}
	if payerAcct.Asset != g.AssetType {
		return fmt.Errorf("%w: payer account %s does not hold asset %s", ErrInvalidAccount, g.PayerAccount, g.AssetType)
	}

	receiverAcct, err := m.account(ctx, g.ReceiverAccount)
	if err != nil {
		return err
	}
	if receiverAcct.Asset != g.AssetType {
		return fmt.Errorf("%w: receiver account %s does not hold asset %s", ErrInvalidAccount, g.ReceiverAccount, g.AssetType)
	}
	return nil
}

func (m *Mandate) account(ctx context.Context, addr authority.Identity) (*assetledger.Account, error) {
	acct, err := m.assets.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, assetledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
		}
		return nil, fmt.Errorf("mandate: load account %s: %w", addr, err)
	}
	return acct, nil
}

// ──────────────────────────────────────────────────
// Charge
// ──────────────────────────────────────────────────

// Charge moves Amount from the payer account to the receiver account using
// the delegate authority, bounded by the authorization's remaining cap.
// The spent amount advances only after the transfer succeeded. Charge never
// retries. A failed call leaves the record unchanged; when it fails with
// ErrUncommitted the transfer did happen and the caller must reconcile
// instead of resubmitting.
func (m *Mandate) Charge(ctx context.Context, c *instruction.Charge) (*Receipt, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil charge", ErrInvalidInput)
	}

	receipt, err := m.charge(ctx, c)
	if err != nil {
		m.logger.Warn("charge rejected",
			"payer", c.Payer.String(),
			"subscription_id", c.SubscriptionID,
			"amount", c.Amount,
			"error", err,
		)
		m.plugins.EmitChargeRejected(ctx, c, err)
		return nil, err
	}
	return receipt, nil
}

func (m *Mandate) charge(ctx context.Context, c *instruction.Charge) (*Receipt, error) {
	if c.Caller != m.trustedBackend {
		return nil, fmt.Errorf("%w: caller %s is not the trusted backend", ErrUnauthorized, c.Caller)
	}
	if err := c.Validate(); err != nil {
		return nil, validationError(err)
	}
	subID, err := authorization.NormalizeSubscriptionID(c.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := m.authenticate(ctx, c); err != nil {
		return nil, err
	}

	addr, _, err := authority.RecordAddress(m.program, subID, c.Payer)
	if err != nil {
		return nil, fmt.Errorf("%w: derive record address: %w", ErrInvalidInput, err)
	}

	release := m.locks.lock(addr)
	defer release()

	auth, err := m.store.GetAuthorization(ctx, addr)
	if err != nil {
		return nil, err
	}

	if !auth.MatchesAccounts(c.PayerAccount, c.ReceiverAccount, c.AssetType) {
		return nil, fmt.Errorf("%w: presented accounts differ from the granted ones", ErrInvalidAccount)
	}

	newSpent, err := types.CheckedAdd(auth.SpentAmount, c.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: spent %d + amount %d", ErrArithmeticOverflow, auth.SpentAmount, c.Amount)
	}
	if newSpent > auth.ApprovedAmount {
		return nil, fmt.Errorf("%w: spent %d + amount %d exceeds approved %d",
			ErrInsufficientAllowance, auth.SpentAmount, c.Amount, auth.ApprovedAmount)
	}

	signer, err := authority.ReconstructDelegate(m.program, auth.DelegateBump)
	if err != nil {
		return nil, fmt.Errorf("mandate: reconstruct delegate authority: %w", err)
	}

	if err := m.assets.Transfer(ctx, auth.PayerAccount, auth.ReceiverAccount, auth.AssetType, signer, c.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	// Funds have moved; commit regardless of caller cancellation.
	newSpent, err = m.commitSpent(context.WithoutCancel(ctx), auth, c.Amount, newSpent)
	if err != nil {
		m.logger.Error("charge transferred but spent amount not committed",
			"address", addr.String(),
			"prev_spent", auth.SpentAmount,
			"amount", c.Amount,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %d to %s: %w", ErrUncommitted, c.Amount, addr, err)
	}

	now := m.now().UTC()
	auth.SpentAmount = newSpent
	auth.Touch(now)

	receipt := &Receipt{
		ChargeID:    id.NewChargeID(),
		Address:     addr,
		Amount:      c.Amount,
		SpentAmount: newSpent,
		Remaining:   auth.Remaining(),
		ChargedAt:   now,
	}

	m.logger.Info("authorization charged",
		"charge_id", receipt.ChargeID.String(),
		"address", addr.String(),
		"amount", c.Amount,
		"spent_amount", newSpent,
		"remaining", receipt.Remaining,
	)

	m.plugins.EmitAuthorizationCharged(ctx, auth, c.Amount, receipt.ChargeID)
	return receipt, nil
}

// maxCommitAttempts bounds compare-and-swap retries after a transfer.
const maxCommitAttempts = 3

// commitSpent records amount against auth after the transfer. A lost
// compare-and-swap means another process charged the same record; the
// amount is re-applied to the fresh value as long as the cap still holds.
func (m *Mandate) commitSpent(ctx context.Context, auth *authorization.Authorization, amount, next uint64) (uint64, error) {
	prev := auth.SpentAmount
	for attempt := 1; ; attempt++ {
		err := m.store.UpdateSpent(ctx, auth.Address, prev, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == maxCommitAttempts {
			return 0, err
		}

		fresh, err := m.store.GetAuthorization(ctx, auth.Address)
		if err != nil {
			return 0, err
		}
		prev = fresh.SpentAmount
		next, err = types.CheckedAdd(prev, amount)
		if err != nil || next > fresh.ApprovedAmount {
			return 0, fmt.Errorf("%w: concurrent charges exceed approved %d", ErrConflict, fresh.ApprovedAmount)
		}
	}
}

// ──────────────────────────────────────────────────
// Revoke
// ──────────────────────────────────────────────────

// Revoke deletes the authorization. Only the record's payer may revoke. The
// external approval on the payer account is left as is; the payer clears it
// with the asset ledger directly if wanted.
func (m *Mandate) Revoke(ctx context.Context, r *instruction.Revoke) (*authorization.Authorization, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil revoke", ErrInvalidInput)
	}
	if err := r.Validate(); err != nil {
		return nil, validationError(err)
	}
	subID, err := authorization.NormalizeSubscriptionID(r.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := m.authenticate(ctx, r); err != nil {
		return nil, err
	}

	addr, _, err := authority.RecordAddress(m.program, subID, r.Payer)
	if err != nil {
		return nil, fmt.Errorf("%w: derive record address: %w", ErrInvalidInput, err)
	}

	release := m.locks.lock(addr)
	defer release()

	auth, err := m.store.GetAuthorization(ctx, addr)
	if err != nil {
		return nil, err
	}
	if r.Caller != auth.Payer {
		return nil, fmt.Errorf("%w: only the payer may revoke", ErrUnauthorized)
	}

	if err := m.store.DeleteAuthorization(ctx, addr); err != nil {
		return nil, err
	}

	m.logger.Info("authorization revoked",
		"id", auth.ID.String(),
		"address", addr.String(),
		"spent_amount", auth.SpentAmount,
		"approved_amount", auth.ApprovedAmount,
	)

	m.plugins.EmitAuthorizationRevoked(ctx, auth)
	return auth, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Authorization returns the live record for (payer, subscription).
func (m *Mandate) Authorization(ctx context.Context, payer authority.Identity, subscriptionID string) (*authorization.Authorization, error) {
	subID, err := authorization.NormalizeSubscriptionID(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	addr, _, err := authority.RecordAddress(m.program, subID, payer)
	if err != nil {
		return nil, fmt.Errorf("%w: derive record address: %w", ErrInvalidInput, err)
	}
	return m.store.GetAuthorization(ctx, addr)
}

// ListAuthorizations returns the payer's live records, oldest first.
func (m *Mandate) ListAuthorizations(ctx context.Context, payer authority.Identity, opts authorization.ListOpts) ([]*authorization.Authorization, error) {
	return m.store.ListAuthorizations(ctx, payer, opts)
}

// RecordAddress returns the derived address for (payer, subscription).
func (m *Mandate) RecordAddress(payer authority.Identity, subscriptionID string) (authority.Identity, error) {
	subID, err := authorization.NormalizeSubscriptionID(subscriptionID)
	if err != nil {
		return authority.Zero, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	addr, _, err := authority.RecordAddress(m.program, subID, payer)
	if err != nil {
		return authority.Zero, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return addr, nil
}

// ──────────────────────────────────────────────────
// Instruction authentication
// ──────────────────────────────────────────────────

// authenticate verifies the instruction and claims its fingerprint.
func (m *Mandate) authenticate(ctx context.Context, ins instruction.Signed) error {
	if err := m.verify(ins); err != nil {
		return err
	}
	return m.claim(ctx, ins)
}

// verify checks the signature and the validity window.
func (m *Mandate) verify(ins instruction.Signed) error {
	if err := ins.Verify(m.program); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnauthorized, ins.Kind(), err)
	}

	now := m.now()
	issued := ins.Issued()
	if issued.Before(now.Add(-m.maxAge)) {
		return fmt.Errorf("%w: %s issued at %s", ErrExpired, ins.Kind(), issued.Format(time.RFC3339))
	}
	if issued.After(now.Add(m.clockSkew)) {
		return fmt.Errorf("%w: %s issued in the future at %s", ErrExpired, ins.Kind(), issued.Format(time.RFC3339))
	}
	return nil
}

// claim marks the instruction as used. A second claim within the window
// fails with ErrReplayed.
func (m *Mandate) claim(ctx context.Context, ins instruction.Signed) error {
	fresh, err := m.guard.Claim(ctx, ins.Fingerprint(), m.maxAge+m.clockSkew)
	if err != nil {
		return fmt.Errorf("mandate: replay guard: %w", err)
	}
	if !fresh {
		return fmt.Errorf("%w: %s", ErrReplayed, ins.Kind())
	}
	return nil
}
