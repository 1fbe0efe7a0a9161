package relayer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/mandate"
	ledgermem "github.com/xraph/mandate/assetledger/memory"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
	"github.com/xraph/mandate/relayer"
	"github.com/xraph/mandate/store"
	"github.com/xraph/mandate/store/memory"
)

var testProgram = authority.MustParseIdentity("BPFLoaderUpgradeab1e11111111111111111111111")

func identity(fill byte) authority.Identity {
	var out authority.Identity
	for i := range out {
		out[i] = fill
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newKey(t *testing.T) *authority.Keypair {
	t.Helper()
	kp, err := authority.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func testJob() *relayer.Job {
	return &relayer.Job{
		SubscriptionID:  "abc123",
		Payer:           identity(0x01),
		Amount:          100,
		AssetType:       identity(0xA0),
		PayerAccount:    identity(0xA1),
		ReceiverAccount: identity(0xB1),
	}
}

// scripted returns errs in order, then succeeds, recording every charge seen.
type scripted struct {
	mu      sync.Mutex
	errs    []error
	charges []*instruction.Charge
}

func (s *scripted) Charge(_ context.Context, c *instruction.Charge) (*mandate.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges = append(s.charges, c)
	if n := len(s.charges); n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return &mandate.Receipt{ChargeID: id.NewChargeID(), Amount: c.Amount}, nil
}

func newRelayer(t *testing.T, c relayer.Charger, opts ...relayer.Option) (*relayer.Relayer, *authority.Keypair) {
	t.Helper()
	key := newKey(t)
	opts = append([]relayer.Option{
		relayer.WithLogger(quiet()),
		relayer.WithBackoff(time.Millisecond, 5*time.Millisecond),
	}, opts...)
	r, err := relayer.New(c, key, testProgram, opts...)
	require.NoError(t, err)
	return r, key
}

func TestNewRequiresDependencies(t *testing.T) {
	key := newKey(t)
	charger := &scripted{}

	_, err := relayer.New(nil, key, testProgram)
	assert.ErrorIs(t, err, mandate.ErrInvalidInput)
	_, err = relayer.New(charger, nil, testProgram)
	assert.ErrorIs(t, err, mandate.ErrInvalidInput)
	_, err = relayer.New(charger, key, authority.Zero)
	assert.ErrorIs(t, err, mandate.ErrInvalidInput)

	r, err := relayer.New(charger, key, testProgram)
	require.NoError(t, err)
	assert.Equal(t, key.Public(), r.Backend())
}

func TestProcessSignsEachAttempt(t *testing.T) {
	charger := &scripted{errs: []error{
		fmt.Errorf("%w: ledger busy", mandate.ErrTransferFailed),
		mandate.ErrConflict,
	}}
	r, key := newRelayer(t, charger)

	res := r.Process(context.Background(), testJob())
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, uint64(100), res.Receipt.Amount)

	seen := make(map[string]bool)
	for _, c := range charger.charges {
		assert.Equal(t, key.Public(), c.Caller)
		require.NoError(t, c.Verify(testProgram))
		assert.False(t, seen[c.Fingerprint()], "attempts must not share a signature")
		seen[c.Fingerprint()] = true
	}
}

func TestProcessStopsOnDenial(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"Over cap", mandate.ErrInsufficientAllowance},
		{"Unauthorized", mandate.ErrUnauthorized},
		{"Missing authorization", mandate.ErrNotFound},
		{"Store closed", mandate.ErrStoreClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charger := &scripted{errs: []error{tt.err, tt.err}}
			r, _ := newRelayer(t, charger)

			res := r.Process(context.Background(), testJob())
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, 1, res.Attempts)
			assert.Nil(t, res.Receipt)
		})
	}
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = mandate.ErrConflict
	}
	charger := &scripted{errs: errs}
	r, _ := newRelayer(t, charger, relayer.WithMaxAttempts(4))

	res := r.Process(context.Background(), testJob())
	assert.ErrorIs(t, res.Err, mandate.ErrConflict)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, charger.charges, 4)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	charger := &scripted{}
	results := make(chan relayer.Result, 20)
	r, _ := newRelayer(t, charger,
		relayer.WithWorkers(3),
		relayer.WithQueueSize(4),
		relayer.WithResultHandler(func(res relayer.Result) { results <- res }),
	)

	ctx := context.Background()
	_, err := r.Enqueue(ctx, testJob())
	require.ErrorIs(t, err, relayer.ErrNotStarted)

	require.NoError(t, r.Start(ctx))
	ids := make(map[string]bool)
	for range 20 {
		jobID, err := r.Enqueue(ctx, testJob())
		require.NoError(t, err)
		assert.Equal(t, id.PrefixJob, jobID.Prefix())
		ids[jobID.String()] = true
	}
	require.NoError(t, r.Stop(ctx))
	close(results)

	done := 0
	for res := range results {
		require.NoError(t, res.Err)
		assert.True(t, ids[res.Job.ID.String()])
		done++
	}
	assert.Equal(t, 20, done)
	assert.Equal(t, 0, r.Pending())

	_, err = r.Enqueue(ctx, testJob())
	assert.ErrorIs(t, err, relayer.ErrClosed)
	assert.NoError(t, r.Stop(ctx), "second Stop is a no-op")
}

func TestStopAbandonsBackoffOnDeadline(t *testing.T) {
	charger := &scripted{errs: []error{mandate.ErrTransferFailed, mandate.ErrTransferFailed}}
	results := make(chan relayer.Result, 1)
	r, _ := newRelayer(t, charger,
		relayer.WithWorkers(1),
		relayer.WithBackoff(time.Hour, time.Hour),
		relayer.WithResultHandler(func(res relayer.Result) { results <- res }),
	)

	require.NoError(t, r.Start(context.Background()))
	_, err := r.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)

	res := <-results
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
}

// TestRelayerAgainstEngine runs the relayer's signed charges through a real
// engine and checks the cap still binds.
type engineFixture struct {
	m            *mandate.Mandate
	assets       *ledgermem.Ledger
	payer        *authority.Keypair
	backend      *authority.Keypair
	receiverAcct authority.Identity
}

// newEngine starts an engine over st with "abc123" granted up to approved.
func newEngine(t *testing.T, st store.Store, approved uint64) *engineFixture {
	t.Helper()
	ctx := context.Background()
	f := &engineFixture{payer: newKey(t), backend: newKey(t), receiverAcct: identity(0xB1)}

	asset, payerAcct := identity(0xA0), identity(0xA1)
	f.assets = ledgermem.New(ledgermem.WithTrustedPrograms(testProgram))
	f.assets.CreateAsset(asset, 6)
	require.NoError(t, f.assets.OpenAccount(payerAcct, f.payer.Public(), asset))
	require.NoError(t, f.assets.OpenAccount(f.receiverAcct, identity(0xB0), asset))
	require.NoError(t, f.assets.Mint(payerAcct, 10_000))

	m, err := mandate.New(st, f.assets,
		mandate.WithProgramID(testProgram),
		mandate.WithTrustedBackend(f.backend.Public()),
		mandate.WithLogger(quiet()),
	)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop() })
	f.m = m

	grant := &instruction.Grant{
		SubscriptionID:  "abc123",
		ApprovedAmount:  approved,
		Payer:           f.payer.Public(),
		Receiver:        identity(0xB0),
		AssetType:       asset,
		PayerAccount:    payerAcct,
		ReceiverAccount: f.receiverAcct,
	}
	require.NoError(t, grant.Sign(f.payer, testProgram))
	_, err = m.Grant(ctx, grant)
	require.NoError(t, err)
	return f
}

func (f *engineFixture) received(t *testing.T) uint64 {
	t.Helper()
	acct, err := f.assets.Account(context.Background(), f.receiverAcct)
	require.NoError(t, err)
	return acct.Balance
}

func TestRelayerAgainstEngine(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, memory.New(), 250)
	m, payer, backend := f.m, f.payer, f.backend

	r, err := relayer.New(m, backend, testProgram,
		relayer.WithLogger(quiet()),
		relayer.WithBackoff(time.Millisecond, time.Millisecond),
	)
	require.NoError(t, err)

	job := testJob()
	job.Payer = payer.Public()

	for _, wantErr := range []error{nil, nil, mandate.ErrInsufficientAllowance} {
		res := r.Process(ctx, job)
		if wantErr == nil {
			require.NoError(t, res.Err)
			continue
		}
		assert.True(t, errors.Is(res.Err, wantErr), "got %v", res.Err)
		assert.Equal(t, 1, res.Attempts)
	}

	auth, err := m.Authorization(ctx, payer.Public(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), auth.SpentAmount)

	// A relayer holding a different key is not the trusted backend.
	impostor, err := relayer.New(m, newKey(t), testProgram, relayer.WithLogger(quiet()))
	require.NoError(t, err)
	res := impostor.Process(ctx, job)
	assert.ErrorIs(t, res.Err, mandate.ErrUnauthorized)
}

// droppedCommit fails the first UpdateSpent after the transfer went through.
type droppedCommit struct {
	*memory.Store
	once sync.Once
}

func (s *droppedCommit) UpdateSpent(ctx context.Context, address authority.Identity, prev, next uint64) error {
	failed := false
	s.once.Do(func() { failed = true })
	if failed {
		return errors.New("connection reset")
	}
	return s.Store.UpdateSpent(ctx, address, prev, next)
}

func TestProcessDoesNotResubmitUncommitted(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t, &droppedCommit{Store: memory.New()}, 1000)

	r, err := relayer.New(f.m, f.backend, testProgram,
		relayer.WithLogger(quiet()),
		relayer.WithBackoff(time.Millisecond, time.Millisecond),
	)
	require.NoError(t, err)

	job := testJob()
	job.Payer = f.payer.Public()
	res := r.Process(ctx, job)

	require.ErrorIs(t, res.Err, mandate.ErrUncommitted)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, uint64(100), f.received(t), "charged exactly once")

	auth, err := f.m.Authorization(ctx, f.payer.Public(), "abc123")
	require.NoError(t, err)
	assert.Zero(t, auth.SpentAmount)
}

// blocking holds every charge until release is closed.
type blocking struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blocking) Charge(_ context.Context, c *instruction.Charge) (*mandate.Receipt, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &mandate.Receipt{ChargeID: id.NewChargeID(), Amount: c.Amount}, nil
}

func TestEnqueueBlockedOnFullQueue(t *testing.T) {
	charger := &blocking{started: make(chan struct{}), release: make(chan struct{})}
	r, _ := newRelayer(t, charger, relayer.WithWorkers(1), relayer.WithQueueSize(1))

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	_, err := r.Enqueue(ctx, testJob())
	require.NoError(t, err)
	<-charger.started
	_, err = r.Enqueue(ctx, testJob())
	require.NoError(t, err, "fills the queue")

	blocked := make(chan error, 1)
	go func() {
		_, err := r.Enqueue(ctx, testJob())
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	pending := make(chan int, 1)
	go func() { pending <- r.Pending() }()
	select {
	case n := <-pending:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Pending blocked behind a waiting Enqueue")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(ctx) }()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, relayer.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Enqueue still blocked after Stop")
	}

	close(charger.release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after workers drained")
	}
}
