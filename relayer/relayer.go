// Package relayer runs charges on behalf of the trusted backend.
//
// A Relayer holds the backend keypair, turns queued Jobs into signed
// instruction.Charge values, and submits them to a Charger (normally a
// *mandate.Mandate) from a fixed worker pool. Each attempt is signed afresh
// so retries are never mistaken for replays. Retryable failures back off
// exponentially; denials end the job immediately.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
)

// Defaults applied by New.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Minute
	DefaultMaxDelay    = 30 * time.Minute
)

var (
	// ErrClosed is returned by Enqueue once the relayer is stopped.
	ErrClosed = errors.New("relayer: closed")

	// ErrNotStarted is returned by Enqueue before Start.
	ErrNotStarted = errors.New("relayer: not started")
)

// Charger executes a signed charge.
type Charger interface {
	Charge(ctx context.Context, c *instruction.Charge) (*mandate.Receipt, error)
}

// ChargerFunc adapts a function to Charger.
type ChargerFunc func(ctx context.Context, c *instruction.Charge) (*mandate.Receipt, error)

// Charge implements Charger.
func (f ChargerFunc) Charge(ctx context.Context, c *instruction.Charge) (*mandate.Receipt, error) {
	return f(ctx, c)
}

// Job is one requested pull against an authorization.
type Job struct {
	ID              id.JobID           `json:"id"`
	SubscriptionID  string             `json:"subscription_id"`
	Payer           authority.Identity `json:"payer"`
	Amount          uint64             `json:"amount,string"`
	AssetType       authority.Identity `json:"asset_type"`
	PayerAccount    authority.Identity `json:"payer_account"`
	ReceiverAccount authority.Identity `json:"receiver_account"`
	EnqueuedAt      time.Time          `json:"enqueued_at"`
}

// Result is the outcome of a job after its final attempt.
type Result struct {
	Job      *Job
	Receipt  *mandate.Receipt
	Attempts int
	Err      error
}

// Relayer signs and submits charges with retry.
type Relayer struct {
	charger     Charger
	key         *authority.Keypair
	program     authority.Identity
	logger      *slog.Logger
	onResult    func(Result)
	now         func() time.Time
	workers     int
	queueSize   int
	maxAttempts uint
	baseDelay   time.Duration
	maxDelay    time.Duration

	nonce atomic.Uint64

	mu       sync.Mutex
	jobs     chan *Job
	closed   bool
	stopping chan struct{}
	cancel   context.CancelFunc
	running  sync.WaitGroup
	sending  sync.WaitGroup
}

// Option configures a Relayer.
type Option func(*Relayer)

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(r *Relayer) { r.workers = n }
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(r *Relayer) { r.queueSize = n }
}

// WithMaxAttempts bounds attempts per job, including the first.
func WithMaxAttempts(n uint) Option {
	return func(r *Relayer) { r.maxAttempts = n }
}

// WithBackoff sets the first retry delay and the ceiling between attempts.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Relayer) {
		r.baseDelay = base
		r.maxDelay = ceiling
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relayer) { r.logger = logger }
}

// WithResultHandler receives every finished job. It runs on the worker
// goroutine and must not block for long.
func WithResultHandler(fn func(Result)) Option {
	return func(r *Relayer) { r.onResult = fn }
}

// WithClock overrides the time source used for IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Relayer) { r.now = now }
}

// New creates a Relayer signing with key for program.
func New(charger Charger, key *authority.Keypair, program authority.Identity, opts ...Option) (*Relayer, error) {
	if charger == nil {
		return nil, fmt.Errorf("%w: relayer requires a charger", mandate.ErrInvalidInput)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: relayer requires the backend keypair", mandate.ErrInvalidInput)
	}
	if program.IsZero() {
		return nil, fmt.Errorf("%w: relayer requires a program id", mandate.ErrInvalidInput)
	}

	r := &Relayer{
		charger:     charger,
		key:         key,
		program:     program,
		logger:      slog.Default(),
		now:         time.Now,
		workers:     DefaultWorkers,
		queueSize:   DefaultQueueSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		stopping:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	r.nonce.Store(uint64(time.Now().UnixNano()))
	return r, nil
}

// Backend returns the identity charges are signed as.
func (r *Relayer) Backend() authority.Identity { return r.key.Public() }

// Start launches the worker pool. Workers stop when ctx is canceled or
// after Stop drains the queue.
func (r *Relayer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.jobs != nil {
		return errors.New("relayer: already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.jobs = make(chan *Job, r.queueSize)
	for range r.workers {
		r.running.Add(1)
		go r.work(ctx, r.jobs)
	}

	r.logger.Info("relayer started",
		"backend", r.key.Public().String(),
		"workers", r.workers,
		"max_attempts", r.maxAttempts,
	)
	return nil
}

// Stop stops accepting jobs and waits for queued ones to finish. If ctx ends
// first, in-flight retries are abandoned and ctx's error is returned.
func (r *Relayer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stopping)
	jobs, cancel := r.jobs, r.cancel
	r.mu.Unlock()

	// Blocked senders see stopping and leave before jobs is closed.
	r.sending.Wait()
	if jobs != nil {
		close(jobs)
	}

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	if cancel == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
	cancel()
	r.logger.Info("relayer stopped")
	return nil
}

// Enqueue queues job for the worker pool, assigning an ID when unset. It
// blocks while the queue is full, until ctx ends or Stop is called.
func (r *Relayer) Enqueue(ctx context.Context, job *Job) (id.JobID, error) {
	if job == nil {
		return id.Nil, fmt.Errorf("%w: nil job", mandate.ErrInvalidInput)
	}
	if job.ID.IsNil() {
		job.ID = id.NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = r.now().UTC()
	}

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return id.Nil, ErrClosed
	case r.jobs == nil:
		r.mu.Unlock()
		return id.Nil, ErrNotStarted
	}
	jobs := r.jobs
	r.sending.Add(1)
	r.mu.Unlock()
	defer r.sending.Done()

	select {
	case jobs <- job:
		return job.ID, nil
	case <-r.stopping:
		return id.Nil, ErrClosed
	case <-ctx.Done():
		return id.Nil, ctx.Err()
	}
}

// Pending reports queued jobs not yet picked up by a worker.
func (r *Relayer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Relayer) work(ctx context.Context, jobs <-chan *Job) {
	defer r.running.Done()
	for job := range jobs {
		res := r.Process(ctx, job)
		if r.onResult != nil {
			r.onResult(res)
		}
	}
}

// Process runs job synchronously with retries and returns its outcome.
func (r *Relayer) Process(ctx context.Context, job *Job) Result {
	res := Result{Job: job}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.MaxInterval = r.maxDelay

	receipt, err := backoff.Retry(ctx, func() (*mandate.Receipt, error) {
		res.Attempts++
		receipt, err := r.attempt(ctx, job)
		if err == nil {
			return receipt, nil
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("relayer charge failed, retrying",
				"job_id", job.ID.String(),
				"subscription_id", job.SubscriptionID,
				"attempt", res.Attempts,
				"retry_in", next,
				"error", err,
			)
		}),
	)

	res.Receipt, res.Err = receipt, err
	if mandate.IsUncommitted(err) {
		r.logger.Error("relayer job transferred but not recorded, reconcile before resubmitting",
			"job_id", job.ID.String(),
			"subscription_id", job.SubscriptionID,
			"payer", job.Payer.String(),
			"amount", job.Amount,
			"error", err,
		)
		return res
	}
	if err != nil {
		r.logger.Error("relayer job failed",
			"job_id", job.ID.String(),
			"subscription_id", job.SubscriptionID,
			"attempts", res.Attempts,
			"error", err,
		)
		return res
	}

	r.logger.Info("relayer job charged",
		"job_id", job.ID.String(),
		"charge_id", receipt.ChargeID.String(),
		"amount", receipt.Amount,
		"remaining", receipt.Remaining,
		"attempts", res.Attempts,
	)
	return res
}

// attempt signs a fresh charge for job and submits it.
func (r *Relayer) attempt(ctx context.Context, job *Job) (*mandate.Receipt, error) {
	c := &instruction.Charge{
		SubscriptionID:  job.SubscriptionID,
		Payer:           job.Payer,
		Amount:          job.Amount,
		AssetType:       job.AssetType,
		PayerAccount:    job.PayerAccount,
		ReceiverAccount: job.ReceiverAccount,
		IssuedAt:        r.now().UTC(),
		Nonce:           r.nonce.Add(1),
	}
	if err := c.Sign(r.key, r.program); err != nil {
		return nil, fmt.Errorf("relayer: sign charge: %w", err)
	}
	return r.charger.Charge(ctx, c)
}

// retryable reports whether a later attempt could succeed. Policy denials,
// shutdown and charges whose funds already moved are final.
func retryable(err error) bool {
	switch {
	case mandate.IsUncommitted(err):
		return false
	case mandate.IsRetryable(err):
		return true
	case mandate.IsDenied(err),
		errors.Is(err, mandate.ErrStoreClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
