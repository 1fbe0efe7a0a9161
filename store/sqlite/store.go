package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	mandatestore "github.com/xraph/mandate/store"
)

// compile-time interface check
var _ mandatestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("mandate/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: mandate/sqlite: %w", mandate.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Authorization Store ====================

// CreateAuthorization inserts a record. The unique address index turns a
// second grant for the same (subscription, payer) into a no-op insert.
func (s *Store) CreateAuthorization(ctx context.Context, a *authorization.Authorization) error {
	m := toAuthorizationModel(a)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(address) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mandate/sqlite: create authorization: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return mandate.ErrDuplicateAuthorization
	}
	return nil
}

func (s *Store) GetAuthorization(ctx context.Context, address authority.Identity) (*authorization.Authorization, error) {
	m := new(authorizationModel)
	err := s.sdb.NewSelect(m).
		Where("address = ?", address.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, mandate.ErrNotFound
		}
		return nil, fmt.Errorf("mandate/sqlite: get authorization: %w", err)
	}
	return fromAuthorizationModel(m)
}

func (s *Store) ListAuthorizations(ctx context.Context, payer authority.Identity, opts authorization.ListOpts) ([]*authorization.Authorization, error) {
	var models []authorizationModel
	q := s.sdb.NewSelect(&models).Where("payer = ?", payer.String())

	if !opts.AssetType.IsZero() {
		q = q.Where("asset_type = ?", opts.AssetType.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, subscription_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("mandate/sqlite: list authorizations: %w", err)
	}

	result := make([]*authorization.Authorization, 0, len(models))
	for i := range models {
		a, err := fromAuthorizationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// UpdateSpent is a compare-and-swap on spent_amount.
func (s *Store) UpdateSpent(ctx context.Context, address authority.Identity, prev, next uint64) error {
	res, err := s.sdb.NewUpdate((*authorizationModel)(nil)).
		Set("spent_amount = ?", formatAmount(next)).
		Set("updated_at = ?", now()).
		Where("address = ?", address.String()).
		Where("spent_amount = ?", formatAmount(prev)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mandate/sqlite: update spent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: either the record is gone or spent moved underneath us.
	if _, err := s.GetAuthorization(ctx, address); err != nil {
		return err
	}
	return mandate.ErrConflict
}

func (s *Store) DeleteAuthorization(ctx context.Context, address authority.Identity) error {
	res, err := s.sdb.NewDelete((*authorizationModel)(nil)).
		Where("address = ?", address.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mandate/sqlite: delete authorization: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return mandate.ErrNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
