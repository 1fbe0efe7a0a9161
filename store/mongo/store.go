package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	mandatestore "github.com/xraph/mandate/store"
)

// Collection name constants.
const (
	colAuthorizations = "mandate_authorizations"
)

// compile-time interface check
var _ mandatestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all mandate collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mandate/mongo: %s indexes: %w", mandate.ErrMigrationFailed, col, err)
		}
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

func (s *Store) CreateAuthorization(ctx context.Context, a *authorization.Authorization) error {
	m := toAuthorizationModel(a)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return mandate.ErrDuplicateAuthorization
		}
		return fmt.Errorf("mandate/mongo: create authorization: %w", err)
	}
	return nil
}

func (s *Store) GetAuthorization(ctx context.Context, address authority.Identity) (*authorization.Authorization, error) {
	var m authorizationModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": address.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, mandate.ErrNotFound
		}
		return nil, fmt.Errorf("mandate/mongo: get authorization: %w", err)
	}
	return fromAuthorizationModel(&m)
}

func (s *Store) ListAuthorizations(ctx context.Context, payer authority.Identity, opts authorization.ListOpts) ([]*authorization.Authorization, error) {
	var models []authorizationModel

	filter := bson.M{"payer": payer.String()}
	if !opts.AssetType.IsZero() {
		filter["asset_type"] = opts.AssetType.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "subscription_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("mandate/mongo: list authorizations: %w", err)
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
	res, err := s.mdb.NewUpdate((*authorizationModel)(nil)).
		Filter(bson.M{
			"_id":          address.String(),
			"spent_amount": strconv.FormatUint(prev, 10),
		}).
		Set("spent_amount", strconv.FormatUint(next, 10)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mandate/mongo: update spent: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}

	if _, err := s.GetAuthorization(ctx, address); err != nil {
		return err
	}
	return mandate.ErrConflict
}

func (s *Store) DeleteAuthorization(ctx context.Context, address authority.Identity) error {
	res, err := s.mdb.NewDelete((*authorizationModel)(nil)).
		Filter(bson.M{"_id": address.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mandate/mongo: delete authorization: %w", err)
	}
	if res.DeletedCount() == 0 {
		return mandate.ErrNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all mandate collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAuthorizations: {
			{
				Keys:    bson.D{{Key: "payer", Value: 1}, {Key: "subscription_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "payer", Value: 1}, {Key: "asset_type", Value: 1}}},
			{Keys: bson.D{{Key: "payer", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
