package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Authorization storage, keyed by derived address
	authorizations map[authority.Identity]*authorization.Authorization
}

func New() *Store {
	return &Store{
		authorizations: make(map[authority.Identity]*authorization.Authorization),
	}
}

// Authorization Store implementation
func (s *Store) CreateAuthorization(_ context.Context, a *authorization.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mandate.ErrStoreClosed
	}
	if _, exists := s.authorizations[a.Address]; exists {
		return mandate.ErrDuplicateAuthorization
	}
	s.authorizations[a.Address] = a.Clone()
	return nil
}

func (s *Store) GetAuthorization(_ context.Context, address authority.Identity) (*authorization.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mandate.ErrStoreClosed
	}
	if a, ok := s.authorizations[address]; ok {
		return a.Clone(), nil
	}
	return nil, mandate.ErrNotFound
}

func (s *Store) ListAuthorizations(_ context.Context, payer authority.Identity, opts authorization.ListOpts) ([]*authorization.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mandate.ErrStoreClosed
	}

	result := make([]*authorization.Authorization, 0)
	for _, a := range s.authorizations {
		if a.Payer != payer {
			continue
		}
		if !opts.AssetType.IsZero() && a.AssetType != opts.AssetType {
			continue
		}
		result = append(result, a.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].SubscriptionID < result[j].SubscriptionID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) UpdateSpent(_ context.Context, address authority.Identity, prev, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mandate.ErrStoreClosed
	}
	a, ok := s.authorizations[address]
	if !ok {
		return mandate.ErrNotFound
	}
	if a.SpentAmount != prev {
		return mandate.ErrConflict
	}
	a.SpentAmount = next
	a.Touch(time.Now())
	return nil
}

func (s *Store) DeleteAuthorization(_ context.Context, address authority.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mandate.ErrStoreClosed
	}
	if _, ok := s.authorizations[address]; !ok {
		return mandate.ErrNotFound
	}
	delete(s.authorizations, address)
	return nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return mandate.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
