// Package memory implements the state store on an in-process expiring cache.
package memory

import (
	"context"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/statestore"
	"github.com/patrickmn/go-cache"
)

const (
	DefaultTTL     = time.Hour
	cleanupDivisor = 2
	cancelPrefix   = "cancel:"
)

type Store struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewStore keeps sessions for ttl after their last checkpoint.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{
		cache: cache.New(ttl, ttl/cleanupDivisor),
		ttl:   ttl,
	}
}

func (s *Store) Save(_ context.Context, state *models.WorkflowState) error {
	s.cache.Set(state.SessionID, state.Clone(), s.ttl)

	return nil
}

func (s *Store) Load(_ context.Context, sessionID string) (*models.WorkflowState, error) {
	value, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, statestore.ErrSessionNotFound
	}

	state, ok := value.(*models.WorkflowState)
	if !ok {
		return nil, statestore.ErrSessionNotFound
	}

	return state.Clone(), nil
}

func (s *Store) RequestCancel(_ context.Context, sessionID string) error {
	if _, ok := s.cache.Get(sessionID); !ok {
		return statestore.ErrSessionNotFound
	}

	s.cache.Set(cancelPrefix+sessionID, true, s.ttl)

	return nil
}

func (s *Store) CancelRequested(_ context.Context, sessionID string) (bool, error) {
	_, ok := s.cache.Get(cancelPrefix + sessionID)

	return ok, nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	s.cache.Delete(cancelPrefix + sessionID)

	return nil
}

func (s *Store) Close() error {
	s.cache.Flush()

	return nil
}
