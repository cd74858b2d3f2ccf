package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/store"
)

// Store keeps the current proposed plan of each user. Saving a plan
// replaces the previous one; applied and canceled plans stay readable until
// the next proposal so a replayed confirmation can be told apart from a
// missing plan.
type Store struct {
	kv store.KV
}

// NewStore creates a plan store over kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Get returns the user's current plan, or an error wrapping
// domain.ErrPlanNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*domain.Plan, error) {
	data, err := s.kv.Get(ctx, store.UserKey(store.NamespacePlan, userID))
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w for user %s", domain.ErrPlanNotFound, userID)
	}
	var p domain.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// Save validates p and stores it as the user's current plan.
func (s *Store) Save(ctx context.Context, p *domain.Plan) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := s.kv.Set(ctx, store.UserKey(store.NamespacePlan, p.UserID), data); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}
