package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
)

// Positions is the append-only position record of each user.
type Positions struct {
	kv store.KV
}

// NewPositions creates a position store over kv.
func NewPositions(kv store.KV) *Positions {
	return &Positions{kv: kv}
}

// List returns the user's positions in entry order.
func (p *Positions) List(ctx context.Context, userID string) ([]domain.Position, error) {
	data, err := p.kv.Get(ctx, store.UserKey(store.NamespacePositions, userID))
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var out []domain.Position
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return out, nil
}

// Append records new positions after the existing ones.
func (p *Positions) Append(ctx context.Context, userID string, positions ...domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	existing, err := p.List(ctx, userID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(existing, positions...))
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	if err := p.kv.Set(ctx, store.UserKey(store.NamespacePositions, userID), data); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

// TotalUSD sums the amount of every position.
func TotalUSD(positions []domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.AmountUSD)
	}
	return total
}
