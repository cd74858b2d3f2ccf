package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxAllocations is the number of protocols a plan spreads over.
	DefaultMaxAllocations = 3
	// MaxAllocationsLimit caps MaxAllocations.
	MaxAllocationsLimit = 5
)

// DefaultWeights is the descending weight schedule 50/30/20.
var DefaultWeights = []decimal.Decimal{
	decimal.NewFromInt(50),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
}

// BuilderConfig configures a Builder. Zero values take the defaults.
type BuilderConfig struct {
	MaxAllocations int
	Weights        []decimal.Decimal
	// NewID generates plan ids. Defaults to random UUIDs.
	NewID func() string
	// Now is the plan clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Builder turns a complete deploy request into a pending plan.
type Builder struct {
	ranker  Ranker
	max     int
	weights []decimal.Decimal
	newID   func() string
	now     func() time.Time
}

// NewBuilder creates a Builder drawing candidates from ranker.
func NewBuilder(ranker Ranker, cfg BuilderConfig) *Builder {
	b := &Builder{
		ranker:  ranker,
		max:     cfg.MaxAllocations,
		weights: cfg.Weights,
		newID:   cfg.NewID,
		now:     cfg.Now,
	}
	if b.max <= 0 {
		b.max = DefaultMaxAllocations
	}
	if b.max > MaxAllocationsLimit {
		b.max = MaxAllocationsLimit
	}
	if len(b.weights) == 0 {
		b.weights = DefaultWeights
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	return b
}

// Build ranks candidates for req and splits the capital over the top ones.
// The returned plan is pending and has a fresh id.
func (b *Builder) Build(ctx context.Context, userID string, req slots.DeployRequest) (*domain.Plan, error) {
	if !req.CapitalUSD.IsPositive() {
		return nil, fmt.Errorf("%w: capital %s", domain.ErrInvalidAmount, req.CapitalUSD)
	}

	cands, err := b.ranker.Rank(ctx, Query{Asset: req.Asset, Chain: req.Chain, Risk: req.Risk})
	if err != nil {
		return nil, fmt.Errorf("rank candidates: %w", err)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w for %s on %s at %s risk", domain.ErrNoCandidates, req.Asset, req.Chain, req.Risk)
	}
	if len(cands) > b.max {
		cands = cands[:b.max]
	}

	amounts := Split(req.CapitalUSD, Weights(b.weights, len(cands)))
	allocations := make([]domain.Allocation, 0, len(cands))
	for i, c := range cands {
		if amounts[i].IsZero() {
			continue
		}
		allocations = append(allocations, domain.Allocation{
			Protocol:  c.Protocol,
			Chain:     orDefault(c.Chain, req.Chain),
			Asset:     orDefault(c.Asset, req.Asset),
			APY:       c.APY,
			TVL:       c.TVL,
			RiskLabel: riskOrDefault(c.Risk, req.Risk),
			AmountUSD: amounts[i],
		})
	}

	now := b.now()
	p := &domain.Plan{
		ID:            b.newID(),
		UserID:        userID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        domain.PlanPending,
		CapitalUSD:    req.CapitalUSD,
		Asset:         req.Asset,
		Chain:         req.Chain,
		Risk:          req.Risk,
		AutoRebalance: req.AutoRebalance,
		Allocations:   allocations,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	return p, nil
}

// Rebuild builds a replacement for p with a new capital amount, keeping its
// asset, chain, risk and rebalancing choice.
func (b *Builder) Rebuild(ctx context.Context, p *domain.Plan, capital decimal.Decimal) (*domain.Plan, error) {
	return b.Build(ctx, p.UserID, slots.DeployRequest{
		CapitalUSD:    capital,
		Asset:         p.Asset,
		Chain:         p.Chain,
		Risk:          p.Risk,
		AutoRebalance: p.AutoRebalance,
	})
}

// Weights returns n weights summing to one: the first n entries of
// schedule normalised, or an equal split when schedule is shorter than n.
func Weights(schedule []decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	out := make([]decimal.Decimal, n)
	if len(schedule) < n {
		for i := range out {
			out[i] = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
		}
		return out
	}
	total := decimal.Zero
	for _, w := range schedule[:n] {
		total = total.Add(w)
	}
	for i, w := range schedule[:n] {
		out[i] = w.Div(total)
	}
	return out
}

// Split divides capital by weights into whole-unit amounts. The last amount
// takes the remainder, so the amounts always sum to capital exactly.
func Split(capital decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	remaining := capital
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = remaining
			break
		}
		amount := capital.Mul(w).Round(0)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		out[i] = amount
		remaining = remaining.Sub(amount)
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func riskOrDefault(r, def domain.Risk) domain.Risk {
	if !r.IsValid() {
		return def
	}
	return r
}
