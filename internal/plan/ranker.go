// Package plan builds deployment plans from ranked protocol candidates and
// keeps each user's proposed plan.
package plan

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/shopspring/decimal"
)

// Candidate is a protocol that can receive an allocation. Empty Chain or
// Asset means the candidate accepts any.
type Candidate struct {
	Protocol string          `json:"protocol"`
	Chain    string          `json:"chain,omitempty"`
	Asset    string          `json:"asset,omitempty"`
	APY      decimal.Decimal `json:"apy"`
	TVL      decimal.Decimal `json:"tvl"`
	Risk     domain.Risk     `json:"risk"`
}

// Query selects candidates for a deployment.
type Query struct {
	Asset string
	Chain string
	// Risk is the tolerance; candidates labelled above it are excluded.
	// Empty means any.
	Risk domain.Risk
	// Limit caps the result; zero means no cap.
	Limit int
}

// Ranker returns candidates best first. Implementations may call out to
// market data and must honour ctx.
type Ranker interface {
	Rank(ctx context.Context, q Query) ([]Candidate, error)
}

// rank filters and orders cands for q without modifying cands.
// Low risk prefers depth (TVL), medium and high prefer yield (APY).
// Ties are broken by protocol name so results are stable.
func rank(cands []Candidate, q Query) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Asset != "" && q.Asset != "" && !strings.EqualFold(c.Asset, q.Asset) {
			continue
		}
		if c.Chain != "" && q.Chain != "" && !strings.EqualFold(c.Chain, q.Chain) {
			continue
		}
		if q.Risk.IsValid() && c.Risk.Level() > q.Risk.Level() {
			continue
		}
		out = append(out, c)
	}

	byTVL := q.Risk == domain.RiskLow
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		primaryA, primaryB := a.APY, b.APY
		if byTVL {
			primaryA, primaryB = a.TVL, b.TVL
		}
		if !primaryA.Equal(primaryB) {
			return primaryA.GreaterThan(primaryB)
		}
		return a.Protocol < b.Protocol
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// FallbackRanker asks a primary ranker first and answers from a fallback
// when the primary fails or times out. An empty answer from a healthy
// primary is passed through.
type FallbackRanker struct {
	primary  Ranker
	fallback Ranker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFallbackRanker creates a FallbackRanker. A zero timeout waits for the
// primary as long as ctx allows.
func NewFallbackRanker(primary, fallback Ranker, timeout time.Duration, logger *slog.Logger) *FallbackRanker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRanker{primary: primary, fallback: fallback, timeout: timeout, logger: logger}
}

type rankResult struct {
	candidates []Candidate
	err        error
}

// Rank implements Ranker.
func (f *FallbackRanker) Rank(ctx context.Context, q Query) ([]Candidate, error) {
	pctx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	done := make(chan rankResult, 1)
	go func() {
		c, err := f.primary.Rank(pctx, q)
		done <- rankResult{candidates: c, err: err}
	}()

	var res rankResult
	select {
	case res = <-done:
	case <-pctx.Done():
		res.err = pctx.Err()
	}

	if res.err == nil {
		return res.candidates, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.logger.Warn("Primary ranker unavailable, using fallback",
		"asset", q.Asset,
		"chain", q.Chain,
		"error", res.err)
	return f.fallback.Rank(ctx, q)
}
