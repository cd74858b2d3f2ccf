package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func solanaCatalog() *Catalog {
	return NewCatalog([]Candidate{
		{Protocol: "Kamino", Chain: "solana", Asset: "USDC", APY: d("8.9"), TVL: d("1850000000"), Risk: domain.RiskLow},
		{Protocol: "marginfi", Chain: "solana", Asset: "USDC", APY: d("9.6"), TVL: d("420000000"), Risk: domain.RiskMedium},
		{Protocol: "Save", Chain: "solana", Asset: "USDC", APY: d("7.4"), TVL: d("310000000"), Risk: domain.RiskLow},
		{Protocol: "Drift", Chain: "solana", Asset: "USDC", APY: d("14.2"), TVL: d("95000000"), Risk: domain.RiskHigh},
		{Protocol: "Jupiter", Chain: "solana", Asset: "USDC", APY: d("10.1"), TVL: d("260000000"), Risk: domain.RiskMedium},
		{Protocol: "Aave", Chain: "ethereum", Asset: "USDC", APY: d("5.2"), TVL: d("12000000000"), Risk: domain.RiskLow},
	})
}

func fixedBuilder(r Ranker, max int) *Builder {
	n := 0
	return NewBuilder(r, BuilderConfig{
		MaxAllocations: max,
		NewID: func() string {
			n++
			return fmt.Sprintf("plan-%d", n)
		},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
}

func protocols(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Protocol
	}
	return out
}

func TestCatalogRankFiltersAndOrders(t *testing.T) {
	c := solanaCatalog()
	ctx := context.Background()

	got, err := c.Rank(ctx, Query{Asset: "usdc", Chain: "solana", Risk: domain.RiskMedium})
	require.NoError(t, err)
	assert.Equal(t, []string{"Jupiter", "marginfi", "Kamino", "Save"}, protocols(got))

	got, err = c.Rank(ctx, Query{Asset: "USDC", Chain: "solana", Risk: domain.RiskLow})
	require.NoError(t, err)
	assert.Equal(t, []string{"Kamino", "Save"}, protocols(got), "low risk ranks by TVL")

	got, err = c.Rank(ctx, Query{Asset: "USDC", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Drift", "Jupiter"}, protocols(got))

	got, err = c.Rank(ctx, Query{Asset: "DAI", Chain: "solana"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCatalogRankWildcardAndTies(t *testing.T) {
	c := NewCatalog([]Candidate{
		{Protocol: "b", APY: d("5"), Risk: domain.RiskLow},
		{Protocol: "a", APY: d("5"), Risk: domain.RiskLow},
		{Protocol: "c", Chain: "base", Asset: "USDC", APY: d("4"), Risk: domain.RiskLow},
	})
	got, err := c.Rank(context.Background(), Query{Asset: "USDC", Chain: "solana", Risk: domain.RiskHigh})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, protocols(got))
}

func TestCatalogRankHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := solanaCatalog().Rank(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCatalog(t *testing.T) {
	cands, err := ParseCatalog([]byte(`
protocols:
  - protocol: Kamino
    chain: Solana
    asset: usdc
    apy: 8.5
    tvl: 1000
    risk: conservative
`))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "solana", cands[0].Chain)
	assert.Equal(t, "USDC", cands[0].Asset)
	assert.Equal(t, domain.RiskLow, cands[0].Risk)
	assert.True(t, cands[0].APY.Equal(d("8.5")))

	_, err = ParseCatalog([]byte("   "))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("protocols:\n  - protocol: x\n    risk: wild\n"))
	assert.ErrorContains(t, err, "invalid risk")
	_, err = ParseCatalog([]byte("protocols:\n  - chain: solana\n    risk: low\n"))
	assert.ErrorContains(t, err, "protocol is required")
}

func TestShippedCatalogLoads(t *testing.T) {
	c, err := LoadCatalogFile(filepath.Join("..", "..", "configs", "catalog.yaml"))
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 5)
}

func TestCatalogWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	one := "protocols:\n  - protocol: A\n    risk: low\n"
	two := one + "  - protocol: B\n    risk: low\n"
	require.NoError(t, os.WriteFile(path, []byte(one), 0o644))

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx, path, nil))

	require.NoError(t, os.WriteFile(path, []byte(two), 0o644))
	require.Eventually(t, func() bool { return c.Len() == 2 }, 5*time.Second, 20*time.Millisecond)

	// A broken file keeps the last good catalog.
	require.NoError(t, os.WriteFile(path, []byte("protocols: [[["), 0o644))
	time.Sleep(3 * catalogDebounce)
	assert.Equal(t, 2, c.Len())
}

type stubRanker struct {
	cands []Candidate
	err   error
	delay time.Duration
}

func (s *stubRanker) Rank(_ context.Context, _ Query) ([]Candidate, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.cands, s.err
}

func TestFallbackRanker(t *testing.T) {
	fallback := solanaCatalog()
	q := Query{Asset: "USDC", Chain: "solana", Risk: domain.RiskLow}

	t.Run("primary answers", func(t *testing.T) {
		primary := &stubRanker{cands: []Candidate{{Protocol: "live"}}}
		got, err := NewFallbackRanker(primary, fallback, time.Second, nil).Rank(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, []string{"live"}, protocols(got))
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &stubRanker{err: errors.New("upstream 503")}
		got, err := NewFallbackRanker(primary, fallback, time.Second, nil).Rank(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, []string{"Kamino", "Save"}, protocols(got))
	})

	t.Run("primary empty", func(t *testing.T) {
		got, err := NewFallbackRanker(&stubRanker{}, fallback, time.Second, nil).Rank(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = fixedBuilder(NewFallbackRanker(&stubRanker{}, fallback, time.Second, nil), 3).Build(context.Background(), "u",
			slots.DeployRequest{CapitalUSD: d("1000"), Asset: "USDC", Chain: "solana", Risk: domain.RiskLow})
		assert.ErrorIs(t, err, domain.ErrNoCandidates)
	})

	t.Run("primary too slow", func(t *testing.T) {
		primary := &stubRanker{cands: []Candidate{{Protocol: "late"}}, delay: 500 * time.Millisecond}
		start := time.Now()
		got, err := NewFallbackRanker(primary, fallback, 20*time.Millisecond, nil).Rank(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, []string{"Kamino", "Save"}, protocols(got))
		assert.Less(t, time.Since(start), 400*time.Millisecond)
	})

	t.Run("caller canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFallbackRanker(&stubRanker{err: errors.New("x")}, fallback, 0, nil).Rank(ctx, q)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWeights(t *testing.T) {
	w := Weights(DefaultWeights, 3)
	assert.True(t, w[0].Equal(d("0.5")))
	assert.True(t, w[1].Equal(d("0.3")))
	assert.True(t, w[2].Equal(d("0.2")))

	w = Weights(DefaultWeights, 2)
	assert.True(t, w[0].Equal(d("0.625")))
	assert.True(t, w[1].Equal(d("0.375")))

	w = Weights(DefaultWeights, 4)
	require.Len(t, w, 4)
	for _, x := range w {
		assert.True(t, x.Equal(d("0.25")))
	}

	assert.Nil(t, Weights(DefaultWeights, 0))
}

func TestSplitSumsExactly(t *testing.T) {
	tests := []struct {
		capital string
		n       int
	}{
		{"250000", 3},
		{"100", 3},
		{"1", 3},
		{"2", 3},
		{"1000.75", 3},
		{"999999", 5},
		{"10", 1},
		{"7", 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.capital, tt.n), func(t *testing.T) {
			capital := d(tt.capital)
			amounts := Split(capital, Weights(DefaultWeights, tt.n))
			require.Len(t, amounts, tt.n)
			total := decimal.Zero
			for _, a := range amounts {
				assert.False(t, a.IsNegative(), "negative amount %s", a)
				total = total.Add(a)
			}
			assert.True(t, total.Equal(capital), "sum %s != %s", total, capital)
		})
	}
}

func TestBuildSolanaExample(t *testing.T) {
	b := fixedBuilder(solanaCatalog(), 0)
	p, err := b.Build(context.Background(), "u1", slots.DeployRequest{
		CapitalUSD: d("250000"),
		Asset:      "USDC",
		Chain:      "solana",
		Risk:       domain.RiskMedium,
	})
	require.NoError(t, err)

	assert.Equal(t, "plan-1", p.ID)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, domain.PlanPending, p.Status)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), p.CreatedAt)
	require.Len(t, p.Allocations, 3)

	want := []struct {
		protocol string
		amount   string
	}{{"Jupiter", "125000"}, {"marginfi", "75000"}, {"Kamino", "50000"}}
	for i, w := range want {
		a := p.Allocations[i]
		assert.Equal(t, w.protocol, a.Protocol)
		assert.True(t, a.AmountUSD.Equal(d(w.amount)), "%s got %s", w.protocol, a.AmountUSD)
		assert.Equal(t, "USDC", a.Asset)
		assert.Equal(t, "solana", a.Chain)
	}
	assert.True(t, p.TotalAllocated().Equal(d("250000")))
	require.NoError(t, p.Validate())
}

func TestBuildIsDeterministic(t *testing.T) {
	req := slots.DeployRequest{CapitalUSD: d("12345"), Asset: "USDC", Chain: "solana", Risk: domain.RiskHigh}
	p1, err := fixedBuilder(solanaCatalog(), 5).Build(context.Background(), "u", req)
	require.NoError(t, err)
	p2, err := fixedBuilder(solanaCatalog(), 5).Build(context.Background(), "u", req)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1.Allocations, 5)
}

func TestBuildDefaultsFromRequest(t *testing.T) {
	r := NewCatalog([]Candidate{{Protocol: "Anywhere", APY: d("3")}})
	p, err := fixedBuilder(r, 3).Build(context.Background(), "u", slots.DeployRequest{
		CapitalUSD: d("100"), Asset: "DAI", Chain: "base", Risk: domain.RiskLow,
	})
	require.NoError(t, err)
	require.Len(t, p.Allocations, 1)
	a := p.Allocations[0]
	assert.Equal(t, "DAI", a.Asset)
	assert.Equal(t, "base", a.Chain)
	assert.Equal(t, domain.RiskLow, a.RiskLabel)
	assert.True(t, a.AmountUSD.Equal(d("100")))
}

func TestBuildErrors(t *testing.T) {
	b := fixedBuilder(solanaCatalog(), 3)

	_, err := b.Build(context.Background(), "u", slots.DeployRequest{CapitalUSD: d("100"), Asset: "DAI", Chain: "solana", Risk: domain.RiskLow})
	assert.ErrorIs(t, err, domain.ErrNoCandidates)

	_, err = b.Build(context.Background(), "u", slots.DeployRequest{CapitalUSD: d("0"), Asset: "USDC", Chain: "solana", Risk: domain.RiskLow})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	boom := errors.New("boom")
	_, err = fixedBuilder(&stubRanker{err: boom}, 3).Build(context.Background(), "u", slots.DeployRequest{CapitalUSD: d("1"), Asset: "USDC", Chain: "solana", Risk: domain.RiskLow})
	assert.ErrorIs(t, err, boom)
}

func TestBuilderCapsAllocations(t *testing.T) {
	b := NewBuilder(solanaCatalog(), BuilderConfig{MaxAllocations: 50})
	assert.Equal(t, MaxAllocationsLimit, b.max)
}

func TestRebuildKeepsParametersWithNewID(t *testing.T) {
	b := fixedBuilder(solanaCatalog(), 3)
	p, err := b.Build(context.Background(), "u", slots.DeployRequest{CapitalUSD: d("250000"), Asset: "USDC", Chain: "solana", Risk: domain.RiskMedium, AutoRebalance: true})
	require.NoError(t, err)

	q, err := b.Rebuild(context.Background(), p, d("300000"))
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, q.ID)
	assert.True(t, q.CapitalUSD.Equal(d("300000")))
	assert.True(t, q.TotalAllocated().Equal(d("300000")))
	assert.Equal(t, p.Chain, q.Chain)
	assert.True(t, q.AutoRebalance)
}

func TestStoreGetSave(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	_, err := s.Get(ctx, "u")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	p, err := fixedBuilder(solanaCatalog(), 3).Build(ctx, "u", slots.DeployRequest{CapitalUSD: d("1000"), Asset: "USDC", Chain: "solana", Risk: domain.RiskLow})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.CapitalUSD.Equal(p.CapitalUSD))
	require.Len(t, got.Allocations, len(p.Allocations))

	bad := *p
	bad.Allocations = nil
	assert.Error(t, s.Save(ctx, &bad))
}
