package dialogue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/executor"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/ashureev/capdeploy/internal/session"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// spyBuilder counts Build calls to observe slot gating.
type spyBuilder struct {
	*plan.Builder
	builds int
}

func (s *spyBuilder) Build(ctx context.Context, userID string, req slots.DeployRequest) (*domain.Plan, error) {
	s.builds++
	return s.Builder.Build(ctx, userID, req)
}

type failingRanker struct{ err error }

func (f failingRanker) Rank(context.Context, plan.Query) ([]plan.Candidate, error) {
	return nil, f.err
}

type fixture struct {
	c       *Controller
	ex      *executor.Executor
	st      *store.Memory
	builder *spyBuilder
	rec     *events.Recorder
	seed    ledger.Balances
}

func testCatalog() *plan.Catalog {
	return plan.NewCatalog([]plan.Candidate{
		{Protocol: "Kamino", Chain: "solana", Asset: "USDC", APY: d("8.9"), TVL: d("1850000000"), Risk: domain.RiskLow},
		{Protocol: "marginfi", Chain: "solana", Asset: "USDC", APY: d("9.6"), TVL: d("420000000"), Risk: domain.RiskMedium},
		{Protocol: "Jupiter", Chain: "solana", Asset: "USDC", APY: d("10.1"), TVL: d("260000000"), Risk: domain.RiskMedium},
		{Protocol: "Drift", Chain: "solana", Asset: "USDC", APY: d("14.2"), TVL: d("95000000"), Risk: domain.RiskHigh},
	})
}

func newFixture(t *testing.T, seed string, ranker plan.Ranker) *fixture {
	t.Helper()
	balances, err := ledger.ParseBalances(seed)
	require.NoError(t, err)

	n := 0
	newID := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	now := func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }

	st := store.NewMemory()
	rec := &events.Recorder{}
	spy := &spyBuilder{Builder: plan.NewBuilder(ranker, plan.BuilderConfig{NewID: newID, Now: now})}
	ex := executor.New(st, spy, executor.Config{Seed: balances, Sink: rec, Now: now, NewID: newID})
	c := NewController(ex, slots.KeywordClassifier{}, slots.NewPatternExtractor(), ranker, nil)
	return &fixture{c: c, ex: ex, st: st, builder: spy, rec: rec, seed: balances}
}

func (f *fixture) say(t *testing.T, text string) Reply {
	t.Helper()
	r, err := f.c.Handle(context.Background(), "u1", text)
	require.NoError(t, err, "message %q", text)
	return r
}

func (f *fixture) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.NewStore(f.st).Get(context.Background(), "u1")
	require.NoError(t, err)
	return s
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := ledger.New(f.st, f.seed).Balance(context.Background(), "u1", "USDC")
	require.NoError(t, err)
	return b
}

func TestDeployEndToEnd(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())

	r := f.say(t, "deploy 250k USDC on Solana with medium risk")
	assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
	assert.Equal(t, domain.IntentDeploy, r.Intent)
	require.NotNil(t, r.Plan)
	require.Len(t, r.Plan.Allocations, 3)
	assert.True(t, r.Plan.TotalAllocated().Equal(d("250000")))
	assert.Equal(t, confirmQuestion, r.Question)
	assert.Contains(t, r.Text, "$250,000")
	assert.Contains(t, r.Text, "Jupiter")

	r = f.say(t, "yes")
	assert.Equal(t, domain.StageIdle, r.Stage)
	require.Len(t, r.Positions, 3)
	assert.Equal(t, domain.PlanApplied, r.Plan.Status)
	assert.True(t, f.balance(t).Equal(d("750000")))

	r = f.say(t, "show my positions")
	assert.Len(t, r.Positions, 3)
	assert.Contains(t, r.Text, "$250,000")
	assert.Equal(t, domain.StageIdle, r.Stage)

	assert.Equal(t, []events.Type{events.PlanProposed, events.PlanApplied}, f.rec.Types())
}

func TestNoPlanUntilSlotsComplete(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())

	steps := []struct {
		text     string
		question string
	}{
		{"I want to invest", slots.Question(domain.IntentDeploy, slots.Amount)},
		{"250k", slots.Question(domain.IntentDeploy, slots.Asset)},
		{"USDC", slots.Question(domain.IntentDeploy, slots.Chain)},
		{"solana", slots.Question(domain.IntentDeploy, slots.Risk)},
	}
	for _, s := range steps {
		r := f.say(t, s.text)
		assert.Equal(t, domain.StageCollecting, r.Stage, s.text)
		assert.Equal(t, s.question, r.Question, s.text)
		assert.Nil(t, r.Plan)
		assert.Zero(t, f.builder.builds, "builder called after %q", s.text)
	}

	r := f.say(t, "medium")
	assert.Equal(t, 1, f.builder.builds)
	assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
	require.NotNil(t, r.Plan)
	assert.Equal(t, "solana", r.Plan.Chain)
	assert.Equal(t, domain.RiskMedium, r.Plan.Risk)
}

func TestCancelClearsState(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	proposed := f.say(t, "deploy 250k USDC on Solana with medium risk").Plan

	r := f.say(t, "no")
	assert.Equal(t, domain.StageIdle, r.Stage)
	require.NotNil(t, r.Plan)
	assert.Equal(t, proposed.ID, r.Plan.ID)
	assert.Equal(t, domain.PlanCanceled, r.Plan.Status)

	sess := f.session(t)
	assert.Equal(t, domain.StageIdle, sess.Stage)
	assert.Empty(t, sess.PendingPlanID)
	assert.True(t, f.balance(t).Equal(d("1000000")))

	r = f.say(t, "yes")
	assert.Equal(t, "There is no plan waiting for confirmation.", r.Text)
	assert.Equal(t, domain.StageIdle, r.Stage)
}

func TestAdjustReplacesPlan(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	first := f.say(t, "deploy 250k USDC on Solana with medium risk").Plan

	r := f.say(t, "make it 300k instead")
	assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
	require.NotNil(t, r.Plan)
	assert.NotEqual(t, first.ID, r.Plan.ID)
	assert.True(t, r.Plan.CapitalUSD.Equal(d("300000")))
	assert.Equal(t, r.Plan.ID, f.session(t).PendingPlanID)

	// The first plan can no longer be confirmed.
	_, _, err := f.ex.Apply(context.Background(), "u1", first.ID)
	assert.ErrorIs(t, err, domain.ErrPlanIDMismatch)

	r = f.say(t, "confirm")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.True(t, f.balance(t).Equal(d("700000")))
}

func TestConfirmWordWithNewAmountAdjusts(t *testing.T) {
	for _, text := range []string{"ok but make it 300k", "go with 300k instead"} {
		t.Run(text, func(t *testing.T) {
			f := newFixture(t, "USDC=1000000", testCatalog())
			first := f.say(t, "deploy 250k USDC on Solana with medium risk").Plan

			r := f.say(t, text)
			assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
			require.NotNil(t, r.Plan)
			assert.NotEqual(t, first.ID, r.Plan.ID)
			assert.True(t, r.Plan.CapitalUSD.Equal(d("300000")))
			assert.True(t, f.balance(t).Equal(d("1000000")))
			assert.Equal(t, []events.Type{events.PlanProposed, events.PlanProposed}, f.rec.Types())
		})
	}
}

func TestNewIntentWhileAwaiting(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	f.say(t, "deploy 250k USDC on Solana with medium risk")

	r := f.say(t, "show my positions")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.Equal(t, domain.IntentShowPositions, r.Intent)
	assert.Empty(t, f.session(t).PendingPlanID)

	r = f.say(t, "yes")
	assert.Equal(t, "There is no plan waiting for confirmation.", r.Text)
	assert.True(t, f.balance(t).Equal(d("1000000")))
}

func TestNewDeployWhileAwaitingStartsOver(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	first := f.say(t, "deploy 250k USDC on Solana with medium risk").Plan

	r := f.say(t, "deploy 50k USDC")
	assert.Equal(t, domain.StageCollecting, r.Stage)
	assert.Equal(t, slots.Question(domain.IntentDeploy, slots.Chain), r.Question)

	r = f.say(t, "solana, low risk")
	require.NotNil(t, r.Plan)
	assert.NotEqual(t, first.ID, r.Plan.ID)
	assert.True(t, r.Plan.CapitalUSD.Equal(d("50000")))
}

func TestUnrecognisedReplyRepromptsWithoutChange(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	proposed := f.say(t, "deploy 250k USDC on Solana with medium risk").Plan

	r := f.say(t, "what is kamino?")
	assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
	require.NotNil(t, r.Plan)
	assert.Equal(t, proposed.ID, r.Plan.ID)
	assert.Equal(t, confirmQuestion, r.Question)
	assert.Equal(t, proposed.ID, f.session(t).PendingPlanID)
}

func TestInvalidSlotValuesAreReported(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())

	r := f.say(t, "deploy 0 USDC on solana with low risk")
	assert.Equal(t, domain.StageCollecting, r.Stage)
	require.Len(t, r.Invalid, 1)
	assert.Contains(t, r.Invalid[0], "amount")
	assert.Equal(t, slots.Question(domain.IntentDeploy, slots.Amount), r.Question)
	assert.Zero(t, f.builder.builds)
}

func TestInsufficientFundsKeepsPlanPending(t *testing.T) {
	f := newFixture(t, "USDC=1000", testCatalog())
	f.say(t, "deploy 250k USDC on Solana with medium risk")

	r := f.say(t, "yes")
	assert.Contains(t, r.Text, "Insufficient USDC balance")
	assert.Contains(t, r.Text, "$1,000 available")
	assert.Equal(t, domain.StageAwaitingConfirmation, r.Stage)
	assert.Equal(t, confirmQuestion, r.Question)

	_, err := f.ex.Credit(context.Background(), "u1", "USDC", d("249000"))
	require.NoError(t, err)

	r = f.say(t, "yes")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.True(t, f.balance(t).IsZero())
}

func TestUnknownErrorLeavesSessionUntouched(t *testing.T) {
	boom := errors.New("market data unavailable")
	f := newFixture(t, "USDC=1000000", failingRanker{err: boom})

	r, err := f.c.Handle(context.Background(), "u1", "deploy 250k USDC on Solana with medium risk")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, r.Text, "Something went wrong")
	assert.NotContains(t, r.Text, "market data")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.Equal(t, domain.StageIdle, f.session(t).Stage)
}

func TestNoCandidates(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	r := f.say(t, "deploy 1000 DAI on solana with low risk")
	assert.Contains(t, r.Text, "couldn't find any protocol")
	assert.Equal(t, domain.StageIdle, f.session(t).Stage)
}

func TestInformationalIntents(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())

	r := f.say(t, "show top 2 USDC yields on solana")
	assert.Equal(t, domain.StageIdle, r.Stage)
	require.Len(t, r.Candidates, 2)
	assert.Equal(t, "Drift", r.Candidates[0].Protocol)
	assert.Contains(t, r.Text, "Top yield sources for USDC on solana")

	r = f.say(t, "alert me if ETH moves 5%")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.Contains(t, r.Text, "ETH")

	r = f.say(t, "rebalance")
	assert.Equal(t, domain.StageCollecting, r.Stage)
	assert.Equal(t, slots.Question(domain.IntentRebalance, slots.Percentage), r.Question)
	r = f.say(t, "10")
	assert.Equal(t, domain.StageIdle, r.Stage)
	assert.Contains(t, r.Text, "10% drift")

	r = f.say(t, "deploy 1000 USDC on solana with low risk")
	require.NotNil(t, r.Plan)
	assert.True(t, r.Plan.AutoRebalance, "rebalancing preference applies to new plans")

	f.say(t, "yes")
	r = f.say(t, "reset my balances")
	assert.True(t, r.Balances["USDC"].Equal(d("1000000")))
	assert.True(t, f.balance(t).Equal(d("1000000")))

	r = f.say(t, "show positions")
	assert.Len(t, r.Positions, 1, "reset keeps positions")
}

func TestHelpForUnknownMessage(t *testing.T) {
	f := newFixture(t, "USDC=1000000", testCatalog())
	r := f.say(t, "hello")
	assert.Equal(t, helpText, r.Text)
	assert.Equal(t, domain.StageIdle, r.Stage)
}

func TestUSDFormatting(t *testing.T) {
	assert.Equal(t, "$250,000", usd(d("250000")))
	assert.Equal(t, "$1,234.50", usd(d("1234.5")))
	assert.Equal(t, "$999", usd(d("999")))
	assert.Equal(t, "$1,000,000", usd(d("1000000")))
	assert.Equal(t, "-$5", usd(d("-5")))
}
