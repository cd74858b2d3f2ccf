package session

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLifecycle(t *testing.T) {
	s := New("u1")
	require.NoError(t, s.Validate())
	assert.Equal(t, domain.StageIdle, s.Stage)

	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	assert.Equal(t, domain.StageCollecting, s.Stage)
	assert.Equal(t, []slots.Name{slots.Amount, slots.Asset, slots.Chain, slots.Risk}, s.Missing())
	require.NoError(t, s.Validate())

	require.NoError(t, s.Propose("p1", t0))
	assert.True(t, s.Awaiting())
	assert.Equal(t, "p1", s.PendingPlanID)
	require.NoError(t, s.Validate())

	// Replacing the proposal keeps the session awaiting.
	require.NoError(t, s.Propose("p2", t0))
	assert.Equal(t, "p2", s.PendingPlanID)

	s.Reset(t0.Add(time.Minute))
	assert.Equal(t, domain.StageIdle, s.Stage)
	assert.Empty(t, s.PendingPlanID)
	assert.Nil(t, s.Slots)
	assert.Equal(t, t0.Add(time.Minute), s.UpdatedAt)
	require.NoError(t, s.Validate())
}

func TestBeginClearsPendingPlan(t *testing.T) {
	s := New("u1")
	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	require.NoError(t, s.Propose("p1", t0))

	require.NoError(t, s.Begin(domain.IntentShowPositions, t0))
	assert.Equal(t, domain.StageCollecting, s.Stage)
	assert.Empty(t, s.PendingPlanID)
	assert.Equal(t, domain.IntentShowPositions, s.Slots.Intent())
}

func TestIllegalTransitions(t *testing.T) {
	s := New("u1")
	assert.ErrorIs(t, s.Propose("p1", t0), ErrInvalidTransition, "idle cannot propose")
	assert.ErrorIs(t, s.Begin(domain.IntentNone, t0), ErrInvalidTransition)

	require.NoError(t, s.Begin(domain.IntentRebalance, t0))
	assert.ErrorIs(t, s.Propose("p1", t0), ErrInvalidTransition, "rebalance produces no plan")

	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	assert.ErrorIs(t, s.Propose("", t0), ErrInvalidTransition)
	assert.Equal(t, domain.StageCollecting, s.Stage)
}

func TestValidateInvariant(t *testing.T) {
	s := New("u1")
	s.PendingPlanID = "p1"
	assert.Error(t, s.Validate(), "idle with pending plan")

	s = New("u1")
	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	s.Stage = domain.StageAwaitingConfirmation
	assert.Error(t, s.Validate(), "awaiting without pending plan")

	s = New("u1")
	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	s.Slots = slots.New(domain.IntentSetAlert)
	assert.Error(t, s.Validate(), "slots of another intent")

	assert.Error(t, New("").Validate())
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewStore(store.NewMemory())

	got, err := st.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageIdle, got.Stage)
	assert.Equal(t, "u1", got.UserID)

	s := New("u1")
	require.NoError(t, s.Begin(domain.IntentDeploy, t0))
	amount := decimal.NewFromInt(250000)
	asset := "USDC"
	slots.Merge(s.Slots, slots.Values{Amount: &amount, Asset: &asset})
	require.NoError(t, s.Propose("p1", t0))
	require.NoError(t, st.Put(ctx, s))

	got, err = st.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingConfirmation, got.Stage)
	assert.Equal(t, "p1", got.PendingPlanID)
	assert.True(t, got.UpdatedAt.Equal(t0))
	ds, ok := got.Slots.(*slots.DeploySlots)
	require.True(t, ok)
	assert.True(t, ds.Amount.Equal(amount))
	assert.Equal(t, "USDC", *ds.Asset)
	assert.Equal(t, []slots.Name{slots.Chain, slots.Risk}, got.Missing())
}

func TestStoreRejectsInvalidSession(t *testing.T) {
	st := NewStore(store.NewMemory())
	s := New("u1")
	s.PendingPlanID = "p1"
	assert.Error(t, st.Put(context.Background(), s))
}
