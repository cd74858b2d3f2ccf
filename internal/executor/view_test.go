package executor

import (
	"context"
	"testing"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewNewUser(t *testing.T) {
	h := newHarness(t, store.NewMemory(), "USDC=1000")

	v, err := h.ex.View(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StageIdle, v.Session.Stage)
	assert.Nil(t, v.PendingPlan)
	assert.Empty(t, v.Positions)
	assert.True(t, v.Balances["USDC"].Equal(d("1000")))
	assert.Empty(t, v.Alerts)
	assert.False(t, v.Preferences.AutoRebalance)
}

func TestViewTracksLifecycle(t *testing.T) {
	h := newHarness(t, store.NewMemory(), "USDC=1000000")
	p := h.propose(t, "u1", "250000")

	v, err := h.ex.View(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingConfirmation, v.Session.Stage)
	require.NotNil(t, v.PendingPlan)
	assert.Equal(t, p.ID, v.PendingPlan.ID)

	_, _, err = h.ex.Apply(context.Background(), "u1", p.ID)
	require.NoError(t, err)

	v, err = h.ex.View(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, v.PendingPlan)
	assert.Len(t, v.Positions, 3)
	assert.True(t, v.Balances["USDC"].Equal(d("750000")))
	assert.Equal(t, []events.Type{events.PlanProposed, events.PlanApplied}, h.rec.Types(), "views emit nothing")
}
