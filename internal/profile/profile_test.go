package profile

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	p, err := s.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.AutoRebalance)

	want := domain.Preferences{AutoRebalance: true, DriftPercentage: decimal.NewFromInt(10), UpdatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, s.SavePreferences(ctx, "u1", want))

	p, err = s.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.AutoRebalance)
	assert.True(t, p.DriftPercentage.Equal(decimal.NewFromInt(10)))

	other, err := s.Preferences(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, other.AutoRebalance)
}

func TestAlertsAppend(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	require.NoError(t, s.AddAlert(ctx, "u1", domain.Alert{ID: "a1", Asset: "ETH", Percentage: decimal.NewFromInt(5)}))
	require.NoError(t, s.AddAlert(ctx, "u1", domain.Alert{ID: "a2", Asset: "SOL", Percentage: decimal.NewFromInt(8)}))

	alerts, err := s.Alerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a1", alerts[0].ID)
	assert.Equal(t, "SOL", alerts[1].Asset)

	none, err := s.Alerts(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
