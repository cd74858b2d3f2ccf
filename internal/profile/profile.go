// Package profile stores per-user preferences and price alerts.
package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/store"
)

// Store reads and writes profile data through a store.KV.
type Store struct {
	kv store.KV
}

// NewStore creates a profile store over kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Preferences returns the user's preferences, zero-valued if never set.
func (s *Store) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	var p domain.Preferences
	data, err := s.kv.Get(ctx, store.UserKey(store.NamespacePrefs, userID))
	if err != nil {
		return p, fmt.Errorf("load preferences: %w", err)
	}
	if data == nil {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// SavePreferences replaces the user's preferences.
func (s *Store) SavePreferences(ctx context.Context, userID string, p domain.Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.kv.Set(ctx, store.UserKey(store.NamespacePrefs, userID), data); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Alerts returns the user's alerts in creation order.
func (s *Store) Alerts(ctx context.Context, userID string) ([]domain.Alert, error) {
	data, err := s.kv.Get(ctx, store.UserKey(store.NamespaceAlerts, userID))
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var out []domain.Alert
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return out, nil
}

// AddAlert appends a to the user's alerts.
func (s *Store) AddAlert(ctx context.Context, userID string, a domain.Alert) error {
	existing, err := s.Alerts(ctx, userID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(existing, a))
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := s.kv.Set(ctx, store.UserKey(store.NamespaceAlerts, userID), data); err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	return nil
}
