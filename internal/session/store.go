package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/capdeploy/internal/store"
)

// Store persists sessions through a store.KV, which may be a transaction.
type Store struct {
	kv store.KV
}

// NewStore creates a session store over kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Get returns the user's session, or a new idle one if none was saved.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	data, err := s.kv.Get(ctx, store.UserKey(store.NamespaceSession, userID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if data == nil {
		return New(userID), nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Put validates and saves sess.
func (s *Store) Put(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, store.UserKey(store.NamespaceSession, sess.UserID), data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
