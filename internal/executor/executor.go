// Package executor applies, cancels and adjusts proposed plans. Every
// operation for one user runs under that user's lock and inside one store
// transaction; events are emitted only after the transaction commits.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Builder produces plans. *plan.Builder implements it.
type Builder interface {
	Build(ctx context.Context, userID string, req slots.DeployRequest) (*domain.Plan, error)
	Rebuild(ctx context.Context, p *domain.Plan, capital decimal.Decimal) (*domain.Plan, error)
}

// Config configures an Executor. Zero values take the defaults.
type Config struct {
	// Seed is the starting balance sheet of new ledger accounts.
	Seed ledger.Balances
	// Sink receives lifecycle events. Defaults to discarding them.
	Sink events.Sink
	// Now is the clock. Defaults to time.Now in UTC.
	Now func() time.Time
	// NewID generates position and alert ids. Defaults to random UUIDs.
	NewID  func() string
	Logger *slog.Logger
}

// Executor runs per-user units of work against a store.
type Executor struct {
	store   store.Store
	builder Builder
	seed    ledger.Balances
	sink    events.Sink
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// New creates an Executor.
func New(st store.Store, builder Builder, cfg Config) *Executor {
	e := &Executor{
		store:   st,
		builder: builder,
		seed:    cfg.Seed,
		sink:    cfg.Sink,
		now:     cfg.Now,
		newID:   cfg.NewID,
		logger:  cfg.Logger,
	}
	if e.sink == nil {
		e.sink = events.Discard{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Do runs fn as one unit of work for userID: under the user's lock, inside
// a store transaction. If fn returns an error every write it made is
// discarded and no event is emitted. fn may run more than once when the
// store retries a conflicting transaction.
func (e *Executor) Do(ctx context.Context, userID string, fn func(tx *Tx) error) error {
	unlock := e.store.Lock(userID)
	defer unlock()

	var emitted []events.Event
	err := e.store.Update(ctx, func(kv store.KV) error {
		tx := e.newTx(kv, userID)
		if err := fn(tx); err != nil {
			return err
		}
		emitted = tx.events
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range emitted {
		e.sink.Emit(ctx, ev)
	}
	return nil
}

// Apply executes the user's pending plan. planID may be empty to mean the
// plan the session is waiting on.
func (e *Executor) Apply(ctx context.Context, userID, planID string) (*domain.Plan, []domain.Position, error) {
	var (
		p         *domain.Plan
		positions []domain.Position
	)
	err := e.Do(ctx, userID, func(tx *Tx) error {
		var err error
		p, positions, err = tx.Apply(ctx, planID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return p, positions, nil
}

// Cancel declines the user's pending plan.
func (e *Executor) Cancel(ctx context.Context, userID string) (*domain.Plan, error) {
	var p *domain.Plan
	err := e.Do(ctx, userID, func(tx *Tx) error {
		var err error
		p, err = tx.Cancel(ctx, events.ReasonUser)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Adjust replaces the user's pending plan with one for a new amount.
func (e *Executor) Adjust(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Plan, error) {
	var p *domain.Plan
	err := e.Do(ctx, userID, func(tx *Tx) error {
		var err error
		p, err = tx.Adjust(ctx, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Credit adds funds to the user's ledger.
func (e *Executor) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal) (ledger.Balances, error) {
	var balances ledger.Balances
	err := e.Do(ctx, userID, func(tx *Tx) error {
		if err := tx.Ledger().Credit(ctx, userID, asset, amount); err != nil {
			return err
		}
		acct, err := tx.Ledger().Account(ctx, userID)
		if err != nil {
			return err
		}
		balances = acct.Balances
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}
