package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/ashureev/capdeploy/internal/profile"
	"github.com/ashureev/capdeploy/internal/session"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
)

// Tx is one user's unit of work. All stores it hands out read and write
// through the same transaction.
type Tx struct {
	ex     *Executor
	userID string

	sessions  *session.Store
	plans     *plan.Store
	ledger    *ledger.Ledger
	positions *ledger.Positions
	profile   *profile.Store

	events []events.Event
}

func (e *Executor) newTx(kv store.KV, userID string) *Tx {
	return &Tx{
		ex:        e,
		userID:    userID,
		sessions:  session.NewStore(kv),
		plans:     plan.NewStore(kv),
		ledger:    ledger.New(kv, e.seed),
		positions: ledger.NewPositions(kv),
		profile:   profile.NewStore(kv),
	}
}

// UserID returns the user the unit of work belongs to.
func (tx *Tx) UserID() string { return tx.userID }

// Ledger returns the transactional ledger.
func (tx *Tx) Ledger() *ledger.Ledger { return tx.ledger }

// Positions returns the transactional position store.
func (tx *Tx) Positions() *ledger.Positions { return tx.positions }

// Profile returns the transactional preference and alert store.
func (tx *Tx) Profile() *profile.Store { return tx.profile }

// Now returns the executor clock.
func (tx *Tx) Now() time.Time { return tx.ex.now() }

// NewID returns a fresh id.
func (tx *Tx) NewID() string { return tx.ex.newID() }

// Session loads the user's session.
func (tx *Tx) Session(ctx context.Context) (*session.Session, error) {
	return tx.sessions.Get(ctx, tx.userID)
}

// SaveSession persists sess.
func (tx *Tx) SaveSession(ctx context.Context, sess *session.Session) error {
	return tx.sessions.Put(ctx, sess)
}

// Plan loads the user's current plan.
func (tx *Tx) Plan(ctx context.Context) (*domain.Plan, error) {
	return tx.plans.Get(ctx, tx.userID)
}

func (tx *Tx) emit(ev events.Event) {
	tx.events = append(tx.events, ev)
}

// Propose builds a plan for req, stores it as the user's pending plan and
// moves sess to awaiting confirmation. sess is saved.
func (tx *Tx) Propose(ctx context.Context, sess *session.Session, req slots.DeployRequest) (*domain.Plan, error) {
	p, err := tx.ex.builder.Build(ctx, tx.userID, req)
	if err != nil {
		return nil, err
	}
	if err := tx.plans.Save(ctx, p); err != nil {
		return nil, err
	}
	if err := sess.Propose(p.ID, tx.Now()); err != nil {
		return nil, err
	}
	if err := tx.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}
	tx.emit(events.Proposed(p))
	return p, nil
}

// Apply executes the pending plan: verify, debit, create positions, mark
// applied, reset the session. Any failure leaves all of it undone once the
// surrounding unit of work returns the error.
func (tx *Tx) Apply(ctx context.Context, planID string) (*domain.Plan, []domain.Position, error) {
	sess, err := tx.Session(ctx)
	if err != nil {
		return nil, nil, err
	}

	requested := planID
	if requested == "" {
		requested = sess.PendingPlanID
	}
	if requested == "" {
		return nil, nil, domain.ErrNoPendingPlan
	}

	p, err := tx.plans.Get(ctx, tx.userID)
	if err != nil {
		return nil, nil, err
	}
	if p.ID != requested {
		return nil, nil, fmt.Errorf("%w: requested %s, current %s", domain.ErrPlanIDMismatch, requested, p.ID)
	}
	if p.Status != domain.PlanPending {
		return nil, nil, fmt.Errorf("%w: plan %s is %s", domain.ErrPlanNotPending, p.ID, p.Status)
	}
	if sess.PendingPlanID == "" {
		return nil, nil, fmt.Errorf("%w: session is %s", domain.ErrNoPendingPlan, sess.Stage)
	}
	if sess.PendingPlanID != p.ID {
		return nil, nil, fmt.Errorf("%w: session waits on %s, not %s", domain.ErrPlanIDMismatch, sess.PendingPlanID, p.ID)
	}
	if !p.CapitalUSD.IsPositive() {
		return nil, nil, fmt.Errorf("%w: capital %s", domain.ErrInvalidAmount, p.CapitalUSD)
	}

	available, err := tx.ledger.Balance(ctx, tx.userID, p.Asset)
	if err != nil {
		return nil, nil, err
	}
	if available.LessThan(p.CapitalUSD) {
		return nil, nil, &domain.InsufficientFundsError{Asset: p.Asset, Available: available, Required: p.CapitalUSD}
	}
	if err := tx.ledger.Debit(ctx, tx.userID, p.Asset, p.CapitalUSD); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrDebitFailed, err)
	}

	now := tx.Now()
	positions := make([]domain.Position, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		positions = append(positions, domain.Position{
			ID:        tx.NewID(),
			PlanID:    p.ID,
			Protocol:  a.Protocol,
			Chain:     a.Chain,
			Asset:     a.Asset,
			AmountUSD: a.AmountUSD,
			BaseAPY:   a.APY,
			RiskLabel: a.RiskLabel,
			EntryTime: now,
		})
	}
	if err := tx.positions.Append(ctx, tx.userID, positions...); err != nil {
		return nil, nil, err
	}

	if err := p.Transition(domain.PlanApplied, now); err != nil {
		return nil, nil, err
	}
	if err := tx.plans.Save(ctx, p); err != nil {
		return nil, nil, err
	}

	sess.Reset(now)
	if err := tx.sessions.Put(ctx, sess); err != nil {
		return nil, nil, err
	}

	tx.emit(events.Applied(p, positions))
	return p, positions, nil
}

// Cancel declines the plan the session is waiting on and resets the
// session. The ledger and positions are not touched.
func (tx *Tx) Cancel(ctx context.Context, reason string) (*domain.Plan, error) {
	sess, err := tx.Session(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Awaiting() {
		return nil, domain.ErrNoPendingPlan
	}

	p, err := tx.plans.Get(ctx, tx.userID)
	if err != nil {
		return nil, err
	}
	if p.ID != sess.PendingPlanID {
		return nil, fmt.Errorf("%w: session waits on %s, not %s", domain.ErrPlanIDMismatch, sess.PendingPlanID, p.ID)
	}
	if p.Status != domain.PlanPending {
		return nil, fmt.Errorf("%w: plan %s is %s", domain.ErrPlanNotPending, p.ID, p.Status)
	}

	now := tx.Now()
	if err := p.Transition(domain.PlanCanceled, now); err != nil {
		return nil, err
	}
	if err := tx.plans.Save(ctx, p); err != nil {
		return nil, err
	}

	sess.Reset(now)
	if err := tx.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	tx.emit(events.Canceled(p, reason))
	return p, nil
}

// Adjust rebuilds the pending plan for a new capital amount. The
// replacement gets a new id and takes the old plan's place; the old id can
// no longer be confirmed.
func (tx *Tx) Adjust(ctx context.Context, amount decimal.Decimal) (*domain.Plan, error) {
	sess, err := tx.Session(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Awaiting() {
		return nil, domain.ErrNoPendingPlan
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}

	old, err := tx.plans.Get(ctx, tx.userID)
	if err != nil {
		return nil, err
	}
	if old.ID != sess.PendingPlanID {
		return nil, fmt.Errorf("%w: session waits on %s, stored plan is %s", domain.ErrPlanIDMismatch, sess.PendingPlanID, old.ID)
	}
	if old.Status != domain.PlanPending {
		return nil, fmt.Errorf("%w: plan %s is %s", domain.ErrPlanNotPending, old.ID, old.Status)
	}

	p, err := tx.ex.builder.Rebuild(ctx, old, amount)
	if err != nil {
		return nil, err
	}
	if err := tx.plans.Save(ctx, p); err != nil {
		return nil, err
	}
	if ds, ok := sess.Slots.(*slots.DeploySlots); ok {
		capital := p.CapitalUSD
		ds.Amount = &capital
	}
	if err := sess.Propose(p.ID, tx.Now()); err != nil {
		return nil, err
	}
	if err := tx.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}
	tx.emit(events.Proposed(p))
	return p, nil
}
