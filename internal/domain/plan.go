package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus is the lifecycle state of a deployment plan.
type PlanStatus string

const (
	// PlanPending indicates the plan awaits confirmation.
	PlanPending PlanStatus = "pending"
	// PlanApplied indicates the ledger was debited and positions created.
	PlanApplied PlanStatus = "applied"
	// PlanCanceled indicates the user declined or the proposal expired.
	PlanCanceled PlanStatus = "canceled"
)

// String returns the string representation of the status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known plan status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanPending, PlanApplied, PlanCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanApplied || s == PlanCanceled
}

// CanTransitionTo returns true if the status can transition to target.
// Only pending plans move, and only to applied or canceled.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	return s == PlanPending && (target == PlanApplied || target == PlanCanceled)
}

// Allocation is one line item of a plan.
type Allocation struct {
	Protocol  string          `json:"protocol"`
	Chain     string          `json:"chain"`
	Asset     string          `json:"asset"`
	APY       decimal.Decimal `json:"apy"`
	TVL       decimal.Decimal `json:"tvl"`
	RiskLabel Risk            `json:"risk_label"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

// Plan is a costed proposal of allocations awaiting confirmation.
type Plan struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        PlanStatus      `json:"status"`
	CapitalUSD    decimal.Decimal `json:"capital_usd"`
	Asset         string          `json:"asset"`
	Chain         string          `json:"chain"`
	Risk          Risk            `json:"risk"`
	AutoRebalance bool            `json:"auto_rebalance"`
	Allocations   []Allocation    `json:"allocations"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TotalAllocated sums the allocation amounts.
func (p *Plan) TotalAllocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.AmountUSD)
	}
	return total
}

// Transition moves the plan to target if the move is legal.
func (p *Plan) Transition(target PlanStatus, at time.Time) error {
	if !p.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: plan %s is %s, cannot become %s", ErrPlanNotPending, p.ID, p.Status, target)
	}
	p.Status = target
	p.UpdatedAt = at
	return nil
}

// Validate checks the structural invariants of a plan.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid plan status %q", p.Status)
	}
	if !p.CapitalUSD.IsPositive() {
		return fmt.Errorf("%w: capital %s", ErrInvalidAmount, p.CapitalUSD)
	}
	if len(p.Allocations) == 0 {
		return fmt.Errorf("plan %s has no allocations", p.ID)
	}
	if total := p.TotalAllocated(); !total.Equal(p.CapitalUSD) {
		return fmt.Errorf("plan %s allocates %s of %s", p.ID, total, p.CapitalUSD)
	}
	return nil
}

// Position is an immutable record of a realized allocation.
type Position struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"plan_id"`
	Protocol  string          `json:"protocol"`
	Chain     string          `json:"chain"`
	Asset     string          `json:"asset"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	BaseAPY   decimal.Decimal `json:"base_apy"`
	RiskLabel Risk            `json:"risk_label"`
	EntryTime time.Time       `json:"entry_time"`
}

// Alert asks to be notified when an asset moves by Percentage.
type Alert struct {
	ID         string          `json:"id"`
	Asset      string          `json:"asset"`
	Percentage decimal.Decimal `json:"percentage"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Preferences are per-user settings that outlive a single request.
type Preferences struct {
	AutoRebalance   bool            `json:"auto_rebalance"`
	DriftPercentage decimal.Decimal `json:"drift_percentage"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
