package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for plan lifecycle operations. All of them are
// recoverable: the operation is rejected before anything is mutated.
var (
	ErrNoPendingPlan     = errors.New("no pending plan")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrPlanIDMismatch    = errors.New("plan id does not match the pending plan")
	ErrPlanNotPending    = errors.New("plan is no longer pending")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDebitFailed       = errors.New("debit failed")
	ErrNoCandidates      = errors.New("no candidate protocols")
)

// InsufficientFundsError reports how much was available against how much
// a request needed.
type InsufficientFundsError struct {
	Asset     string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: available %s, required %s",
		e.Asset, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// Is makes errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// IsUserFacing reports whether err is one of the known lifecycle errors
// whose message can be shown to the user as is.
func IsUserFacing(err error) bool {
	for _, known := range []error{
		ErrNoPendingPlan, ErrPlanNotFound, ErrPlanIDMismatch, ErrPlanNotPending,
		ErrInvalidAmount, ErrInsufficientFunds, ErrDebitFailed, ErrNoCandidates,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
