package slots

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/shopspring/decimal"
)

// Values is the raw, best-effort output of an Extractor. A nil field means
// "not found", never "explicitly empty".
type Values struct {
	Amount        *decimal.Decimal
	Asset         *string
	Chain         *string
	Risk          *string
	Percentage    *decimal.Decimal
	Count         *int
	AutoRebalance *bool
}

// IsEmpty reports whether nothing was extracted.
func (v Values) IsEmpty() bool {
	return v.Amount == nil && v.Asset == nil && v.Chain == nil && v.Risk == nil &&
		v.Percentage == nil && v.Count == nil && v.AutoRebalance == nil
}

// InvalidSlotError describes an extracted value that failed validation and
// was therefore not merged.
type InvalidSlotError struct {
	Slot   Name
	Value  string
	Reason string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Slot, e.Value, e.Reason)
}

var (
	assetPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	chainPattern = regexp.MustCompile(`^[a-z0-9-]{2,32}$`)
	hundred      = decimal.NewFromInt(100)
)

// valid holds the values that passed validation, normalised.
type valid struct {
	amount        *decimal.Decimal
	asset         *string
	chain         *string
	risk          *domain.Risk
	percentage    *decimal.Decimal
	count         *int
	autoRebalance *bool
}

// validate re-checks types and ranges of extracted values. Rejected values
// are reported and dropped.
func validate(v Values) (valid, []error) {
	var out valid
	var errs []error

	if v.Amount != nil {
		if v.Amount.IsPositive() {
			a := *v.Amount
			out.amount = &a
		} else {
			errs = append(errs, &InvalidSlotError{Slot: Amount, Value: v.Amount.String(), Reason: "must be greater than zero"})
		}
	}
	if v.Asset != nil {
		a := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(*v.Asset), "$"))
		if assetPattern.MatchString(a) {
			out.asset = &a
		} else {
			errs = append(errs, &InvalidSlotError{Slot: Asset, Value: *v.Asset, Reason: "not a token symbol"})
		}
	}
	if v.Chain != nil {
		c := strings.ToLower(strings.TrimSpace(*v.Chain))
		if chainPattern.MatchString(c) {
			out.chain = &c
		} else {
			errs = append(errs, &InvalidSlotError{Slot: Chain, Value: *v.Chain, Reason: "not a chain id"})
		}
	}
	if v.Risk != nil {
		if r, ok := domain.ParseRisk(*v.Risk); ok {
			out.risk = &r
		} else {
			errs = append(errs, &InvalidSlotError{Slot: Risk, Value: *v.Risk, Reason: "must be low, medium or high"})
		}
	}
	if v.Percentage != nil {
		p := *v.Percentage
		if p.IsNegative() || p.GreaterThan(hundred) {
			errs = append(errs, &InvalidSlotError{Slot: Percentage, Value: p.String(), Reason: "must be between 0 and 100"})
		} else {
			out.percentage = &p
		}
	}
	if v.Count != nil {
		if *v.Count > 0 {
			c := *v.Count
			out.count = &c
		} else {
			errs = append(errs, &InvalidSlotError{Slot: Count, Value: fmt.Sprint(*v.Count), Reason: "must be a positive integer"})
		}
	}
	if v.AutoRebalance != nil {
		b := *v.AutoRebalance
		out.autoRebalance = &b
	}
	return out, errs
}
