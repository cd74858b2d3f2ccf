package slots

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/shopspring/decimal"
)

// Slots is the collected parameters of one intent. Each intent has its own
// variant carrying only the fields it uses.
type Slots interface {
	// Intent returns the intent this variant belongs to.
	Intent() domain.Intent
	// Has reports whether slot n is filled.
	Has(n Name) bool

	accepts(n Name) bool
	apply(v valid)
}

// New returns the empty variant for intent.
func New(intent domain.Intent) Slots {
	switch intent {
	case domain.IntentDeploy:
		return &DeploySlots{}
	case domain.IntentRebalance:
		return &RebalanceSlots{}
	case domain.IntentShowYieldSources:
		return &YieldSourceSlots{}
	case domain.IntentSetAlert:
		return &AlertSlots{}
	default:
		return &NoSlots{For: intent}
	}
}

// Merge validates v and writes the values relevant to s over the existing
// ones. Absent values never clear a filled slot. It returns the relevant
// values that were rejected.
func Merge(s Slots, v Values) []error {
	ok, errs := validate(v)
	s.apply(ok)

	var relevant []error
	for _, err := range errs {
		if ise, isSlotErr := err.(*InvalidSlotError); isSlotErr && !s.accepts(ise.Slot) {
			continue
		}
		relevant = append(relevant, err)
	}
	return relevant
}

// DeploySlots are the parameters of a capital deployment.
type DeploySlots struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Asset         *string          `json:"asset,omitempty"`
	Chain         *string          `json:"chain,omitempty"`
	Risk          *domain.Risk     `json:"risk,omitempty"`
	AutoRebalance *bool            `json:"auto_rebalance,omitempty"`
}

// DeployRequest is a complete, non-optional view of DeploySlots.
type DeployRequest struct {
	CapitalUSD    decimal.Decimal
	Asset         string
	Chain         string
	Risk          domain.Risk
	AutoRebalance bool
}

func (s *DeploySlots) Intent() domain.Intent { return domain.IntentDeploy }

func (s *DeploySlots) Has(n Name) bool {
	switch n {
	case Amount:
		return s.Amount != nil
	case Asset:
		return s.Asset != nil
	case Chain:
		return s.Chain != nil
	case Risk:
		return s.Risk != nil
	case AutoRebalance:
		return s.AutoRebalance != nil
	}
	return false
}

func (s *DeploySlots) accepts(n Name) bool {
	return n == Amount || n == Asset || n == Chain || n == Risk || n == AutoRebalance
}

func (s *DeploySlots) apply(v valid) {
	if v.amount != nil {
		s.Amount = v.amount
	}
	if v.asset != nil {
		s.Asset = v.asset
	}
	if v.chain != nil {
		s.Chain = v.chain
	}
	if v.risk != nil {
		s.Risk = v.risk
	}
	if v.autoRebalance != nil {
		s.AutoRebalance = v.autoRebalance
	}
}

// Request returns the complete request, or false while any required slot
// is missing.
func (s *DeploySlots) Request() (DeployRequest, bool) {
	if !Complete(s) {
		return DeployRequest{}, false
	}
	req := DeployRequest{
		CapitalUSD: *s.Amount,
		Asset:      *s.Asset,
		Chain:      *s.Chain,
		Risk:       *s.Risk,
	}
	if s.AutoRebalance != nil {
		req.AutoRebalance = *s.AutoRebalance
	}
	return req, true
}

// RebalanceSlots configure automatic rebalancing.
type RebalanceSlots struct {
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

func (s *RebalanceSlots) Intent() domain.Intent { return domain.IntentRebalance }

func (s *RebalanceSlots) Has(n Name) bool { return n == Percentage && s.Percentage != nil }

func (s *RebalanceSlots) accepts(n Name) bool { return n == Percentage }

func (s *RebalanceSlots) apply(v valid) {
	if v.percentage != nil {
		s.Percentage = v.percentage
	}
}

// YieldSourceSlots filter the yield source listing.
type YieldSourceSlots struct {
	Asset *string      `json:"asset,omitempty"`
	Chain *string      `json:"chain,omitempty"`
	Risk  *domain.Risk `json:"risk,omitempty"`
	Count *int         `json:"count,omitempty"`
}

func (s *YieldSourceSlots) Intent() domain.Intent { return domain.IntentShowYieldSources }

func (s *YieldSourceSlots) Has(n Name) bool {
	switch n {
	case Asset:
		return s.Asset != nil
	case Chain:
		return s.Chain != nil
	case Risk:
		return s.Risk != nil
	case Count:
		return s.Count != nil
	}
	return false
}

func (s *YieldSourceSlots) accepts(n Name) bool {
	return n == Asset || n == Chain || n == Risk || n == Count
}

func (s *YieldSourceSlots) apply(v valid) {
	if v.asset != nil {
		s.Asset = v.asset
	}
	if v.chain != nil {
		s.Chain = v.chain
	}
	if v.risk != nil {
		s.Risk = v.risk
	}
	if v.count != nil {
		s.Count = v.count
	}
}

// AlertSlots describe a price-move alert.
type AlertSlots struct {
	Asset      *string          `json:"asset,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

func (s *AlertSlots) Intent() domain.Intent { return domain.IntentSetAlert }

func (s *AlertSlots) Has(n Name) bool {
	switch n {
	case Asset:
		return s.Asset != nil
	case Percentage:
		return s.Percentage != nil
	}
	return false
}

func (s *AlertSlots) accepts(n Name) bool { return n == Asset || n == Percentage }

func (s *AlertSlots) apply(v valid) {
	if v.asset != nil {
		s.Asset = v.asset
	}
	if v.percentage != nil {
		s.Percentage = v.percentage
	}
}

// NoSlots is the variant of intents without parameters.
type NoSlots struct {
	For domain.Intent `json:"for"`
}

func (s *NoSlots) Intent() domain.Intent { return s.For }
func (s *NoSlots) Has(Name) bool         { return false }
func (s *NoSlots) accepts(Name) bool     { return false }
func (s *NoSlots) apply(valid)           {}

type envelope struct {
	Intent domain.Intent   `json:"intent"`
	Values json.RawMessage `json:"values"`
}

// Marshal encodes s with its intent as discriminator.
func Marshal(s Slots) ([]byte, error) {
	values, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s slots: %w", s.Intent(), err)
	}
	return json.Marshal(envelope{Intent: s.Intent(), Values: values})
}

// Unmarshal decodes data produced by Marshal into the matching variant.
func Unmarshal(data []byte) (Slots, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode slots envelope: %w", err)
	}
	s := New(env.Intent)
	if len(env.Values) > 0 {
		if err := json.Unmarshal(env.Values, s); err != nil {
			return nil, fmt.Errorf("decode %s slots: %w", env.Intent, err)
		}
	}
	return s, nil
}
