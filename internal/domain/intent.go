// Package domain contains the core types shared by the plan lifecycle engine.
package domain

import "strings"

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentNone             Intent = ""
	IntentDeploy           Intent = "deploy"
	IntentRebalance        Intent = "rebalance"
	IntentShowYieldSources Intent = "show_yield_sources"
	IntentSetAlert         Intent = "set_alert"
	IntentShowPositions    Intent = "show_positions"
	IntentResetBalances    Intent = "reset_balances"
)

// String returns the string representation of the intent.
func (i Intent) String() string {
	if i == IntentNone {
		return "none"
	}
	return string(i)
}

// IsValid reports whether i is a known, non-empty intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentDeploy, IntentRebalance, IntentShowYieldSources,
		IntentSetAlert, IntentShowPositions, IntentResetBalances:
		return true
	default:
		return false
	}
}

// ProducesPlan reports whether completing the intent yields a plan that
// must be confirmed before anything is executed.
func (i Intent) ProducesPlan() bool {
	return i == IntentDeploy
}

// Stage is the conversational state of a session.
type Stage string

const (
	StageIdle                 Stage = "idle"
	StageCollecting           Stage = "collecting"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageIdle, StageCollecting, StageAwaitingConfirmation:
		return true
	default:
		return false
	}
}

// Risk is a risk tolerance or a protocol risk label.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Level orders risks from 1 (low) to 3 (high); unknown risks are 0.
func (r Risk) Level() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether r is one of the three risk levels.
func (r Risk) IsValid() bool {
	return r.Level() > 0
}

// ParseRisk maps a risk word or common synonym onto a Risk.
func ParseRisk(s string) (Risk, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "conservative", "safe":
		return RiskLow, true
	case "medium", "moderate", "balanced", "mid":
		return RiskMedium, true
	case "high", "aggressive", "degen":
		return RiskHigh, true
	default:
		return "", false
	}
}
