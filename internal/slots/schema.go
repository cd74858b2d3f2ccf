// Package slots defines which parameters each intent needs, holds them as
// typed per-intent variants, and gates plan building on their completeness.
// Extraction itself is delegated to an Extractor.
package slots

import "github.com/ashureev/capdeploy/internal/domain"

// Name identifies one slot.
type Name string

const (
	Amount        Name = "amount"
	Asset         Name = "asset"
	Chain         Name = "chain"
	Risk          Name = "risk"
	Percentage    Name = "percentage"
	Count         Name = "count"
	AutoRebalance Name = "auto_rebalance"
)

// required lists each intent's required slots in questioning order.
var required = map[domain.Intent][]Name{
	domain.IntentDeploy:           {Amount, Asset, Chain, Risk},
	domain.IntentRebalance:        {Percentage},
	domain.IntentShowYieldSources: {Asset},
	domain.IntentSetAlert:         {Asset, Percentage},
	domain.IntentShowPositions:    {},
	domain.IntentResetBalances:    {},
}

// Required returns the ordered required slots of intent.
func Required(intent domain.Intent) []Name {
	return append([]Name(nil), required[intent]...)
}

// Missing returns the required slots of s that are still empty, highest
// priority first.
func Missing(s Slots) []Name {
	var out []Name
	for _, n := range required[s.Intent()] {
		if !s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Complete reports whether every required slot of s is filled.
func Complete(s Slots) bool {
	return len(Missing(s)) == 0
}

var questions = map[Name]string{
	Amount:     "How much would you like to deploy, in USD?",
	Asset:      "Which asset should I use? For example USDC or USDT.",
	Chain:      "Which chain should I deploy on? For example solana, ethereum, arbitrum or base.",
	Risk:       "What risk level are you comfortable with: low, medium or high?",
	Percentage: "What percentage should I use (0-100)?",
	Count:      "How many results would you like?",
}

var intentQuestions = map[domain.Intent]map[Name]string{
	domain.IntentRebalance: {
		Percentage: "At what drift percentage should I rebalance your positions (0-100)?",
	},
	domain.IntentSetAlert: {
		Asset:      "Which asset should I watch?",
		Percentage: "How large a move, in percent, should trigger the alert (0-100)?",
	},
	domain.IntentShowYieldSources: {
		Asset: "Yield sources for which asset? For example USDC.",
	},
}

// Question returns the follow-up question that asks for slot n of intent.
func Question(intent domain.Intent, n Name) string {
	if q, ok := intentQuestions[intent][n]; ok {
		return q
	}
	if q, ok := questions[n]; ok {
		return q
	}
	return "Could you tell me the " + string(n) + "?"
}
