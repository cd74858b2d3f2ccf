package dialogue

import (
	"fmt"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/shopspring/decimal"
)

const (
	confirmQuestion = "Reply yes to execute, no to cancel, or tell me a different amount."
	helpText        = "I can deploy capital (\"deploy 250k USDC on Solana with medium risk\"), " +
		"show yield sources, show your positions, set price alerts, configure rebalancing " +
		"or reset your balances."
)

func planSummary(p *domain.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deploy %s %s on %s at %s risk", usd(p.CapitalUSD), p.Asset, p.Chain, p.Risk)
	if p.AutoRebalance {
		b.WriteString(" with auto-rebalancing")
	}
	b.WriteString(":")
	for i, a := range p.Allocations {
		fmt.Fprintf(&b, "\n  %d. %s: %s at %s%% APY (%s risk)", i+1, a.Protocol, usd(a.AmountUSD), a.APY.StringFixed(2), a.RiskLabel)
	}
	fmt.Fprintf(&b, "\nPlan %s", p.ID)
	return b.String()
}

func appliedText(p *domain.Plan, positions []domain.Position) string {
	return fmt.Sprintf("Done. Deployed %s %s into %d positions.", usd(ledger.TotalUSD(positions)), p.Asset, len(positions))
}

func positionsText(positions []domain.Position) string {
	if len(positions) == 0 {
		return "You have no positions yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d positions worth %s:", len(positions), usd(ledger.TotalUSD(positions)))
	for _, p := range positions {
		fmt.Fprintf(&b, "\n  %s on %s: %s %s at %s%% APY", p.Protocol, p.Chain, usd(p.AmountUSD), p.Asset, p.BaseAPY.StringFixed(2))
	}
	return b.String()
}

func yieldText(q plan.Query, cands []plan.Candidate) string {
	where := q.Asset
	if q.Chain != "" {
		where += " on " + q.Chain
	}
	if len(cands) == 0 {
		return "I couldn't find yield sources for " + where + "."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top yield sources for %s:", where)
	for i, c := range cands {
		chain := c.Chain
		if chain == "" {
			chain = "any chain"
		}
		fmt.Fprintf(&b, "\n  %d. %s (%s): %s%% APY, %s TVL, %s risk", i+1, c.Protocol, chain, c.APY.StringFixed(2), usd(c.TVL), c.Risk)
	}
	return b.String()
}

func balancesText(b ledger.Balances) string {
	if len(b) == 0 {
		return "no funds"
	}
	parts := make([]string, 0, len(b))
	for _, asset := range b.Assets() {
		parts = append(parts, b[asset].String()+" "+asset)
	}
	return strings.Join(parts, ", ")
}

func withNotes(notes []string, text string) string {
	if len(notes) == 0 {
		return text
	}
	return "I couldn't use part of that (" + strings.Join(notes, "; ") + "). " + text
}

// usd renders an amount as $1,234,567 or $1,234.50.
func usd(d decimal.Decimal) string {
	s := d.StringFixed(0)
	if !d.Equal(d.Round(0)) {
		s = d.StringFixed(2)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
