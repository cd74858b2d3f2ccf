package slots

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/shopspring/decimal"
)

// Extractor pulls best-effort slot values out of free text. Implementations
// may be pattern based, model based or remote; the engine re-validates
// everything they return.
type Extractor interface {
	Extract(text string, intent domain.Intent) Values
}

// PatternExtractor is a regular-expression Extractor covering the common
// phrasings of amounts, tokens, chains and risk levels.
type PatternExtractor struct {
	assets []symbolPattern
	chains []symbolPattern
}

type symbolPattern struct {
	value string
	alias string
	re    *regexp.Regexp
}

// NewPatternExtractor returns an extractor that knows the default token
// symbols and chain aliases.
func NewPatternExtractor() *PatternExtractor {
	return NewPatternExtractorWith(
		[]string{"USDC", "USDT", "DAI", "PYUSD", "USDE", "FDUSD", "ETH", "WETH", "STETH", "SOL", "JITOSOL", "MSOL", "BTC", "WBTC", "CBBTC"},
		map[string]string{
			"solana":    "solana",
			"ethereum":  "ethereum",
			"mainnet":   "ethereum",
			"arbitrum":  "arbitrum",
			"arb":       "arbitrum",
			"base":      "base",
			"optimism":  "optimism",
			"polygon":   "polygon",
			"matic":     "polygon",
			"avalanche": "avalanche",
			"avax":      "avalanche",
			"bsc":       "bsc",
			"bnb chain": "bsc",
		},
	)
}

// NewPatternExtractorWith builds an extractor for the given token symbols
// (checked in order) and chain aliases (alias -> chain id).
func NewPatternExtractorWith(assets []string, chains map[string]string) *PatternExtractor {
	e := &PatternExtractor{}
	for _, a := range assets {
		a = strings.ToUpper(a)
		e.assets = append(e.assets, symbolPattern{
			value: a,
			alias: a,
			re:    regexp.MustCompile(`(^|[^A-Z0-9])\$?` + regexp.QuoteMeta(a) + `([^A-Z0-9]|$)`),
		})
	}
	for alias, id := range chains {
		alias = strings.ToLower(alias)
		e.chains = append(e.chains, symbolPattern{
			value: id,
			alias: alias,
			re:    regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\b`),
		})
	}
	return e
}

var (
	// 250k, $1.5m, 250,000, 100 000 usd; a trailing % marks a percentage.
	amountRe     = regexp.MustCompile(`(?i)\$?\s*(\d{1,3}(?:[, ]\d{3})+|\d+(?:\.\d+)?)\s*(k|thousand|mm|m|mn|million|b|bn|billion)?\b\s*(%|percent)?`)
	percentRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(%|percent\b|pct\b)`)
	countRe      = regexp.MustCompile(`(?i)\b(?:top|best|first)\s+(\d{1,2})\b`)
	riskRe       = regexp.MustCompile(`(?i)\b(low|medium|mid|moderate|high)[\s-]*risk\b|\brisk(?:\s+level)?(?:\s*(?:is|of|:|=))?\s*(low|medium|moderate|high)\b|\b(conservative|balanced|aggressive)\b`)
	autoOnRe     = regexp.MustCompile(`(?i)\bauto[\s-]?rebalanc\w*`)
	autoOffRe    = regexp.MustCompile(`(?i)\b(no|without|disable|don't|do not)\s+(auto[\s-]?)?rebalanc\w*`)
	bareNumberRe = regexp.MustCompile(`^\s*\$?\s*(\d+(?:\.\d+)?)\s*$`)
)

var multipliers = map[string]int64{
	"k": 1_000, "thousand": 1_000,
	"m": 1_000_000, "mm": 1_000_000, "mn": 1_000_000, "million": 1_000_000,
	"b": 1_000_000_000, "bn": 1_000_000_000, "billion": 1_000_000_000,
}

// Extract implements Extractor.
func (e *PatternExtractor) Extract(text string, intent domain.Intent) Values {
	var v Values
	wants := map[Name]bool{}
	for _, n := range Required(intent) {
		wants[n] = true
	}

	if wants[Amount] || intent == domain.IntentNone {
		v.Amount = extractAmount(text)
	}
	if p := extractPercentage(text); p != nil {
		v.Percentage = p
	} else if wants[Percentage] && !wants[Amount] {
		// A bare number answering a percentage question.
		if m := bareNumberRe.FindStringSubmatch(text); m != nil {
			if d, err := decimal.NewFromString(m[1]); err == nil {
				v.Percentage = &d
			}
		}
	}
	if m := countRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			v.Count = &n
		}
	}
	v.Asset = e.extractAsset(text)
	v.Chain = e.extractChain(text)
	v.Risk = extractRisk(text)

	if autoOffRe.MatchString(text) {
		f := false
		v.AutoRebalance = &f
	} else if autoOnRe.MatchString(text) {
		t := true
		v.AutoRebalance = &t
	}
	return v
}

func extractAmount(text string) *decimal.Decimal {
	for _, m := range amountRe.FindAllStringSubmatch(text, -1) {
		if m[3] != "" {
			continue // percentage
		}
		digits := strings.NewReplacer(",", "", " ", "").Replace(m[1])
		d, err := decimal.NewFromString(digits)
		if err != nil {
			continue
		}
		if mult, ok := multipliers[strings.ToLower(m[2])]; ok {
			d = d.Mul(decimal.NewFromInt(mult))
		}
		return &d
	}
	return nil
}

func extractPercentage(text string) *decimal.Decimal {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return nil
	}
	return &d
}

func (e *PatternExtractor) extractAsset(text string) *string {
	upper := strings.ToUpper(text)
	for _, a := range e.assets {
		if a.re.MatchString(upper) {
			found := a.value
			return &found
		}
	}
	return nil
}

func (e *PatternExtractor) extractChain(text string) *string {
	lower := strings.ToLower(text)
	best := -1
	var chain, matched string
	for _, c := range e.chains {
		loc := c.re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		// Earliest mention wins; ties prefer the longer alias.
		if best == -1 || loc[0] < best || (loc[0] == best && len(c.alias) > len(matched)) {
			best = loc[0]
			chain = c.value
			matched = c.alias
		}
	}
	if best == -1 {
		return nil
	}
	return &chain
}

func extractRisk(text string) *string {
	if m := riskRe.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				r := strings.ToLower(g)
				return &r
			}
		}
	}
	// A lone risk word answering the risk question.
	trimmed := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))
	if _, ok := domain.ParseRisk(trimmed); ok {
		return &trimmed
	}
	return nil
}
