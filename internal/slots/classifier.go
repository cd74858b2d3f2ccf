package slots

import (
	"regexp"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
)

// ReplyKind classifies a message sent while a plan awaits confirmation.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyConfirm
	ReplyCancel
	ReplyAdjust
)

// String returns the string representation of the reply kind.
func (k ReplyKind) String() string {
	switch k {
	case ReplyConfirm:
		return "confirm"
	case ReplyCancel:
		return "cancel"
	case ReplyAdjust:
		return "adjust"
	default:
		return "none"
	}
}

// Classifier names the intent of a message and recognises confirmation
// replies. Like Extractor it is a pluggable collaborator.
type Classifier interface {
	Detect(text string) domain.Intent
	ClassifyReply(text string) ReplyKind
}

// KeywordClassifier is a keyword and phrase based Classifier.
type KeywordClassifier struct{}

type intentRule struct {
	intent domain.Intent
	re     *regexp.Regexp
}

// Rules are checked in order; the first match names the intent.
var intentRules = []intentRule{
	{domain.IntentResetBalances, regexp.MustCompile(`(?i)\breset\b.*\b(balances?|wallet|account|funds)\b`)},
	{domain.IntentSetAlert, regexp.MustCompile(`(?i)\b(alert|notify me|let me know (if|when)|ping me)\b`)},
	{domain.IntentShowPositions, regexp.MustCompile(`(?i)\b(show|list|view|see|display|what are)\b.*\b(positions?|portfolio|holdings)\b|^\s*(my\s+)?(positions|portfolio|holdings)\s*\??\s*$`)},
	{domain.IntentShowYieldSources, regexp.MustCompile(`(?i)\b(yield sources?|best yields?|top (yields?|protocols|pools|vaults)|where (can|should) i (earn|get yield)|(show|list|find)\b.*\b(yields?|apy|apr|protocols|pools|opportunities))\b`)},
	{domain.IntentDeploy, regexp.MustCompile(`(?i)\b(deploy|invest|allocate|put|stake|lend|supply|park|farm)\b`)},
	{domain.IntentRebalance, regexp.MustCompile(`(?i)\brebalanc\w*`)},
}

var (
	confirmRe = regexp.MustCompile(`(?i)^\s*(yes|y|yep|yeah|yup|sure|ok|okay|confirm(ed)?|approve[d]?|proceed|execute|go( ahead)?|do it|sounds good|lgtm|let'?s go|ship it)\b|\b(confirm|go ahead|do it|execute it|proceed with it)\b`)
	cancelRe  = regexp.MustCompile(`(?i)^\s*(no|nope|nah|n)\b|\b(cancel|abort|never ?mind|forget (it|that)|scrap (it|that)|don'?t do it|stop)\b`)
	negateRe  = regexp.MustCompile(`(?i)\b(don'?t|do not|not|never|wait|hold on)\b`)
	adjustRe  = regexp.MustCompile(`(?i)\b(change|adjust|make it|instead|increase|decrease|raise|lower|bump|reduce|update|switch)\b`)
	digitRe   = regexp.MustCompile(`\d`)
)

// Detect implements Classifier.
func (KeywordClassifier) Detect(text string) domain.Intent {
	for _, r := range intentRules {
		if r.re.MatchString(text) {
			return r.intent
		}
	}
	return domain.IntentNone
}

// ClassifyReply implements Classifier. Confirmation is checked first, but a
// confirm phrase that also carries a cancel word or a negation ("no, don't
// do it") is never a confirmation, and neither is one that names a new
// amount ("ok but make it 300k").
func (KeywordClassifier) ClassifyReply(text string) ReplyKind {
	t := strings.TrimSpace(text)
	cancel := cancelRe.MatchString(t)
	adjust := adjustRe.MatchString(t)
	switch {
	case t == "":
		return ReplyNone
	case adjust && !cancel && digitRe.MatchString(t):
		return ReplyAdjust
	case confirmRe.MatchString(t) && !cancel && !negateRe.MatchString(t):
		return ReplyConfirm
	case cancel:
		return ReplyCancel
	case adjust:
		return ReplyAdjust
	default:
		return ReplyNone
	}
}
