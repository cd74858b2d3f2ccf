// Package dialogue turns one user message into one reply by driving the
// session state machine, the plan builder and the executor.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/executor"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/ashureev/capdeploy/internal/session"
	"github.com/ashureev/capdeploy/internal/slots"
)

// defaultYieldSources is how many sources are listed when the user does not
// ask for a number.
const defaultYieldSources = 5

// Reply is the outcome of one message.
type Reply struct {
	Text       string            `json:"text"`
	Question   string            `json:"question,omitempty"`
	Stage      domain.Stage      `json:"stage"`
	Intent     domain.Intent     `json:"intent,omitempty"`
	Plan       *domain.Plan      `json:"plan,omitempty"`
	Positions  []domain.Position `json:"positions,omitempty"`
	Candidates []plan.Candidate  `json:"candidates,omitempty"`
	Balances   ledger.Balances   `json:"balances,omitempty"`
	Invalid    []string          `json:"invalid,omitempty"`
}

// Controller handles messages. It keeps no state between calls; everything
// lives in the store behind the executor.
type Controller struct {
	exec       *executor.Executor
	classifier slots.Classifier
	extractor  slots.Extractor
	ranker     plan.Ranker
	logger     *slog.Logger
}

// NewController creates a Controller.
func NewController(exec *executor.Executor, classifier slots.Classifier, extractor slots.Extractor, ranker plan.Ranker, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		exec:       exec,
		classifier: classifier,
		extractor:  extractor,
		ranker:     ranker,
		logger:     logger,
	}
}

// Handle processes one message from userID. Known lifecycle errors are
// turned into reply text and a nil error. Any other error is returned along
// with a generic reply; in both cases nothing the message would have
// changed is kept.
func (c *Controller) Handle(ctx context.Context, userID, text string) (Reply, error) {
	text = strings.TrimSpace(text)

	var reply Reply
	err := c.exec.Do(ctx, userID, func(tx *executor.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		reply = Reply{Stage: sess.Stage, Intent: sess.Intent}

		var r Reply
		if sess.Awaiting() {
			r, err = c.awaiting(ctx, tx, sess, text)
		} else {
			r, err = c.collect(ctx, tx, sess, text, false)
		}
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return c.failure(userID, reply, err)
	}
	return reply, nil
}

// awaiting handles a message while a plan waits for confirmation. Confirm,
// cancel and adjust are checked in that order before a new intent.
func (c *Controller) awaiting(ctx context.Context, tx *executor.Tx, sess *session.Session, text string) (Reply, error) {
	switch c.classifier.ClassifyReply(text) {
	case slots.ReplyConfirm:
		p, positions, err := tx.Apply(ctx, "")
		if err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:      appliedText(p, positions),
			Stage:     domain.StageIdle,
			Intent:    domain.IntentDeploy,
			Plan:      p,
			Positions: positions,
		}, nil

	case slots.ReplyCancel:
		p, err := tx.Cancel(ctx, events.ReasonUser)
		if err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:  "Plan canceled. Nothing was deployed.",
			Stage: domain.StageIdle,
			Plan:  p,
		}, nil

	case slots.ReplyAdjust:
		v := c.extractor.Extract(text, domain.IntentDeploy)
		if v.Amount != nil {
			p, err := tx.Adjust(ctx, *v.Amount)
			if err != nil {
				return Reply{}, err
			}
			return Reply{
				Text:     "Updated plan:\n" + planSummary(p),
				Question: confirmQuestion,
				Stage:    domain.StageAwaitingConfirmation,
				Intent:   domain.IntentDeploy,
				Plan:     p,
			}, nil
		}
	}

	if intent := c.classifier.Detect(text); intent.IsValid() {
		return c.collect(ctx, tx, sess, text, true)
	}

	p, err := tx.Plan(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:     "This plan is waiting for your confirmation:\n" + planSummary(p),
		Question: confirmQuestion,
		Stage:    domain.StageAwaitingConfirmation,
		Intent:   sess.Intent,
		Plan:     p,
	}, nil
}

// collect detects the intent, merges extracted slots and either asks for
// the next missing slot or acts on the complete intent. restart begins the
// detected intent afresh even when it equals the active one.
func (c *Controller) collect(ctx context.Context, tx *executor.Tx, sess *session.Session, text string, restart bool) (Reply, error) {
	now := tx.Now()
	intent := c.classifier.Detect(text)
	switch {
	case intent.IsValid() && (restart || intent != sess.Intent):
		if err := sess.Begin(intent, now); err != nil {
			return Reply{}, err
		}
	case sess.Stage == domain.StageCollecting:
		// An answer to the last question.
	case c.classifier.ClassifyReply(text) == slots.ReplyConfirm:
		return Reply{}, domain.ErrNoPendingPlan
	default:
		return Reply{Text: helpText, Stage: sess.Stage}, nil
	}

	invalid := slots.Merge(sess.Slots, c.extractor.Extract(text, sess.Intent))
	notes := make([]string, 0, len(invalid))
	for _, err := range invalid {
		notes = append(notes, err.Error())
	}
	sess.UpdatedAt = now

	if missing := sess.Missing(); len(missing) > 0 {
		if err := tx.SaveSession(ctx, sess); err != nil {
			return Reply{}, err
		}
		q := slots.Question(sess.Intent, missing[0])
		return Reply{
			Text:     withNotes(notes, q),
			Question: q,
			Stage:    sess.Stage,
			Intent:   sess.Intent,
			Invalid:  notes,
		}, nil
	}

	if sess.Intent.ProducesPlan() {
		return c.propose(ctx, tx, sess, notes)
	}

	r, err := c.execute(ctx, tx, sess)
	if err != nil {
		return Reply{}, err
	}
	intent = sess.Intent
	sess.Reset(now)
	if err := tx.SaveSession(ctx, sess); err != nil {
		return Reply{}, err
	}
	r.Text = withNotes(notes, r.Text)
	r.Invalid = notes
	r.Stage = sess.Stage
	r.Intent = intent
	return r, nil
}

func (c *Controller) propose(ctx context.Context, tx *executor.Tx, sess *session.Session, notes []string) (Reply, error) {
	ds, ok := sess.Slots.(*slots.DeploySlots)
	if !ok {
		return Reply{}, fmt.Errorf("deploy session holds %T", sess.Slots)
	}
	req, ok := ds.Request()
	if !ok {
		return Reply{}, fmt.Errorf("deploy slots incomplete")
	}
	if ds.AutoRebalance == nil {
		prefs, err := tx.Profile().Preferences(ctx, tx.UserID())
		if err != nil {
			return Reply{}, err
		}
		req.AutoRebalance = prefs.AutoRebalance
	}

	p, err := tx.Propose(ctx, sess, req)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:     withNotes(notes, "Here is the proposed plan:\n"+planSummary(p)),
		Question: confirmQuestion,
		Stage:    sess.Stage,
		Intent:   sess.Intent,
		Plan:     p,
		Invalid:  notes,
	}, nil
}

// execute runs a complete informational intent.
func (c *Controller) execute(ctx context.Context, tx *executor.Tx, sess *session.Session) (Reply, error) {
	userID := tx.UserID()
	switch s := sess.Slots.(type) {
	case *slots.YieldSourceSlots:
		q := plan.Query{Asset: *s.Asset, Limit: defaultYieldSources}
		if s.Chain != nil {
			q.Chain = *s.Chain
		}
		if s.Risk != nil {
			q.Risk = *s.Risk
		}
		if s.Count != nil {
			q.Limit = *s.Count
		}
		cands, err := c.ranker.Rank(ctx, q)
		if err != nil {
			return Reply{}, fmt.Errorf("rank yield sources: %w", err)
		}
		return Reply{Text: yieldText(q, cands), Candidates: cands}, nil

	case *slots.AlertSlots:
		a := domain.Alert{ID: tx.NewID(), Asset: *s.Asset, Percentage: *s.Percentage, CreatedAt: tx.Now()}
		if err := tx.Profile().AddAlert(ctx, userID, a); err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Alert set: I'll flag %s moves of %s%% or more.", a.Asset, a.Percentage.String())}, nil

	case *slots.RebalanceSlots:
		prefs := domain.Preferences{AutoRebalance: true, DriftPercentage: *s.Percentage, UpdatedAt: tx.Now()}
		if err := tx.Profile().SavePreferences(ctx, userID, prefs); err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Auto-rebalancing enabled at %s%% drift. New plans will rebalance automatically.", prefs.DriftPercentage.String())}, nil
	}

	switch sess.Intent {
	case domain.IntentShowPositions:
		positions, err := tx.Positions().List(ctx, userID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: positionsText(positions), Positions: positions}, nil

	case domain.IntentResetBalances:
		if err := tx.Ledger().Reset(ctx, userID); err != nil {
			return Reply{}, err
		}
		acct, err := tx.Ledger().Account(ctx, userID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: "Balances reset: " + balancesText(acct.Balances) + ". Existing positions are kept.", Balances: acct.Balances}, nil
	}

	return Reply{}, fmt.Errorf("no handler for intent %s", sess.Intent)
}

// failure maps err onto reply text. The reply keeps the stage the session
// had before the message, because the failed unit of work changed nothing.
func (c *Controller) failure(userID string, r Reply, err error) (Reply, error) {
	var insufficient *domain.InsufficientFundsError
	switch {
	case errors.Is(err, domain.ErrDebitFailed):
		r.Text = "I couldn't debit your account, so nothing was executed. Please confirm again."
	case errors.As(err, &insufficient):
		r.Text = fmt.Sprintf("Insufficient %s balance: %s available, %s required. Add funds or adjust the amount, then confirm again.",
			insufficient.Asset, usd(insufficient.Available), usd(insufficient.Required))
	case errors.Is(err, domain.ErrNoPendingPlan):
		r.Text = "There is no plan waiting for confirmation."
	case errors.Is(err, domain.ErrPlanNotFound):
		r.Text = "I couldn't find that plan."
	case errors.Is(err, domain.ErrPlanIDMismatch):
		r.Text = "That plan is out of date. Please confirm the latest proposal."
	case errors.Is(err, domain.ErrPlanNotPending):
		r.Text = "That plan was already executed or canceled."
	case errors.Is(err, domain.ErrInvalidAmount):
		r.Text = "The amount must be greater than zero."
	case errors.Is(err, domain.ErrNoCandidates):
		r.Text = "I couldn't find any protocol matching that request. Try another chain or a different risk level."
	default:
		c.logger.Error("Failed to handle message", "user_id", userID, "error", err)
		r.Text = "Something went wrong on our side and nothing was changed. Please try again."
		return r, err
	}
	if r.Stage == domain.StageAwaitingConfirmation {
		r.Question = confirmQuestion
	}
	return r, nil
}
