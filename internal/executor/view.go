package executor

import (
	"context"
	"errors"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/session"
)

// View is a read-only snapshot of one user's state.
type View struct {
	Session     *session.Session   `json:"session"`
	PendingPlan *domain.Plan       `json:"pending_plan,omitempty"`
	Positions   []domain.Position  `json:"positions"`
	Balances    ledger.Balances    `json:"balances"`
	Alerts      []domain.Alert     `json:"alerts"`
	Preferences domain.Preferences `json:"preferences"`
}

// View loads a consistent snapshot of userID's session, pending plan,
// positions, balances and profile.
func (e *Executor) View(ctx context.Context, userID string) (*View, error) {
	var v *View
	err := e.Do(ctx, userID, func(tx *Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		next := &View{Session: sess}

		if sess.Awaiting() {
			p, err := tx.Plan(ctx)
			if err != nil && !errors.Is(err, domain.ErrPlanNotFound) {
				return err
			}
			if p != nil && p.ID == sess.PendingPlanID {
				next.PendingPlan = p
			}
		}
		if next.Positions, err = tx.Positions().List(ctx, userID); err != nil {
			return err
		}
		acct, err := tx.Ledger().Account(ctx, userID)
		if err != nil {
			return err
		}
		next.Balances = acct.Balances
		if next.Alerts, err = tx.Profile().Alerts(ctx, userID); err != nil {
			return err
		}
		if next.Preferences, err = tx.Profile().Preferences(ctx, userID); err != nil {
			return err
		}
		v = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
