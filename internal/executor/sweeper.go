package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/store"
)

// DefaultSweepInterval is how often the sweeper looks for stale proposals.
const DefaultSweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically cancels
// proposals that have waited longer than ttl. It stops when ctx is done.
func (e *Executor) StartSweeper(ctx context.Context, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		e.logger.Info("Plan sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if _, err := e.ExpireStale(ctx, ttl); err != nil {
					e.logger.Error("Plan sweeper failed", "error", err)
				}
			case <-ctx.Done():
				e.logger.Info("Plan sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// ExpireStale cancels every pending plan created more than ttl ago and
// resets the sessions still waiting on them. It returns how many plans it
// canceled. A failure for one user is logged and does not stop the sweep.
func (e *Executor) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	keys, err := e.store.List(ctx, store.NamespacePlan)
	if err != nil {
		return 0, fmt.Errorf("list plans: %w", err)
	}

	expired := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		canceled, err := e.expireUser(ctx, key.UserID, ttl)
		if err != nil {
			e.logger.Warn("Plan sweeper failed to expire plan",
				"user_id", key.UserID,
				"error", err)
			continue
		}
		if canceled {
			expired++
		}
	}

	if expired > 0 {
		e.logger.Info("Plan sweeper expired proposals", "count", expired)
	}
	return expired, nil
}

func (e *Executor) expireUser(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	canceled := false
	err := e.Do(ctx, userID, func(tx *Tx) error {
		canceled = false
		p, err := tx.Plan(ctx)
		if errors.Is(err, domain.ErrPlanNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := tx.Now()
		if p.Status != domain.PlanPending || now.Sub(p.CreatedAt) <= ttl {
			return nil
		}

		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if sess.PendingPlanID == p.ID {
			_, err := tx.Cancel(ctx, events.ReasonExpired)
			canceled = err == nil
			return err
		}

		// Orphaned by a newer intent: nothing waits on it.
		if err := p.Transition(domain.PlanCanceled, now); err != nil {
			return err
		}
		if err := tx.plans.Save(ctx, p); err != nil {
			return err
		}
		tx.emit(events.Canceled(p, events.ReasonExpired))
		canceled = true
		return nil
	})
	return canceled, err
}
