// Package session holds the per-user conversation state machine and its
// persistence.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/slots"
)

// ErrInvalidTransition is returned when a session is asked to make a move
// its current stage does not allow.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the conversation state of one user. It is created on the
// first message and never deleted, only reset to idle.
//
// PendingPlanID is set exactly when Stage is awaiting_confirmation.
type Session struct {
	UserID        string
	Stage         domain.Stage
	Intent        domain.Intent
	Slots         slots.Slots
	PendingPlanID string
	UpdatedAt     time.Time
}

// New returns an idle session for userID.
func New(userID string) *Session {
	return &Session{UserID: userID, Stage: domain.StageIdle}
}

// Begin starts collecting slots for intent, discarding any previous intent,
// slots and pending plan.
func (s *Session) Begin(intent domain.Intent, at time.Time) error {
	if !intent.IsValid() {
		return fmt.Errorf("%w: cannot begin intent %q", ErrInvalidTransition, intent)
	}
	s.Stage = domain.StageCollecting
	s.Intent = intent
	s.Slots = slots.New(intent)
	s.PendingPlanID = ""
	s.UpdatedAt = at
	return nil
}

// Propose records planID as the plan awaiting confirmation. It is legal
// while collecting a plan-producing intent, and while already awaiting
// confirmation when the proposal is replaced.
func (s *Session) Propose(planID string, at time.Time) error {
	if planID == "" {
		return fmt.Errorf("%w: empty plan id", ErrInvalidTransition)
	}
	if s.Stage != domain.StageCollecting && s.Stage != domain.StageAwaitingConfirmation {
		return fmt.Errorf("%w: cannot propose from %s", ErrInvalidTransition, s.Stage)
	}
	if !s.Intent.ProducesPlan() {
		return fmt.Errorf("%w: intent %s does not produce plans", ErrInvalidTransition, s.Intent)
	}
	s.Stage = domain.StageAwaitingConfirmation
	s.PendingPlanID = planID
	s.UpdatedAt = at
	return nil
}

// Reset returns the session to idle.
func (s *Session) Reset(at time.Time) {
	s.Stage = domain.StageIdle
	s.Intent = domain.IntentNone
	s.Slots = nil
	s.PendingPlanID = ""
	s.UpdatedAt = at
}

// Awaiting reports whether a plan awaits confirmation.
func (s *Session) Awaiting() bool {
	return s.Stage == domain.StageAwaitingConfirmation
}

// Missing returns the unfilled required slots of the active intent.
func (s *Session) Missing() []slots.Name {
	if s.Slots == nil {
		return nil
	}
	return slots.Missing(s.Slots)
}

// Validate checks the session invariants.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("session user id is required")
	}
	if !s.Stage.IsValid() {
		return fmt.Errorf("invalid session stage %q", s.Stage)
	}
	if (s.PendingPlanID != "") != (s.Stage == domain.StageAwaitingConfirmation) {
		return fmt.Errorf("session in stage %s has pending plan %q", s.Stage, s.PendingPlanID)
	}
	if s.Stage == domain.StageIdle {
		return nil
	}
	if !s.Intent.IsValid() {
		return fmt.Errorf("session in stage %s has no intent", s.Stage)
	}
	if s.Slots == nil || s.Slots.Intent() != s.Intent {
		return fmt.Errorf("session slots do not belong to intent %s", s.Intent)
	}
	return nil
}

type sessionJSON struct {
	UserID        string          `json:"user_id"`
	Stage         domain.Stage    `json:"stage"`
	Intent        domain.Intent   `json:"intent,omitempty"`
	Slots         json.RawMessage `json:"slots,omitempty"`
	PendingPlanID string          `json:"pending_plan_id,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarshalJSON encodes the session with its slot variant tagged by intent.
func (s *Session) MarshalJSON() ([]byte, error) {
	out := sessionJSON{
		UserID:        s.UserID,
		Stage:         s.Stage,
		Intent:        s.Intent,
		PendingPlanID: s.PendingPlanID,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Slots != nil {
		raw, err := slots.Marshal(s.Slots)
		if err != nil {
			return nil, err
		}
		out.Slots = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a session produced by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Session{
		UserID:        in.UserID,
		Stage:         in.Stage,
		Intent:        in.Intent,
		PendingPlanID: in.PendingPlanID,
		UpdatedAt:     in.UpdatedAt,
	}
	if len(in.Slots) > 0 {
		sl, err := slots.Unmarshal(in.Slots)
		if err != nil {
			return err
		}
		s.Slots = sl
	}
	return nil
}
