// Package lifecycle implements the auction state machine:
//
//	draft → active → ended → settled
//	active → disputed, ended → disputed, disputed → ended
//
// Every other transition is rejected. The package is pure; callers are
// responsible for serializing transitions on the same auction.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/bullionx/auction-engine/internal/model"
)

// ErrInvalidTransition matches every *TransitionError via errors.Is.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// TransitionError names the current state and the attempted target.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var transitions = map[model.Status][]model.Status{
	model.StatusDraft:    {model.StatusActive},
	model.StatusActive:   {model.StatusEnded, model.StatusDisputed},
	model.StatusEnded:    {model.StatusSettled, model.StatusDisputed},
	model.StatusDisputed: {model.StatusEnded},
}

// Transition returns nil if moving from one state to the other is legal.
func Transition(from, to model.Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// AcceptsBids reports whether bids may be placed in the given state.
func AcceptsBids(s model.Status) bool {
	return s == model.StatusActive
}

// Terminal reports whether no further transition can leave the state.
func Terminal(s model.Status) bool {
	return len(transitions[s]) == 0
}

// Expired reports whether an active auction has reached its deadline.
func Expired(a *model.Auction, now time.Time) bool {
	return a.Status == model.StatusActive && !now.Before(a.EndTime)
}

// Effective returns a copy of the auction as callers should observe it at
// now: an active auction past its deadline is reported as ended.
func Effective(a model.Auction, now time.Time) model.Auction {
	if Expired(&a, now) {
		a.Status = model.StatusEnded
		end := a.EndTime
		a.EndedAt = &end
	}
	return a
}

// Apply validates the transition and updates the auction in place,
// stamping the activation/end times the transition implies.
func Apply(a *model.Auction, to model.Status, now time.Time) error {
	if err := Transition(a.Status, to); err != nil {
		return err
	}
	ts := now.UTC()
	switch to {
	case model.StatusActive:
		a.ActivatedAt = &ts
	case model.StatusEnded:
		if a.EndedAt == nil {
			a.EndedAt = &ts
		}
		a.DisputeReason = ""
	}
	a.Status = to
	return nil
}
