// Package machine applies phase transitions to a project state value.
// Functions never mutate their argument; they return the next state.
package machine

import (
	"errors"
	"fmt"

	"phasegate/internal/domain"
)

var (
	ErrTerminal          = errors.New("project completed; no further transitions")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// BeginIteration starts the next iteration of the current phase.
func BeginIteration(s domain.ProjectState) (domain.ProjectState, error) {
	if s.Completed() {
		return s, ErrTerminal
	}
	next := s.Clone()
	next.Iteration++
	next.Attempts[next.Phase]++
	return next, nil
}

// RecordScore appends a review score for the current iteration.
func RecordScore(s domain.ProjectState, score float64, at string) domain.ProjectState {
	next := s.Clone()
	next.ScoreHistory = append(next.ScoreHistory, domain.ScoreEntry{
		Phase:     s.Phase,
		Iteration: s.Iteration,
		Attempt:   s.Attempts[s.Phase],
		Score:     score,
		At:        at,
	})
	next.UpdatedAt = at
	return next
}

func SetMode(s domain.ProjectState, mode domain.Mode, at string) (domain.ProjectState, error) {
	if !mode.Valid() {
		return s, fmt.Errorf("invalid mode %q", mode)
	}
	next := s.Clone()
	next.Mode = mode
	next.UpdatedAt = at
	return next, nil
}

// Advance moves to the next phase, or completes the project after the last one.
func Advance(s domain.ProjectState, at string) (domain.ProjectState, error) {
	return advance(s, domain.TransitionAdvance, "", at)
}

// ForceAdvance is Advance with the forcing reason kept in the audit trail.
func ForceAdvance(s domain.ProjectState, reason, at string) (domain.ProjectState, error) {
	if reason == "" {
		reason = "forced"
	}
	return advance(s, domain.TransitionForceAdvance, reason, at)
}

func advance(s domain.ProjectState, kind domain.TransitionKind, reason, at string) (domain.ProjectState, error) {
	if s.Completed() {
		return s, ErrTerminal
	}
	next := s.Clone()
	from := s.Phase
	to, ok := from.Next()
	if !ok {
		to = domain.PhaseCompleted
		next.Status = domain.StatusCompleted
	}
	next.Phase = to
	next.Iteration = 0
	next.FromRollback = false
	next.Mode = domain.ModeDeveloper
	next.UpdatedAt = at
	next.Transitions = append(next.Transitions, domain.Transition{From: from, To: to, Kind: kind, Reason: reason, At: at})
	if to == domain.PhaseCompleted {
		next.Transitions = append(next.Transitions, domain.Transition{From: from, To: to, Kind: domain.TransitionComplete, At: at})
	}
	return next, nil
}

// Rollback returns to an earlier phase, counting the rollback against the target.
func Rollback(s domain.ProjectState, target domain.Phase, reason, at string) (domain.ProjectState, error) {
	if s.Completed() {
		return s, ErrTerminal
	}
	if !target.Before(s.Phase) {
		return s, fmt.Errorf("%w: rollback %s -> %s", ErrInvalidTransition, s.Phase, target)
	}
	next := s.Clone()
	next.RollbackCounts[target]++
	next.Transitions = append(next.Transitions, domain.Transition{From: s.Phase, To: target, Kind: domain.TransitionRollback, Reason: reason, At: at})
	next.Phase = target
	next.Iteration = 0
	next.FromRollback = true
	next.Mode = domain.ModeDeveloper
	next.UpdatedAt = at
	return next, nil
}

// Apply performs the transition a verdict calls for. CONTINUE keeps the phase.
func Apply(s domain.ProjectState, v domain.Verdict, at string) (domain.ProjectState, error) {
	switch v.Kind {
	case domain.VerdictPass:
		return Advance(s, at)
	case domain.VerdictForceAdvance:
		return ForceAdvance(s, v.Reason, at)
	case domain.VerdictRollback:
		return Rollback(s, v.Target, v.Reason, at)
	case domain.VerdictContinue:
		if s.Completed() {
			return s, ErrTerminal
		}
		return s.Clone(), nil
	}
	return s, fmt.Errorf("%w: unknown verdict %q", ErrInvalidTransition, v.Kind)
}
