package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"phasegate/internal/checklist"
	"phasegate/internal/domain"
	"phasegate/internal/machine"
	"phasegate/internal/repo"
)

var ErrRollbackBudget = errors.New("rollback budget exhausted")

// Status reports the lifecycle position of a project.
func (e Engine) Status(ctx context.Context, projectID string) (domain.Status, error) {
	s, err := e.LoadState(ctx, projectID)
	if err != nil {
		return domain.Status{}, err
	}
	st := s.View()
	lg := e.Ledger()
	blocked, err := lg.ListBlocked(ctx, projectID, true)
	if err != nil {
		return st, err
	}
	st.BlockedIssueCount = len(blocked)
	if s.Completed() {
		return st, nil
	}
	snap, err := lg.Latest(ctx, projectID, s.Phase)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return st, err
	default:
		st.NextImprovement = checklist.NextImprovement(snap.Issues)
	}
	return st, nil
}

// SetMode switches between developer and reviewer for the current phase.
func (e Engine) SetMode(ctx context.Context, projectID string, mode domain.Mode, actorID string) (domain.ProjectState, error) {
	return e.mutate(ctx, projectID, "mode "+string(mode), actorID, func(s domain.ProjectState, at string) (domain.ProjectState, error) {
		if s.Completed() {
			return s, machine.ErrTerminal
		}
		if s.Mode == mode {
			return s, nil
		}
		return machine.SetMode(s, mode, at)
	})
}

// ForceAdvance moves past the current phase regardless of its score.
func (e Engine) ForceAdvance(ctx context.Context, projectID, reason, actorID string) (domain.ProjectState, error) {
	if reason == "" {
		reason = "manual force advance"
	}
	next, err := e.mutate(ctx, projectID, "force_advance", actorID, func(s domain.ProjectState, at string) (domain.ProjectState, error) {
		return machine.ForceAdvance(s, reason, at)
	})
	if err == nil {
		e.logger().Info("phase force advanced", zap.String("project_id", projectID), zap.String("phase", string(next.Phase)), zap.String("reason", reason))
	}
	return next, err
}

// Rollback returns to an earlier phase. The rollback budget of the current
// phase applies exactly as it does for gate verdicts.
func (e Engine) Rollback(ctx context.Context, projectID string, target domain.Phase, reason, actorID string) (domain.ProjectState, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	if reason == "" {
		reason = "manual rollback"
	}
	next, err := e.mutate(ctx, projectID, "rollback", actorID, func(s domain.ProjectState, at string) (domain.ProjectState, error) {
		if s.Completed() {
			return s, machine.ErrTerminal
		}
		pc, err := cfg.Phase(s.Phase)
		if err != nil {
			return s, err
		}
		if s.RollbackCounts[target] >= pc.MaxRollbacks {
			return s, fmt.Errorf("%w: %s rolled back %d/%d times", ErrRollbackBudget, target, s.RollbackCounts[target], pc.MaxRollbacks)
		}
		return machine.Rollback(s, target, reason, at)
	})
	if err == nil {
		e.logger().Info("phase rolled back", zap.String("project_id", projectID), zap.String("phase", string(target)), zap.String("reason", reason))
	}
	return next, err
}

// Artifact returns the reviewed content stored for (phase, attempt).
func (e Engine) Artifact(ctx context.Context, projectID string, phase domain.Phase, attempt int) (domain.Artifact, error) {
	return e.Repo.GetArtifact(ctx, projectID, phase, attempt)
}
