package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/domain"
	"phasegate/internal/events"
	"phasegate/internal/ledger"
	"phasegate/internal/logging"
	"phasegate/internal/metrics"
	"phasegate/internal/repo"
)

type Engine struct {
	DB   *sql.DB
	Repo repo.Repo
	// Config is used for projects that have no stored configuration.
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string { return e.now().UTC().Format(time.RFC3339) }

func (e Engine) logger() *zap.Logger { return logging.OrNop(e.Logger) }

func (e Engine) events() events.Writer { return events.Writer{Now: e.now} }

func (e Engine) retry() db.RetryConfig {
	cfg := e.Config
	if cfg == nil {
		return db.RetryConfig{}
	}
	return db.RetryConfig{InitialInterval: cfg.RetryInitialInterval(), MaxElapsed: cfg.RetryMaxElapsed()}
}

// Ledger returns the issue ledger bound to the engine's storage and clock.
func (e Engine) Ledger() *ledger.Ledger {
	return &ledger.Ledger{DB: e.DB, Repo: e.Repo, Retry: e.retry(), Now: e.now}
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.WithTx(ctx, e.DB, e.retry(), fn)
}

// InitProject creates the project, stores its configuration and writes the initial state.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string, cfg *config.Config) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, fmt.Errorf("project id required")
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	at := e.stamp()
	p := domain.Project{
		ID:          projectID,
		Status:      domain.StatusInProgress,
		Description: description,
		CreatedAt:   at,
	}
	state := domain.NewProjectState(projectID, at)
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
			return fmt.Errorf("insert project config: %w", err)
		}
		if err := e.checkpointTx(ctx, tx, state, "init"); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Entry{
			Type: events.ProjectInit, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: actorID,
			Payload: events.EventPayload{"status": p.Status, "phase": state.Phase},
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.logger().Info("project initialised", zap.String("project_id", p.ID))
	return p, nil
}

// ProjectConfig returns the stored configuration, falling back to the engine default.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil {
			cp := *e.Config
			cp.Project.ID = projectID
			return &cp, nil
		}
		return config.Default(projectID), nil
	}
	return cfg, err
}

// UpdateConfig validates and replaces the project configuration.
func (e Engine) UpdateConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Entry{
			Type: events.ConfigUpdated, ProjectID: projectID, EntityKind: "config", EntityID: projectID, ActorID: actorID,
		})
	})
}

func (e Engine) checkpointTx(ctx context.Context, tx *sql.Tx, s domain.ProjectState, reason string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = e.Repo.InsertCheckpointTx(ctx, tx, repo.Checkpoint{
		ProjectID: s.ProjectID,
		StateJSON: string(data),
		Reason:    reason,
		CreatedAt: e.stamp(),
	})
	return err
}

// LoadState returns the current project state, recovering from corrupt checkpoints.
func (e Engine) LoadState(ctx context.Context, projectID string) (domain.ProjectState, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ProjectState{}, err
	}
	var s domain.ProjectState
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		s, err = e.loadStateTx(ctx, tx, projectID)
		return err
	})
	return s, err
}

// loadStateTx walks checkpoints newest first and returns the first one that
// validates. When none does, the state is reinitialised and marked recovered.
func (e Engine) loadStateTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.ProjectState, error) {
	cps, err := e.Repo.ListCheckpoints(ctx, tx, projectID, 0)
	if err != nil {
		return domain.ProjectState{}, err
	}
	for i, cp := range cps {
		var s domain.ProjectState
		if err := json.Unmarshal([]byte(cp.StateJSON), &s); err != nil {
			e.logger().Warn("undecodable state checkpoint", zap.String("project_id", projectID), zap.Int64("checkpoint", cp.ID), zap.Error(err))
			continue
		}
		if s.ProjectID != projectID {
			e.logger().Warn("state checkpoint belongs to another project", zap.String("project_id", projectID), zap.Int64("checkpoint", cp.ID))
			continue
		}
		if err := s.Validate(); err != nil {
			e.logger().Warn("invalid state checkpoint", zap.String("project_id", projectID), zap.Int64("checkpoint", cp.ID), zap.Error(err))
			continue
		}
		if i > 0 {
			e.logger().Warn("resumed from last known good state",
				zap.String("project_id", projectID), zap.Int64("checkpoint", cp.ID), zap.Int("skipped", i))
		}
		return s.Clone(), nil
	}

	s := domain.NewProjectState(projectID, e.stamp())
	if len(cps) == 0 {
		return s, e.checkpointTx(ctx, tx, s, "init")
	}
	s.Recovered = true
	e.logger().Warn("project state lost; reinitialised",
		zap.String("project_id", projectID), zap.Int("discarded_checkpoints", len(cps)))
	metrics.Get().StateRecoveries.Inc()
	if err := e.checkpointTx(ctx, tx, s, "recovered"); err != nil {
		return s, err
	}
	return s, e.events().Append(ctx, tx, events.Entry{
		Type: events.StateRecovered, ProjectID: projectID, EntityKind: "state", EntityID: projectID,
		Payload: events.EventPayload{"discarded_checkpoints": len(cps)},
	})
}

var transitionEvents = map[domain.TransitionKind]string{
	domain.TransitionAdvance:      events.PhaseAdvanced,
	domain.TransitionForceAdvance: events.PhaseForced,
	domain.TransitionRollback:     events.PhaseRolledBack,
	domain.TransitionComplete:     events.ProjectCompleted,
}

// commitStateTx persists next and records what changed since prev. Any phase
// transition empties the blocked set.
func (e Engine) commitStateTx(ctx context.Context, tx *sql.Tx, prev, next domain.ProjectState, reason, actorID string) error {
	if err := e.checkpointTx(ctx, tx, next, reason); err != nil {
		return err
	}
	var entries []events.Entry
	if prev.Mode != next.Mode && prev.Phase == next.Phase {
		entries = append(entries, events.Entry{
			Type: events.ModeChanged, EntityKind: "state", EntityID: next.ProjectID,
			Payload: events.EventPayload{"from": prev.Mode, "to": next.Mode, "phase": next.Phase},
		})
	}
	added := next.Transitions[len(prev.Transitions):]
	for _, t := range added {
		entries = append(entries, events.Entry{
			Type: transitionEvents[t.Kind], EntityKind: "phase", EntityID: string(t.From),
			Payload: events.EventPayload{"from": t.From, "to": t.To, "reason": t.Reason},
		})
	}
	if len(added) > 0 {
		n, err := e.Repo.ClearBlockedTx(ctx, tx, next.ProjectID)
		if err != nil {
			return err
		}
		if n > 0 {
			entries = append(entries, events.Entry{
				Type: events.BlockedCleared, EntityKind: "blocked", EntityID: next.ProjectID,
				Payload: events.EventPayload{"cleared": n, "phase": prev.Phase},
			})
		}
	}
	if next.Status != prev.Status {
		if err := e.Repo.UpdateProjectStatusTx(ctx, tx, next.ProjectID, next.Status); err != nil {
			return err
		}
	}
	for i := range entries {
		entries[i].ProjectID = next.ProjectID
		entries[i].ActorID = actorID
	}
	return e.events().Append(ctx, tx, entries...)
}

// mutate loads the state, applies fn and commits the result in one transaction.
func (e Engine) mutate(ctx context.Context, projectID, reason, actorID string, fn func(domain.ProjectState, string) (domain.ProjectState, error)) (domain.ProjectState, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ProjectState{}, err
	}
	var next domain.ProjectState
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := e.loadStateTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		next, err = fn(prev, e.stamp())
		if err != nil {
			return err
		}
		return e.commitStateTx(ctx, tx, prev, next, reason, actorID)
	})
	return next, err
}
