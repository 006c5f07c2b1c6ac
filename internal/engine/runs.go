package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"phasegate/internal/domain"
	"phasegate/internal/events"
	"phasegate/internal/repo"
)

// StartRun records a workflow run as RUNNING.
func (e Engine) StartRun(ctx context.Context, run domain.Run, actorID string) (domain.Run, error) {
	run.Status = domain.RunRunning
	run.StartedAt = e.stamp()
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Entry{
			Type: events.RunStarted, ProjectID: run.ProjectID, EntityKind: "run", EntityID: run.ID, ActorID: actorID,
			Payload: events.EventPayload{"policy": run.Policy, "params": json.RawMessage(run.ParamsJSON)},
		})
	})
	return run, err
}

// FinishRun stores the summary and final status of a run.
func (e Engine) FinishRun(ctx context.Context, projectID string, summary domain.RunSummary, actorID string) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.FinishRunTx(ctx, tx, summary.RunID, summary.Status, string(data), e.stamp()); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Entry{
			Type: events.RunFinished, ProjectID: projectID, EntityKind: "run", EntityID: summary.RunID, ActorID: actorID,
			Payload: events.EventPayload{
				"status":           summary.Status,
				"total_iterations": summary.TotalIterations,
				"phases_completed": len(summary.PhasesCompleted),
				"final_score":      summary.FinalScore,
				"error":            summary.Error,
			},
		})
	})
}

// Run returns one run of the project.
func (e Engine) Run(ctx context.Context, projectID, runID string) (domain.Run, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.ProjectID != projectID {
		return domain.Run{}, fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}
	return run, nil
}

func (e Engine) Runs(ctx context.Context, projectID string, limit int) ([]domain.Run, error) {
	return e.Repo.ListRuns(ctx, projectID, limit)
}
