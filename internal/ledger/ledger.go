// Package ledger keeps the durable issue history of a project: immutable
// per-iteration snapshots and the mutable set of blocking issues.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phasegate/internal/db"
	"phasegate/internal/domain"
	"phasegate/internal/repo"
)

var ErrDuplicateSnapshot = errors.New("duplicate snapshot")

// DuplicateSnapshotError reports a second write to an existing (phase, iteration).
type DuplicateSnapshotError struct {
	ProjectID string
	Phase     domain.Phase
	Iteration int
}

func (e *DuplicateSnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s/%s/%d already exists", e.ProjectID, e.Phase, e.Iteration)
}

func (e *DuplicateSnapshotError) Is(target error) bool { return target == ErrDuplicateSnapshot }

type Ledger struct {
	DB    *sql.DB
	Repo  repo.Repo
	Retry db.RetryConfig
	Now   func() time.Time
}

func New(conn *sql.DB, retry db.RetryConfig) *Ledger {
	return &Ledger{DB: conn, Repo: repo.Repo{DB: conn}, Retry: retry}
}

func (l *Ledger) now() string {
	if l.Now != nil {
		return l.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Save writes the snapshot for (phase, iteration) in its own transaction.
func (l *Ledger) Save(ctx context.Context, projectID string, phase domain.Phase, iteration int, score float64, issues []domain.Issue, breakdown []domain.CriterionScore) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := db.WithTx(ctx, l.DB, l.Retry, func(tx *sql.Tx) error {
		var err error
		snap, err = l.SaveTx(ctx, tx, projectID, phase, iteration, score, issues, breakdown)
		return err
	})
	return snap, err
}

// SaveTx stamps issues with phase, iteration and time and writes the snapshot inside tx.
func (l *Ledger) SaveTx(ctx context.Context, tx *sql.Tx, projectID string, phase domain.Phase, iteration int, score float64, issues []domain.Issue, breakdown []domain.CriterionScore) (domain.Snapshot, error) {
	if !phase.Valid() {
		return domain.Snapshot{}, fmt.Errorf("invalid phase %q", phase)
	}
	if iteration < 1 {
		return domain.Snapshot{}, fmt.Errorf("invalid iteration %d", iteration)
	}
	at := l.now()
	stamped := make([]domain.Issue, len(issues))
	for i, is := range issues {
		is.Phase = phase
		is.Iteration = iteration
		is.Timestamp = at
		stamped[i] = is
	}
	snap := domain.Snapshot{
		ProjectID: projectID,
		Phase:     phase,
		Iteration: iteration,
		Score:     score,
		Issues:    stamped,
		Breakdown: append([]domain.CriterionScore{}, breakdown...),
		CreatedAt: at,
	}
	if err := l.Repo.InsertSnapshotTx(ctx, tx, snap); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Snapshot{}, &DuplicateSnapshotError{ProjectID: projectID, Phase: phase, Iteration: iteration}
		}
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (l *Ledger) Load(ctx context.Context, projectID string, phase domain.Phase, iteration int) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := db.Retry(ctx, l.Retry, func() error {
		var err error
		snap, err = l.Repo.GetSnapshot(ctx, projectID, phase, iteration)
		return err
	})
	return snap, err
}

// List returns snapshots in lifecycle then iteration order. An empty phase lists every phase.
func (l *Ledger) List(ctx context.Context, projectID string, phase domain.Phase) ([]domain.Snapshot, error) {
	var res []domain.Snapshot
	err := db.Retry(ctx, l.Retry, func() error {
		var err error
		res, err = l.Repo.ListSnapshots(ctx, projectID, phase)
		return err
	})
	return res, err
}

// Latest returns the most recent snapshot of phase.
func (l *Ledger) Latest(ctx context.Context, projectID string, phase domain.Phase) (domain.Snapshot, error) {
	list, err := l.List(ctx, projectID, phase)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(list) == 0 {
		return domain.Snapshot{}, repo.ErrNotFound
	}
	return list[len(list)-1], nil
}

// Statistics counts issues by severity and phase across every snapshot.
func (l *Ledger) Statistics(ctx context.Context, projectID string) (domain.Statistics, error) {
	stats := domain.Statistics{
		BySeverity: map[domain.Severity]int{
			domain.SeverityCritical: 0,
			domain.SeverityMajor:    0,
			domain.SeverityMinor:    0,
		},
		ByPhase: map[domain.Phase]domain.PhaseStats{},
	}
	snaps, err := l.List(ctx, projectID, "")
	if err != nil {
		return stats, err
	}
	for _, s := range snaps {
		ps := stats.ByPhase[s.Phase]
		ps.Snapshots++
		for _, is := range s.Issues {
			ps.Total++
			stats.Total++
			stats.BySeverity[is.Severity]++
			switch is.Severity {
			case domain.SeverityCritical:
				ps.Critical++
			case domain.SeverityMajor:
				ps.Major++
			case domain.SeverityMinor:
				ps.Minor++
			}
		}
		stats.ByPhase[s.Phase] = ps
	}
	return stats, nil
}
