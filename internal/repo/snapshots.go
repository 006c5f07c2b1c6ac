package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"phasegate/internal/domain"
)

// InsertSnapshotTx stores an issue snapshot. An existing (phase, iteration) key yields ErrConflict.
func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.Snapshot) error {
	issues, err := json.Marshal(nonNilIssues(s.Issues))
	if err != nil {
		return err
	}
	breakdown, err := json.Marshal(nonNilBreakdown(s.Breakdown))
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO issue_snapshots(project_id,phase,iteration,score,issues_json,breakdown_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ProjectID, string(s.Phase), s.Iteration, s.Score, string(issues), string(breakdown), s.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("snapshot %s/%d: %w", s.Phase, s.Iteration, ErrConflict)
	}
	return err
}

const snapshotColumns = `project_id,phase,iteration,score,issues_json,breakdown_json,created_at`

func (r Repo) GetSnapshot(ctx context.Context, projectID string, phase domain.Phase, iteration int) (domain.Snapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM issue_snapshots WHERE project_id=? AND phase=? AND iteration=?`,
		projectID, string(phase), iteration)
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ListSnapshots returns snapshots in lifecycle order, then iteration. An empty phase lists all.
func (r Repo) ListSnapshots(ctx context.Context, projectID string, phase domain.Phase) ([]domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM issue_snapshots WHERE project_id=?`
	args := []any{projectID}
	if phase != "" {
		query += ` AND phase=?`
		args = append(args, string(phase))
	}
	query += ` ORDER BY created_at, iteration`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSnapshots(res)
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (domain.Snapshot, error) {
	var s domain.Snapshot
	var phase, issues, breakdown string
	if err := row.Scan(&s.ProjectID, &phase, &s.Iteration, &s.Score, &issues, &breakdown, &s.CreatedAt); err != nil {
		return s, err
	}
	s.Phase = domain.Phase(phase)
	if err := json.Unmarshal([]byte(issues), &s.Issues); err != nil {
		return s, fmt.Errorf("decode snapshot issues %s/%d: %w", phase, s.Iteration, err)
	}
	if err := json.Unmarshal([]byte(breakdown), &s.Breakdown); err != nil {
		return s, fmt.Errorf("decode snapshot breakdown %s/%d: %w", phase, s.Iteration, err)
	}
	return s, nil
}

func sortSnapshots(s []domain.Snapshot) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Phase != s[j].Phase {
			return s[i].Phase.Index() < s[j].Phase.Index()
		}
		return s[i].Iteration < s[j].Iteration
	})
}

func nonNilIssues(v []domain.Issue) []domain.Issue {
	if v == nil {
		return []domain.Issue{}
	}
	return v
}

func nonNilBreakdown(v []domain.CriterionScore) []domain.CriterionScore {
	if v == nil {
		return []domain.CriterionScore{}
	}
	return v
}
