package repo

import (
	"context"
	"database/sql"

	"phasegate/internal/domain"
)

// UpsertBlockedTx records a blocking issue, reopening it if it was resolved.
func (r Repo) UpsertBlockedTx(ctx context.Context, tx *sql.Tx, projectID string, b domain.BlockedIssue) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO blocked_issues(project_id,phase,category,severity,description,iteration,resolved,created_at,updated_at)
VALUES (?,?,?,?,?,?,0,?,?)
ON CONFLICT(project_id,phase,category,severity) DO UPDATE SET
  description=excluded.description, iteration=excluded.iteration, resolved=0, updated_at=excluded.updated_at`,
		projectID, string(b.Phase), b.Category, string(b.Severity), b.Description, b.Iteration, b.CreatedAt, b.UpdatedAt)
	return err
}

// ResolveBlockedTx marks open entries of the category resolved and returns how many changed.
func (r Repo) ResolveBlockedTx(ctx context.Context, tx *sql.Tx, projectID string, phase domain.Phase, category, at string) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE blocked_issues SET resolved=1, updated_at=? WHERE project_id=? AND phase=? AND category=? AND resolved=0`,
		at, projectID, string(phase), category)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearBlockedTx removes every entry of the project.
func (r Repo) ClearBlockedTx(ctx context.Context, tx *sql.Tx, projectID string) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM blocked_issues WHERE project_id=?`, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListBlocked(ctx context.Context, tx *sql.Tx, projectID string, includeResolved bool) ([]domain.BlockedIssue, error) {
	query := `SELECT phase,category,severity,description,iteration,resolved,created_at,updated_at FROM blocked_issues WHERE project_id=?`
	if !includeResolved {
		query += ` AND resolved=0`
	}
	query += ` ORDER BY created_at, phase, category, severity`
	rows, err := r.conn(tx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.BlockedIssue{}
	for rows.Next() {
		var b domain.BlockedIssue
		var phase, severity string
		var resolved int
		if err := rows.Scan(&phase, &b.Category, &severity, &b.Description, &b.Iteration, &resolved, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Phase = domain.Phase(phase)
		b.Severity = domain.Severity(severity)
		b.Resolved = resolved != 0
		res = append(res, b)
	}
	return res, rows.Err()
}
