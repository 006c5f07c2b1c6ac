package repo

import (
	"context"
	"database/sql"

	"phasegate/internal/domain"
)

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO runs(id,project_id,policy,params_json,status,started_at) VALUES (?,?,?,?,?,?)`,
		run.ID, run.ProjectID, run.Policy, run.ParamsJSON, run.Status, run.StartedAt)
	return err
}

func (r Repo) FinishRunTx(ctx context.Context, tx *sql.Tx, id, status, summaryJSON, finishedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE runs SET status=?, summary_json=?, finished_at=? WHERE id=?`, status, summaryJSON, finishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id,project_id,policy,params_json,status,COALESCE(summary_json,''),started_at,COALESCE(finished_at,'')`

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(&run.ID, &run.ProjectID, &run.Policy, &run.ParamsJSON, &run.Status, &run.Summary, &run.StartedAt, &run.FinishedAt)
	return run, err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r Repo) ListRuns(ctx context.Context, projectID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE project_id=? ORDER BY started_at DESC, id LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
