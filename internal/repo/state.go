package repo

import (
	"context"
	"database/sql"
)

// Checkpoint is one persisted project state. Rows are never updated.
type Checkpoint struct {
	ID        int64
	ProjectID string
	StateJSON string
	Reason    string
	CreatedAt string
}

func (r Repo) InsertCheckpointTx(ctx context.Context, tx *sql.Tx, cp Checkpoint) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO state_checkpoints(project_id,state_json,reason,created_at) VALUES (?,?,?,?)`,
		cp.ProjectID, cp.StateJSON, nullable(cp.Reason), cp.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCheckpoints returns up to limit checkpoints newest first. limit <= 0 returns all.
func (r Repo) ListCheckpoints(ctx context.Context, tx *sql.Tx, projectID string, limit int) ([]Checkpoint, error) {
	query := `SELECT id,project_id,state_json,COALESCE(reason,''),created_at FROM state_checkpoints WHERE project_id=? ORDER BY id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.ID, &cp.ProjectID, &cp.StateJSON, &cp.Reason, &cp.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, cp)
	}
	return res, rows.Err()
}
