package repo

import (
	"context"
	"database/sql"
	"fmt"

	"phasegate/internal/domain"
)

// InsertArtifactTx stores the reviewed content for (phase, iteration). Artifacts are create-only.
func (r Repo) InsertArtifactTx(ctx context.Context, tx *sql.Tx, projectID string, a domain.Artifact, at string) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO artifacts(project_id,phase,iteration,content,source,created_at) VALUES (?,?,?,?,?,?)`,
		projectID, string(a.Phase), a.Iteration, a.Content, nullable(a.Source), at)
	if isUniqueViolation(err) {
		return fmt.Errorf("artifact %s/%d: %w", a.Phase, a.Iteration, ErrConflict)
	}
	return err
}

func (r Repo) GetArtifact(ctx context.Context, projectID string, phase domain.Phase, iteration int) (domain.Artifact, error) {
	a := domain.Artifact{Phase: phase, Iteration: iteration}
	err := r.DB.QueryRowContext(ctx, `SELECT content,COALESCE(source,'') FROM artifacts WHERE project_id=? AND phase=? AND iteration=?`,
		projectID, string(phase), iteration).Scan(&a.Content, &a.Source)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}
