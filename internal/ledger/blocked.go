package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"phasegate/internal/db"
	"phasegate/internal/domain"
)

// AddBlocked records a MAJOR or CRITICAL issue in the blocked set.
func (l *Ledger) AddBlocked(ctx context.Context, projectID string, issue domain.Issue) error {
	return db.WithTx(ctx, l.DB, l.Retry, func(tx *sql.Tx) error {
		return l.AddBlockedTx(ctx, tx, projectID, issue)
	})
}

func (l *Ledger) AddBlockedTx(ctx context.Context, tx *sql.Tx, projectID string, issue domain.Issue) error {
	if !issue.Severity.Blocking() {
		return fmt.Errorf("severity %s does not block", issue.Severity)
	}
	if !issue.Phase.Valid() {
		return fmt.Errorf("invalid phase %q", issue.Phase)
	}
	at := l.now()
	return l.Repo.UpsertBlockedTx(ctx, tx, projectID, domain.BlockedIssue{
		Phase:       issue.Phase,
		Category:    issue.Category,
		Severity:    issue.Severity,
		Description: issue.Description,
		Iteration:   issue.Iteration,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
}

// ResolveBlocked marks the open entries of (phase, category) resolved.
func (l *Ledger) ResolveBlocked(ctx context.Context, projectID string, phase domain.Phase, category string) (int64, error) {
	var n int64
	err := db.WithTx(ctx, l.DB, l.Retry, func(tx *sql.Tx) error {
		var err error
		n, err = l.ResolveBlockedTx(ctx, tx, projectID, phase, category)
		return err
	})
	return n, err
}

func (l *Ledger) ResolveBlockedTx(ctx context.Context, tx *sql.Tx, projectID string, phase domain.Phase, category string) (int64, error) {
	return l.Repo.ResolveBlockedTx(ctx, tx, projectID, phase, category, l.now())
}

// ClearBlocked empties the blocked set of the project.
func (l *Ledger) ClearBlocked(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := db.WithTx(ctx, l.DB, l.Retry, func(tx *sql.Tx) error {
		var err error
		n, err = l.ClearBlockedTx(ctx, tx, projectID)
		return err
	})
	return n, err
}

func (l *Ledger) ClearBlockedTx(ctx context.Context, tx *sql.Tx, projectID string) (int64, error) {
	return l.Repo.ClearBlockedTx(ctx, tx, projectID)
}

func (l *Ledger) ListBlocked(ctx context.Context, projectID string, unresolvedOnly bool) ([]domain.BlockedIssue, error) {
	var res []domain.BlockedIssue
	err := db.Retry(ctx, l.Retry, func() error {
		var err error
		res, err = l.Repo.ListBlocked(ctx, nil, projectID, !unresolvedOnly)
		return err
	})
	return res, err
}

// Reconcile brings the blocked set of phase in line with the issues of one
// review: blocking issues are upserted and open categories that no longer
// appear are resolved.
func (l *Ledger) Reconcile(ctx context.Context, tx *sql.Tx, projectID string, phase domain.Phase, issues []domain.Issue) (added []domain.Issue, resolved []string, err error) {
	present := map[string]bool{}
	for _, is := range issues {
		if !is.Severity.Blocking() {
			continue
		}
		is.Phase = phase
		if err := l.AddBlockedTx(ctx, tx, projectID, is); err != nil {
			return nil, nil, err
		}
		present[is.Category] = true
		added = append(added, is)
	}
	open, err := l.Repo.ListBlocked(ctx, tx, projectID, false)
	if err != nil {
		return nil, nil, err
	}
	seen := map[string]bool{}
	for _, b := range open {
		if b.Phase != phase || present[b.Category] || seen[b.Category] {
			continue
		}
		seen[b.Category] = true
		if _, err := l.ResolveBlockedTx(ctx, tx, projectID, phase, b.Category); err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, b.Category)
	}
	return added, resolved, nil
}
