package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"phasegate/internal/domain"
)

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	// Before returns events with id < Before (newest first) when positive.
	Before int64
	// After returns events with id > After (oldest first) when positive.
	After int64
	Limit int
}

func (f EventFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.ProjectID != "" {
		add("project_id=?", f.ProjectID)
	}
	if f.Type != "" {
		add("type=?", f.Type)
	}
	if f.EntityKind != "" {
		add("entity_kind=?", f.EntityKind)
	}
	if f.EntityID != "" {
		add("entity_id=?", f.EntityID)
	}
	if f.Before > 0 {
		add("id<?", f.Before)
	}
	if f.After > 0 {
		add("id>?", f.After)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	where, args := f.where()
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	return r.queryEvents(ctx, query, append(args, f.Limit)...)
}

// EventsAfter returns events with IDs greater than f.After in ascending order.
func (r Repo) EventsAfter(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	where, args := f.where()
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	return r.queryEvents(ctx, query, append(args, f.Limit)...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id, err
}
