package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the decision and review history log.
const (
	ProjectInit        = "project.init"
	ConfigUpdated      = "config.updated"
	ModeChanged        = "mode.changed"
	ArtifactProduced   = "artifact.produced"
	ReviewRecorded     = "review.recorded"
	VerdictDecided     = "verdict.decided"
	PhaseAdvanced      = "phase.advanced"
	PhaseForced        = "phase.forced"
	PhaseRolledBack    = "phase.rolled_back"
	ProjectCompleted   = "project.completed"
	BlockedAdded       = "blocked.added"
	BlockedResolved    = "blocked.resolved"
	BlockedCleared     = "blocked.cleared"
	StateRecovered     = "state.recovered"
	RunStarted         = "run.started"
	RunFinished        = "run.finished"
	ContentUnavailable = "content.unavailable"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one row of the audit log.
type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes entries inside tx so they commit or roll back with the change they describe.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entries ...Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		payload := e.Payload
		if payload == nil {
			payload = EventPayload{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		actor := e.ActorID
		if actor == "" {
			actor = "system"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
			ts, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), actor, string(data)); err != nil {
			return fmt.Errorf("append %s: %w", e.Type, err)
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
