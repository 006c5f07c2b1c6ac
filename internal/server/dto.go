package server

import (
	"encoding/json"

	"phasegate/internal/domain"
	"phasegate/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	// ConfigYAML replaces the default phase configuration.
	ConfigYAML string `json:"config_yaml,omitempty"`
}

type PutConfigRequest struct {
	YAML string `json:"yaml"`
}

type EvaluateRequest struct {
	Phase   string `json:"phase,omitempty"`
	Content string `json:"content"`
}

type DecideRequest struct {
	Phase     string         `json:"phase,omitempty"`
	Score     float64        `json:"score" minimum:"0" maximum:"100"`
	Issues    []domain.Issue `json:"issues,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	PassScore float64        `json:"pass_score,omitempty"`
}

type ReviewRequest struct {
	Phase      string  `json:"phase,omitempty"`
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	PassScore  float64 `json:"pass_score,omitempty"`
	HoldOnPass bool    `json:"hold_on_pass,omitempty"`
}

type RunRequest struct {
	Policy             string  `json:"policy,omitempty" enum:"standard,target,continuous"`
	TargetScore        float64 `json:"target_score,omitempty"`
	ExtraIterations    int     `json:"extra_iterations,omitempty"`
	MaxPhases          int     `json:"max_phases,omitempty"`
	MaxTotalIterations int     `json:"max_total_iterations,omitempty"`
}

type ModeRequest struct {
	Mode string `json:"mode" enum:"developer,reviewer"`
}

type ForceAdvanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RollbackRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type VerdictResponse struct {
	Verdict domain.Verdict `json:"verdict"`
}

type ReviewResponse = engine.ReviewResult

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type BlockedResponse struct {
	Items []domain.BlockedIssue `json:"items"`
}

type ApiErrorResponse struct {
	Error apiErrorBody `json:"error"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	var payload json.RawMessage
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
