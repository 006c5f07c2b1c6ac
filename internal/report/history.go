package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/events"
	"phasegate/internal/repo"
)

// History returns up to limit events of a project oldest first.
func History(ctx context.Context, e engine.Engine, projectID string, limit int) ([]domain.Event, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	return e.Repo.EventsAfter(ctx, repo.EventFilter{ProjectID: projectID, Limit: limit})
}

// ReviewHistory renders the decision and review log as a markdown table.
func ReviewHistory(evs []domain.Event) string {
	var b strings.Builder
	b.WriteString("# Review history\n\n")
	if len(evs) == 0 {
		b.WriteString("_no events_\n")
		return b.String()
	}
	tw := newTable(table.Row{"#", "Time", "Event", "Entity", "Actor", "Detail"})
	for _, ev := range evs {
		entity := ev.EntityKind
		if ev.EntityID != "" {
			entity += " " + ev.EntityID
		}
		tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, entity, ev.ActorID, Detail(ev)})
	}
	b.WriteString(tw.RenderMarkdown() + "\n")
	return b.String()
}

// Detail summarises an event payload in one line.
func Detail(ev domain.Event) string {
	var p map[string]any
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil || p == nil {
		return ""
	}
	switch ev.Type {
	case events.ReviewRecorded:
		issues, _ := p["issues"].([]any)
		s := fmt.Sprintf("score %v, %d issues", p["score"], len(issues))
		if next, _ := p["next_improvement"].(string); next != "" {
			s += "; next: " + next
		}
		return s
	case events.VerdictDecided:
		s := fmt.Sprint(p["verdict"])
		if target, _ := p["target"].(string); target != "" {
			s += " to " + target
		}
		if reason, _ := p["reason"].(string); reason != "" {
			s += " (" + reason + ")"
		}
		if held, _ := p["held"].(bool); held {
			s += ", held"
		}
		return s
	case events.PhaseAdvanced, events.PhaseForced, events.PhaseRolledBack, events.ProjectCompleted:
		s := fmt.Sprintf("%v -> %v", p["from"], p["to"])
		if reason, _ := p["reason"].(string); reason != "" {
			s += " (" + reason + ")"
		}
		return s
	case events.ModeChanged:
		return fmt.Sprintf("%v -> %v", p["from"], p["to"])
	case events.BlockedAdded:
		return fmt.Sprintf("%v %v", p["severity"], p["description"])
	case events.BlockedCleared:
		return fmt.Sprintf("%v cleared", p["cleared"])
	case events.ContentUnavailable:
		return fmt.Sprint(p["error"])
	case events.RunStarted:
		return fmt.Sprint(p["policy"])
	case events.RunFinished:
		return fmt.Sprintf("%v after %v iterations", p["status"], p["total_iterations"])
	}
	return ""
}
