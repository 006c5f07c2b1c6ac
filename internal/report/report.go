// Package report renders project reports and the review history as markdown.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"phasegate/internal/domain"
	"phasegate/internal/engine"
)

// Data is everything a project report shows.
type Data struct {
	Project     domain.Project        `json:"project"`
	Status      domain.Status         `json:"status"`
	Snapshots   []domain.Snapshot     `json:"snapshots"`
	Blocked     []domain.BlockedIssue `json:"blocked"`
	Statistics  domain.Statistics     `json:"statistics"`
	Runs        []domain.Run          `json:"runs"`
	GeneratedAt string                `json:"generated_at" format:"date-time"`
}

// Collect gathers the report data for a project.
func Collect(ctx context.Context, e engine.Engine, projectID string) (Data, error) {
	var d Data
	var err error
	if d.Project, err = e.Repo.GetProject(ctx, projectID); err != nil {
		return d, err
	}
	if d.Status, err = e.Status(ctx, projectID); err != nil {
		return d, err
	}
	lg := e.Ledger()
	if d.Snapshots, err = lg.List(ctx, projectID, ""); err != nil {
		return d, err
	}
	if d.Blocked, err = lg.ListBlocked(ctx, projectID, true); err != nil {
		return d, err
	}
	if d.Statistics, err = lg.Statistics(ctx, projectID); err != nil {
		return d, err
	}
	if d.Runs, err = e.Runs(ctx, projectID, 10); err != nil {
		return d, err
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	d.GeneratedAt = now().UTC().Format(time.RFC3339)
	return d, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(header)
	return tw
}

func score(v float64) string { return fmt.Sprintf("%.2f", v) }

// Markdown renders the project report.
func Markdown(d Data) string {
	var b strings.Builder
	st := d.Status
	fmt.Fprintf(&b, "# Project report: %s\n\n", d.Project.ID)
	if d.Project.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", d.Project.Description)
	}
	fmt.Fprintf(&b, "- Status: %s\n", st.Status)
	fmt.Fprintf(&b, "- Current phase: %s\n", st.CurrentPhase)
	fmt.Fprintf(&b, "- Iteration: %d\n", st.Iteration)
	fmt.Fprintf(&b, "- Mode: %s\n", st.Mode)
	if st.LatestScore != nil {
		fmt.Fprintf(&b, "- Latest score: %s\n", score(*st.LatestScore))
	}
	fmt.Fprintf(&b, "- Rollbacks: %d\n", st.RollbackCount)
	fmt.Fprintf(&b, "- Unresolved blocked issues: %d\n", st.BlockedIssueCount)
	if st.Recovered {
		b.WriteString("- State was reinitialised after checkpoint loss\n")
	}
	if d.GeneratedAt != "" {
		fmt.Fprintf(&b, "- Generated: %s\n", d.GeneratedAt)
	}

	b.WriteString("\n## Next improvement\n\n")
	if st.NextImprovement == "" {
		b.WriteString("_none_\n")
	} else {
		fmt.Fprintf(&b, "%s\n", st.NextImprovement)
	}

	b.WriteString("\n## Score history\n\n")
	if len(st.ScoreHistory) == 0 {
		b.WriteString("_no reviews yet_\n")
	} else {
		tw := newTable(table.Row{"#", "Phase", "Iteration", "Attempt", "Score", "At"})
		for i, s := range st.ScoreHistory {
			tw.AppendRow(table.Row{i + 1, s.Phase, s.Iteration, s.Attempt, score(s.Score), s.At})
		}
		b.WriteString(tw.RenderMarkdown() + "\n")
	}

	b.WriteString("\n## Blocked issues\n\n")
	if len(d.Blocked) == 0 {
		b.WriteString("_none_\n")
	} else {
		tw := newTable(table.Row{"Phase", "Category", "Severity", "Description", "Since"})
		for _, is := range d.Blocked {
			tw.AppendRow(table.Row{is.Phase, is.Category, is.Severity, is.Description, is.CreatedAt})
		}
		b.WriteString(tw.RenderMarkdown() + "\n")
	}

	b.WriteString("\n## Issue statistics\n\n")
	tw := newTable(table.Row{"Phase", "Snapshots", "Critical", "Major", "Minor", "Total"})
	for _, p := range domain.Phases() {
		ps, ok := d.Statistics.ByPhase[p]
		if !ok {
			continue
		}
		tw.AppendRow(table.Row{p, ps.Snapshots, ps.Critical, ps.Major, ps.Minor, ps.Total})
	}
	bs := d.Statistics.BySeverity
	tw.AppendFooter(table.Row{"all", len(d.Snapshots), bs[domain.SeverityCritical], bs[domain.SeverityMajor], bs[domain.SeverityMinor], d.Statistics.Total})
	b.WriteString(tw.RenderMarkdown() + "\n")

	if len(d.Runs) > 0 {
		b.WriteString("\n## Runs\n\n")
		tw := newTable(table.Row{"Run", "Policy", "Status", "Started", "Finished"})
		for _, r := range d.Runs {
			tw.AppendRow(table.Row{r.ID, r.Policy, r.Status, r.StartedAt, r.FinishedAt})
		}
		b.WriteString(tw.RenderMarkdown() + "\n")
	}

	b.WriteString("\n## Reviews\n")
	if len(d.Snapshots) == 0 {
		b.WriteString("\n_no reviews yet_\n")
	}
	for _, snap := range d.Snapshots {
		writeSnapshot(&b, snap)
	}
	return b.String()
}

func writeSnapshot(b *strings.Builder, snap domain.Snapshot) {
	fmt.Fprintf(b, "\n### %s iteration %d: %s\n\n", snap.Phase, snap.Iteration, score(snap.Score))
	if len(snap.Breakdown) > 0 {
		tw := newTable(table.Row{"Criterion", "Score", "Weight", "Threshold", "Passed"})
		for _, c := range snap.Breakdown {
			passed := "no"
			if c.Passed {
				passed = "yes"
			}
			tw.AppendRow(table.Row{c.Name, score(c.Score), score(c.Weight), score(c.Threshold), passed})
		}
		b.WriteString(tw.RenderMarkdown() + "\n\n")
	}
	if len(snap.Issues) == 0 {
		b.WriteString("No issues.\n")
		return
	}
	for _, is := range snap.Issues {
		fmt.Fprintf(b, "- **%s** %s: %s\n", is.Severity, is.Category, is.Description)
	}
}
