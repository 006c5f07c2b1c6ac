package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phasegate/internal/app"
	"phasegate/internal/domain"
	"phasegate/internal/report"
	"phasegate/internal/repo"
)

func issuesCmd() *cobra.Command {
	is := &cobra.Command{Use: "issues", Short: "Issue ledger queries"}
	is.AddCommand(issuesSnapshotCmd())
	is.AddCommand(issuesBlockedCmd())
	is.AddCommand(issuesStatsCmd())
	return is
}

func issuesSnapshotCmd() *cobra.Command {
	var phase string
	var iteration int
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the issue snapshot of a review",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePhase(phase)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				snap, err := w.Engine.Ledger().Load(ctx, projectID, p, iteration)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("%s iteration %d: %.2f (%s)\n", snap.Phase, snap.Iteration, snap.Score, snap.CreatedAt)
				tw := newTable(table.Row{"Severity", "Category", "Description"})
				for _, i := range snap.Issues {
					tw.AppendRow(table.Row{i.Severity, i.Category, i.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase")
	cmd.Flags().IntVar(&iteration, "iteration", 1, "iteration within the phase")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func issuesBlockedCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List blocked issues of the current phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				items, err := w.Engine.Ledger().ListBlocked(ctx, projectID, !all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("No blocked issues.")
					return nil
				}
				tw := newTable(table.Row{"Phase", "Severity", "Category", "Description", "Iteration", "Resolved"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.Phase, b.Severity, b.Category, b.Description, b.Iteration, b.Resolved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved issues")
	return cmd
}

func issuesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Issue counts by phase and severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				st, err := w.Engine.Ledger().Statistics(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable(table.Row{"Phase", "Snapshots", "Critical", "Major", "Minor", "Total"})
				for _, p := range domain.Phases() {
					ps, ok := st.ByPhase[p]
					if !ok {
						continue
					}
					tw.AppendRow(table.Row{p, ps.Snapshots, ps.Critical, ps.Major, ps.Minor, ps.Total})
				}
				tw.AppendFooter(table.Row{"Total", "", st.BySeverity[domain.SeverityCritical], st.BySeverity[domain.SeverityMajor], st.BySeverity[domain.SeverityMinor], st.Total})
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log queries"}
	l.AddCommand(logTailCmd())
	l.AddCommand(logHistoryCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				f.ProjectID = projectID
				f.Limit = n
				evs, err := w.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Detail"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + " " + ev.EntityID, ev.ActorID, report.Detail(ev)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "filter by event type")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "filter by entity id")
	return cmd
}

func logHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the review and decision history as markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				evs, err := report.History(ctx, w.Engine, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				fmt.Print(report.ReviewHistory(evs))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum number of events")
	return cmd
}

func reportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the project report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				format = "json"
			}
			if format != "markdown" && format != "json" {
				return fmt.Errorf("unsupported format %q (markdown or json)", format)
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				d, err := report.Collect(ctx, w.Engine, projectID)
				if err != nil {
					return err
				}
				if out == "" {
					if format == "json" {
						return printJSON(d)
					}
					fmt.Print(report.Markdown(d))
					return nil
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				if format == "json" {
					err = writeJSON(f, d)
				} else {
					_, err = f.WriteString(report.Markdown(d))
				}
				if err != nil {
					return err
				}
				fmt.Printf("Report written to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "markdown or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}
