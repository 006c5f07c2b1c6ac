package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phasegate/internal/app"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/producer"
	"phasegate/internal/workflow"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project's lifecycle position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				st, err := w.Engine.Status(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printStatus(st)
				return nil
			})
		},
	}
}

func printStatus(st domain.Status) {
	tw := newTable(table.Row{"Field", "Value"})
	tw.AppendRows([]table.Row{
		{"Project", st.ProjectID},
		{"Status", st.Status},
		{"Phase", st.CurrentPhase},
		{"Iteration", st.Iteration},
		{"Mode", st.Mode},
		{"Latest score", fmtScore(st.LatestScore)},
		{"Blocked issues", st.BlockedIssueCount},
		{"Rollbacks", st.RollbackCount},
		{"From rollback", st.FromRollback},
	})
	if st.NextImprovement != "" {
		tw.AppendRow(table.Row{"Next improvement", st.NextImprovement})
	}
	if st.Recovered {
		tw.AppendRow(table.Row{"Recovered", "state reinitialised after checkpoint loss"})
	}
	tw.Render()
}

func parsePhaseFlag(s string) (domain.Phase, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return domain.ParsePhase(s)
}

func evaluateCmd() *cobra.Command {
	var file, content, phase string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score content against the phase checklist without recording anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readContent(file, content)
			if err != nil {
				return err
			}
			p, err := parsePhaseFlag(phase)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				ev, err := w.Engine.Evaluate(ctx, projectID, p, text)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ev)
				}
				printEvaluation(ev)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to evaluate (- for stdin)")
	cmd.Flags().StringVar(&content, "content", "", "inline content")
	cmd.Flags().StringVar(&phase, "phase", "", "phase (defaults to the current phase)")
	return cmd
}

func printEvaluation(ev domain.Evaluation) {
	fmt.Printf("%s score: %.2f\n", ev.Phase, ev.Score)
	tw := newTable(table.Row{"Criterion", "Score", "Weight", "Passed"})
	for _, c := range ev.Breakdown {
		tw.AppendRow(table.Row{c.Name, fmt.Sprintf("%.2f", c.Score), c.Weight, c.Passed})
	}
	tw.Render()
	for _, is := range ev.Issues {
		fmt.Printf("  [%s] %s: %s\n", is.Severity, is.Category, is.Description)
	}
}

// parseIssue reads SEVERITY:category:description.
func parseIssue(s string) (domain.Issue, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return domain.Issue{}, fmt.Errorf("invalid issue %q; want SEVERITY:category:description", s)
	}
	sev, err := domain.ParseSeverity(parts[0])
	if err != nil {
		return domain.Issue{}, err
	}
	return domain.Issue{Severity: sev, Category: strings.TrimSpace(parts[1]), Description: strings.TrimSpace(parts[2])}, nil
}

func decideCmd() *cobra.Command {
	var (
		phase     string
		score     float64
		issues    []string
		iteration int
		passScore float64
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Preview the gate verdict for a score and issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePhaseFlag(phase)
			if err != nil {
				return err
			}
			in := engine.DecideInput{Phase: p, Score: score, Iteration: iteration, PassScore: passScore}
			for _, raw := range issues {
				is, err := parseIssue(raw)
				if err != nil {
					return err
				}
				in.Issues = append(in.Issues, is)
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				v, err := w.Engine.Decide(ctx, projectID, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Println(v.String())
				if v.Reason != "" {
					fmt.Println(v.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase (defaults to the current phase)")
	cmd.Flags().Float64Var(&score, "score", 0, "review score 0-100")
	cmd.Flags().StringArrayVar(&issues, "issue", nil, "issue as SEVERITY:category:description (repeatable)")
	cmd.Flags().IntVar(&iteration, "iteration", 0, "iteration count (defaults to the current one)")
	cmd.Flags().Float64Var(&passScore, "pass-score", 0, "pass score override")
	return cmd
}

func reviewCmd() *cobra.Command {
	var (
		file, content, phase, source string
		passScore                    float64
		hold                         bool
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review content for the current phase and apply the gate verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readContent(file, content)
			if err != nil {
				return err
			}
			p, err := parsePhaseFlag(phase)
			if err != nil {
				return err
			}
			if source == "" {
				source = "cli"
				if file != "" && file != "-" {
					source = "file:" + file
				}
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				res, err := w.Engine.Review(ctx, projectID, engine.ReviewInput{
					Phase:      p,
					Content:    text,
					Source:     source,
					PassScore:  passScore,
					HoldOnPass: hold,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printEvaluation(res.Evaluation)
				verdict := res.Verdict.String()
				if res.Held {
					verdict += " (held)"
				}
				fmt.Printf("Verdict: %s", verdict)
				if res.Verdict.Reason != "" {
					fmt.Printf(" - %s", res.Verdict.Reason)
				}
				fmt.Println()
				if res.NextImprovement != "" {
					fmt.Printf("Next improvement: %s\n", res.NextImprovement)
				}
				fmt.Printf("Now at %s iteration %d (%s)\n", res.State.CurrentPhase, res.State.Iteration, res.State.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to review (- for stdin)")
	cmd.Flags().StringVar(&content, "content", "", "inline content")
	cmd.Flags().StringVar(&phase, "phase", "", "expected current phase")
	cmd.Flags().StringVar(&source, "source", "", "artifact source label")
	cmd.Flags().Float64Var(&passScore, "pass-score", 0, "raise the pass score for this review")
	cmd.Flags().BoolVar(&hold, "hold", false, "record a PASS without advancing")
	return cmd
}

func runCmd() *cobra.Command {
	var p workflow.Params
	var policy string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the project through its phases with the configured producer",
		Long: `Alternates producer and reviewer steps until the project completes or a limit stops it.
Policies:
- standard: apply gate verdicts as they come.
- target: require --target-score in every phase (must not be below any remaining pass score).
- continuous: keep refining a passed phase for --extra-iterations before advancing; --max-phases stops early.
Interrupting the command cancels the run after the current step and records it as CANCELED.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := workflow.ParsePolicy(policy)
			if err != nil {
				return err
			}
			p.Policy = parsed
			p.ActorID = actorID()
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				prod, err := producer.New(w.Engine.Config.Producer)
				if err != nil {
					return err
				}
				d := workflow.Driver{Engine: w.Engine, Producer: prod, LockDir: w.LockDir(), Logger: logger}
				sum, runErr := d.Run(ctx, projectID, p)
				if sum.RunID == "" {
					return runErr
				}
				if viper.GetBool("json") {
					if err := printJSON(sum); err != nil {
						return err
					}
					return runErr
				}
				fmt.Printf("Run %s (%s): %s after %d iterations, final score %s\n",
					sum.RunID, sum.Policy, sum.Status, sum.TotalIterations, fmtScore(sum.FinalScore))
				tw := newTable(table.Row{"Phase", "Verdict", "Score", "Iterations"})
				for _, pr := range sum.PhasesCompleted {
					tw.AppendRow(table.Row{pr.Phase, pr.Verdict, fmt.Sprintf("%.2f", pr.Score), pr.Iterations})
				}
				tw.Render()
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "standard", "standard, target or continuous")
	cmd.Flags().Float64Var(&p.TargetScore, "target-score", 0, "effective pass score for the target policy")
	cmd.Flags().IntVar(&p.ExtraIterations, "extra-iterations", 0, "refinement iterations after a pass (continuous)")
	cmd.Flags().IntVar(&p.MaxPhases, "max-phases", 0, "stop after this many completed phases (continuous)")
	cmd.Flags().IntVar(&p.MaxTotalIterations, "max-total-iterations", 0, "override workflow.max_total_iterations")
	return cmd
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Manual phase transitions"}
	ph.AddCommand(forceAdvanceCmd())
	ph.AddCommand(rollbackCmd())
	return ph
}

func forceAdvanceCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "force-advance",
		Short: "Advance past the current phase regardless of its score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				s, err := w.Engine.ForceAdvance(ctx, projectID, reason, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.View())
				}
				printStatus(s.View())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var to, reason string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to an earlier phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParsePhase(to)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				s, err := w.Engine.Rollback(ctx, projectID, target, reason, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.View())
				}
				printStatus(s.View())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target phase")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func modeCmd() *cobra.Command {
	m := &cobra.Command{Use: "mode", Short: "Developer/reviewer mode"}
	m.AddCommand(&cobra.Command{
		Use:   "set <developer|reviewer>",
		Short: "Switch mode within the current phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := domain.Mode(strings.ToLower(strings.TrimSpace(args[0])))
			if !mode.Valid() {
				return fmt.Errorf("invalid mode %q", args[0])
			}
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				s, err := w.Engine.SetMode(ctx, projectID, mode, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("%s is in %s mode at %s\n", projectID, s.Mode, s.Phase)
				return nil
			})
		},
	})
	return m
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List workflow runs, or show one with its summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				if len(args) == 1 {
					run, err := w.Engine.Run(ctx, projectID, args[0])
					if err != nil {
						return err
					}
					return printJSON(run)
				}
				runs, err := w.Engine.Runs(ctx, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable(table.Row{"ID", "Policy", "Status", "Started", "Finished"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Policy, r.Status, r.StartedAt, r.FinishedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}
