package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"phasegate/internal/app"
	"phasegate/internal/config"
	"phasegate/internal/logging"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "pgate",
	Short: "Phasegate CLI",
	Long: `Phasegate drives a project through five lifecycle phases and gates every
transition on a weighted checklist review.
- Phases: BASIC_DESIGN -> DETAIL_DESIGN -> DEVELOPMENT -> UNIT_TEST -> INTEGRATION_TEST.
- Review: content is scored 0-100 against the phase checklist; failed criteria become issues.
- Gate: a CRITICAL issue matching a rollback trigger rolls back, a passing score with no blocked
  issues advances, an exhausted iteration budget force-advances, anything else continues.
- Ledger: every review is stored as an immutable issue snapshot keyed by phase and iteration.
- Workspace: .phasegate holds the database and run locks; configs live in the database.
- Event log: every review, verdict and transition is recorded; see pgate log history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(config.LoggingConfig{
			Level:  viper.GetString("log-level"),
			Format: viper.GetString("log-format"),
		})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PHASEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-user", "actor identifier recorded in the event log")
	pf.String("project", "", "project id (defaults to the only project in the workspace)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(modeCmd())
	rootCmd.AddCommand(issuesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

// withProject opens the workspace and resolves the active project and its config.
func withProject(ctx context.Context, fn func(context.Context, *app.Workspace, string) error) error {
	return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
		projectID, _, err := w.ResolveProjectAndConfig(ctx, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, w, projectID)
	})
}

func actorID() string { return viper.GetString("actor-id") }

// readContent returns inline content, or the named file's content ("-" reads stdin).
func readContent(file, inline string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", fmt.Errorf("use either --file or --content")
	case inline != "":
		return inline, nil
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	}
	return "", fmt.Errorf("--file or --content required")
}

func printJSON(v any) error { return writeJSON(os.Stdout, v) }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
