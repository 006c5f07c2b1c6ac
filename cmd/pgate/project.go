package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"phasegate/internal/app"
	"phasegate/internal/config"
	"phasegate/internal/domain"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id, desc, configFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project at BASIC_DESIGN with the default or given config",
		RunE: func(cmd *cobra.Command, args []string) error {
			id = strings.TrimSpace(id)
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				cfg, err := initialConfig(w.Dir, id, configFile)
				if err != nil {
					return err
				}
				p, err := w.Engine.InitProject(ctx, id, desc, actorID(), cfg)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Initialised project %s at %s in %s\n", p.ID, domain.PhaseBasicDesign, w.Dir)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "project description handed to producers")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config to store instead of the default")
	return cmd
}

// initialConfig picks --config, then the workspace phasegate.yml, then the built-in default.
func initialConfig(workspace, projectID, file string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if file != "" {
		cfg, err = config.FromFile(file)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(projectID), nil
	}
	cfg.Project.ID = projectID
	return cfg, nil
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Status", "Created", "Description"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Status, p.CreatedAt, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				p, err := w.Engine.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := newTable(table.Row{"Field", "Value"})
				tw.AppendRows([]table.Row{
					{"ID", p.ID},
					{"Status", p.Status},
					{"Description", p.Description},
					{"Created", p.CreatedAt},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configDefaultCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project config stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, w *app.Workspace, projectID string) error {
				cfg := w.Engine.Config
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				override := viper.GetString("project")
				if override == "" {
					override = cfg.Project.ID
				}
				projectID, err := app.ResolveProject(ctx, w.Engine.Repo, override)
				if err != nil {
					return err
				}
				if err := w.Engine.UpdateConfig(ctx, projectID, cfg, actorID()); err != nil {
					return err
				}
				fmt.Printf("Imported %s into project %s\n", filePath, projectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = viper.GetString("project")
			}
			if id == "" {
				id = "my-project"
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id written into the config")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s is valid\n", filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
