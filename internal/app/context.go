// Package app wires a workspace directory to an engine for the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/engine"
	"phasegate/internal/migrate"
	"phasegate/internal/repo"
)

// Workspace is an opened, migrated phasegate workspace.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Engine engine.Engine
}

// Open prepares the workspace directory, opens its database and applies migrations.
func Open(dir string, log *zap.Logger) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	e := engine.New(conn, nil)
	e.Logger = log
	return &Workspace{Dir: dir, DB: conn, Engine: e}, nil
}

func (w *Workspace) Close() error { return w.DB.Close() }

func (w *Workspace) LockDir() string { return db.LockDir(w.Dir) }

// ResolveProject picks the active project: the override when given, otherwise
// the only project in the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetProject(ctx, override); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("project %s not found; create it with pgate project init --id %s", override, override)
			}
			return "", err
		}
		return override, nil
	}
	p, err := r.SingleProject(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("no project in workspace; create one with pgate project init --id <id>")
	}
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// ResolveProjectAndConfig resolves the active project and binds its stored
// configuration to the workspace engine.
func (w *Workspace) ResolveProjectAndConfig(ctx context.Context, override string) (string, *config.Config, error) {
	projectID, err := ResolveProject(ctx, w.Engine.Repo, override)
	if err != nil {
		return "", nil, err
	}
	cfg, err := w.Engine.ProjectConfig(ctx, projectID)
	if err != nil {
		return "", nil, err
	}
	w.Engine.Config = cfg
	return projectID, cfg, nil
}
