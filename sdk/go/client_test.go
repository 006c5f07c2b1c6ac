package phasegatesdk

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/engine"
	"phasegate/internal/migrate"
	"phasegate/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default("proj-1")
	e := engine.New(conn, cfg)
	_, err = e.InitProject(context.Background(), "proj-1", "order service", "tester", cfg)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{AllowAnonymous: true},
		LockDir:  db.LockDir(workspace),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	c := New("http://"+ln.Addr().String()+"/", "proj-1")
	c.ActorID = "sdk-tester"
	return c
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "BASIC_DESIGN", st.CurrentPhase)

	ev, err := c.Evaluate(ctx, "", "business process only")
	require.NoError(t, err)
	require.Equal(t, 70.0, ev.Score)
	require.NotEmpty(t, ev.Issues)

	res, err := c.Review(ctx, "business process\ndatabase table\narchitecture module\ninterface api", ReviewOptions{Source: "sdk"})
	require.NoError(t, err)
	require.Equal(t, "PASS", res.Verdict.Kind)
	require.Equal(t, "DETAIL_DESIGN", res.State.CurrentPhase)

	v, err := c.Decide(ctx, "", 95, nil)
	require.NoError(t, err)
	require.Equal(t, "PASS", v.Kind)

	sum, err := c.Run(ctx, RunParams{Policy: "standard"})
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", sum.Status)
	require.NotEmpty(t, sum.PhasesCompleted)

	evs, err := c.Events(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	for _, e := range evs {
		require.Equal(t, "proj-1", e.ProjectID)
	}

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)
	next, err := c.EventsPage(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.Less(t, next.Items[0].ID, page.Items[1].ID)

	md, err := c.Report(ctx)
	require.NoError(t, err)
	require.Contains(t, md, "# Project report: proj-1")

	_, err = c.Review(ctx, "anything", ReviewOptions{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "project_completed", apiErr.Code)
}

func TestClientNotFound(t *testing.T) {
	c := newClient(t)
	c.ProjectID = "missing"
	_, err := c.Status(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "not_found", apiErr.Code)
}
