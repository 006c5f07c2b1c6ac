package report_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/migrate"
	"phasegate/internal/report"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	_, err = eng.InitProject(context.Background(), "proj-1", "order service", "tester", cfg)
	require.NoError(t, err)
	return eng
}

func TestMarkdownReport(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	_, err := eng.Review(ctx, "proj-1", engine.ReviewInput{Content: "business process only"})
	require.NoError(t, err)

	d, err := report.Collect(ctx, eng, "proj-1")
	require.NoError(t, err)
	require.Len(t, d.Snapshots, 1)
	assert.Len(t, d.Blocked, 2)
	assert.Equal(t, "2024-01-01T00:00:00Z", d.GeneratedAt)

	md := report.Markdown(d)
	assert.Contains(t, md, "# Project report: proj-1")
	assert.Contains(t, md, "order service")
	assert.Contains(t, md, "- Current phase: BASIC_DESIGN")
	assert.Contains(t, md, "major: database design is missing")
	assert.Contains(t, md, "### BASIC_DESIGN iteration 1: 70.00")
	assert.Contains(t, md, "| database_design |")
	assert.Contains(t, md, "- **MAJOR** architecture: system architecture is unclear")
	assert.Equal(t, 1, strings.Count(md, "## Blocked issues"))
}

func TestMarkdownReportEmptyProject(t *testing.T) {
	eng := newEngine(t)
	d, err := report.Collect(context.Background(), eng, "proj-1")
	require.NoError(t, err)
	md := report.Markdown(d)
	assert.Contains(t, md, "_no reviews yet_")
	assert.NotContains(t, md, "## Runs")
}

func TestReviewHistory(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	_, err := eng.Review(ctx, "proj-1", engine.ReviewInput{Content: "business process\ndatabase table\narchitecture module\ninterface api", ActorID: "alice"})
	require.NoError(t, err)

	evs, err := report.History(ctx, eng, "proj-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "project.init", evs[0].Type)

	md := report.ReviewHistory(evs)
	assert.Contains(t, md, "review.recorded")
	assert.Contains(t, md, "score 100, 0 issues")
	assert.Contains(t, md, "BASIC_DESIGN -> DETAIL_DESIGN")
	assert.Contains(t, md, "alice")
}

func TestDetailIgnoresBadPayload(t *testing.T) {
	assert.Empty(t, report.Detail(domain.Event{Type: "review.recorded", Payload: "not json"}))
	assert.Equal(t, "PASS", report.Detail(domain.Event{Type: "verdict.decided", Payload: `{"verdict":"PASS","target":"","reason":""}`}))
}
