package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/events"
	"phasegate/internal/migrate"
	"phasegate/internal/producer"
	"phasegate/internal/repo"
)

func newTestDriver(t *testing.T, p producer.Producer) Driver {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	_, err = eng.InitProject(context.Background(), "proj-1", "order service", "tester", cfg)
	require.NoError(t, err)
	return Driver{Engine: eng, Producer: p, LockDir: db.LockDir(dir)}
}

// weak content never clears a gate and never triggers a rollback.
func weak() producer.Producer {
	return producer.Func(func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
		content := "nothing relevant"
		if req.Phase == domain.PhaseDevelopment {
			content = "func stub() {}"
		}
		return domain.Artifact{Phase: req.Phase, Iteration: req.Attempt, Content: content, Source: "weak"}, nil
	})
}

func TestStandardRunCompletes(t *testing.T) {
	d := newTestDriver(t, producer.NewStatic(nil))
	sum, err := d.Run(context.Background(), "proj-1", Params{Policy: PolicyStandard})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, sum.Status)
	assert.Equal(t, 5, sum.TotalIterations)
	require.Len(t, sum.PhasesCompleted, 5)
	for i, phase := range domain.Phases() {
		assert.Equal(t, phase, sum.PhasesCompleted[i].Phase)
		assert.Equal(t, domain.VerdictPass, sum.PhasesCompleted[i].Verdict)
		assert.Equal(t, 1, sum.PhasesCompleted[i].Iterations)
	}
	require.NotNil(t, sum.FinalScore)
	assert.Equal(t, 100.0, *sum.FinalScore)

	runs, err := d.Engine.Runs(context.Background(), "proj-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunCompleted, runs[0].Status)
	assert.Equal(t, sum.RunID, runs[0].ID)
	var stored domain.RunSummary
	require.NoError(t, json.Unmarshal([]byte(runs[0].Summary), &stored))
	assert.Equal(t, 5, stored.TotalIterations)

	// a completed project finishes immediately
	sum, err = d.Run(context.Background(), "proj-1", Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, sum.Status)
	assert.Equal(t, 0, sum.TotalIterations)
}

func TestWeakContentForceAdvancesEveryPhase(t *testing.T) {
	d := newTestDriver(t, weak())
	sum, err := d.Run(context.Background(), "proj-1", Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, sum.Status)
	// 5 + 4 + 4 + 3 + 3 iterations, one per phase budget
	assert.Equal(t, 19, sum.TotalIterations)
	require.Len(t, sum.PhasesCompleted, 5)
	for _, pr := range sum.PhasesCompleted {
		assert.Equal(t, domain.VerdictForceAdvance, pr.Verdict, pr.Phase)
	}
	assert.Equal(t, 5, sum.PhasesCompleted[0].Iterations)
	assert.Equal(t, 3, sum.PhasesCompleted[4].Iterations)
}

func TestGlobalCeiling(t *testing.T) {
	d := newTestDriver(t, weak())
	sum, err := d.Run(context.Background(), "proj-1", Params{MaxTotalIterations: 7})
	require.NoError(t, err)
	assert.Equal(t, domain.RunMaxIterationsReached, sum.Status)
	assert.Equal(t, 7, sum.TotalIterations)
	require.Len(t, sum.PhasesCompleted, 1)

	st, err := d.Engine.Status(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDetailDesign, st.CurrentPhase)
	assert.Equal(t, 2, st.Iteration)
}

func basicAt90() producer.Producer {
	return producer.Func(func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
		// interface_definition falls to its partial score
		return domain.Artifact{Content: "business process\ndatabase table\narchitecture layer"}, nil
	})
}

func TestTargetPolicyRaisesTheBar(t *testing.T) {
	d := newTestDriver(t, basicAt90())
	sum, err := d.Run(context.Background(), "proj-1", Params{Policy: PolicyTarget, TargetScore: 96, MaxTotalIterations: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.RunMaxIterationsReached, sum.Status)
	require.Len(t, sum.PhasesCompleted, 1)
	assert.Equal(t, domain.VerdictForceAdvance, sum.PhasesCompleted[0].Verdict)
	assert.Equal(t, 90.0, sum.PhasesCompleted[0].Score)
}

func TestStandardPolicyPassesAtConfiguredScore(t *testing.T) {
	d := newTestDriver(t, basicAt90())
	sum, err := d.Run(context.Background(), "proj-1", Params{MaxTotalIterations: 1})
	require.NoError(t, err)
	require.Len(t, sum.PhasesCompleted, 1)
	assert.Equal(t, domain.VerdictPass, sum.PhasesCompleted[0].Verdict)
}

func TestTargetBelowPassScoreIsConfigError(t *testing.T) {
	d := newTestDriver(t, producer.NewStatic(nil))
	_, err := d.Run(context.Background(), "proj-1", Params{Policy: PolicyTarget, TargetScore: 85})
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)

	_, err = d.Run(context.Background(), "proj-1", Params{Policy: PolicyTarget})
	require.True(t, errors.As(err, &cfgErr), "got %v", err)

	runs, err := d.Engine.Runs(context.Background(), "proj-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestContinuousPolicyRefinesThenAdvances(t *testing.T) {
	d := newTestDriver(t, producer.NewStatic(nil))
	sum, err := d.Run(context.Background(), "proj-1", Params{Policy: PolicyContinuous, ExtraIterations: 1, MaxPhases: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.RunPhaseCapReached, sum.Status)
	assert.Equal(t, 4, sum.TotalIterations)
	require.Len(t, sum.PhasesCompleted, 2)
	assert.Equal(t, 2, sum.PhasesCompleted[0].Iterations)

	st, err := d.Engine.Status(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDevelopment, st.CurrentPhase)
	last := st.Transitions[len(st.Transitions)-1]
	assert.Equal(t, domain.TransitionForceAdvance, last.Kind)
	assert.Equal(t, "refinement cap reached", last.Reason)
}

func TestCanceledBeforeStart(t *testing.T) {
	d := newTestDriver(t, producer.NewStatic(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, "proj-1", Params{})
	assert.ErrorIs(t, err, context.Canceled)

	runs, err := d.Engine.Runs(context.Background(), "proj-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCanceledDuringProduce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	p := producer.Func(func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
		calls++
		if calls == 2 {
			cancel()
			return domain.Artifact{}, ctx.Err()
		}
		return producer.NewStatic(nil).Produce(ctx, req)
	})
	d := newTestDriver(t, p)
	sum, err := d.Run(ctx, "proj-1", Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCanceled, sum.Status)
	assert.Equal(t, 1, sum.TotalIterations)

	runs, err := d.Engine.Runs(context.Background(), "proj-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunCanceled, runs[0].Status)
}

func TestProducerFailureIsRecordedAsUnavailable(t *testing.T) {
	p := producer.Func(func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
		return domain.Artifact{}, errors.New("upstream down")
	})
	d := newTestDriver(t, p)
	sum, err := d.Run(context.Background(), "proj-1", Params{MaxTotalIterations: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.RunMaxIterationsReached, sum.Status)
	require.NotNil(t, sum.FinalScore)
	assert.Equal(t, 0.0, *sum.FinalScore)

	evs, err := d.Engine.Repo.LatestEvents(context.Background(), repo.EventFilter{ProjectID: "proj-1", Type: events.ContentUnavailable})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestRunLockExcludesSecondRun(t *testing.T) {
	d := newTestDriver(t, producer.NewStatic(nil))
	lock, err := AcquireRunLock(d.LockDir, "proj-1")
	require.NoError(t, err)

	_, err = d.Run(context.Background(), "proj-1", Params{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, lock.Release())
	sum, err := d.Run(context.Background(), "proj-1", Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, sum.Status)
}

func TestProduceRequestCarriesFeedback(t *testing.T) {
	var seen []domain.ProduceRequest
	p := producer.Func(func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
		seen = append(seen, req)
		return domain.Artifact{Content: "business process only"}, nil
	})
	d := newTestDriver(t, p)
	_, err := d.Run(context.Background(), "proj-1", Params{MaxTotalIterations: 2})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Iteration)
	assert.Empty(t, seen[0].NextImprovement)
	assert.Equal(t, "order service", seen[0].Description)
	assert.Equal(t, 2, seen[1].Iteration)
	assert.Equal(t, 2, seen[1].Attempt)
	assert.Equal(t, "major: database design is missing", seen[1].NextImprovement)
	assert.Len(t, seen[1].Blocked, 2)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStandard, p)
	p, err = ParsePolicy("continuous")
	require.NoError(t, err)
	assert.Equal(t, PolicyContinuous, p)
	_, err = ParsePolicy("yolo")
	assert.Error(t, err)
}
