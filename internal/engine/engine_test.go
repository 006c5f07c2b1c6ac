package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"phasegate/internal/config"
	"phasegate/internal/db"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/events"
	"phasegate/internal/ledger"
	"phasegate/internal/machine"
	"phasegate/internal/migrate"
	"phasegate/internal/repo"
)

const (
	basicGood       = "business process\ndatabase table\narchitecture module\ninterface api"
	basicWeak       = "business process only"
	detailGood      = "class method\ndata structure\nalgorithm\nmodule coupling"
	devWithoutCode  = "we will write the code later"
	unitGood        = "coverage report\nboundary cases\nexception paths"
	integrationGood = "integration of every module\nperformance run\nstability soak"
)

func devGood() string {
	return "func main() {\n" + strings.Repeat("\t// return error early, keep performance in mind\n", 25) + "}\n"
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester", cfg); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) review(t *testing.T, content string) engine.ReviewResult {
	t.Helper()
	res, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: content, ActorID: "tester"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	return res
}

func (env testEnv) status(t *testing.T) domain.Status {
	t.Helper()
	st, err := env.Engine.Status(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return st
}

func TestInitProjectWritesInitialState(t *testing.T) {
	env := newTestEnv(t)
	st := env.status(t)
	if st.CurrentPhase != domain.PhaseBasicDesign || st.Iteration != 0 || st.Mode != domain.ModeDeveloper {
		t.Fatalf("unexpected initial status: %+v", st)
	}
	if st.Status != domain.StatusInProgress || st.LatestScore != nil || len(st.ScoreHistory) != 0 {
		t.Fatalf("unexpected initial history: %+v", st)
	}
	if _, err := env.Engine.InitProject(env.Ctx, "proj-1", "", "tester", nil); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on re-init, got %v", err)
	}
}

func TestReviewPassAdvances(t *testing.T) {
	env := newTestEnv(t)
	res := env.review(t, basicGood)
	if res.Verdict.Kind != domain.VerdictPass || res.Evaluation.Score != 100 {
		t.Fatalf("expected PASS at 100, got %s %.1f", res.Verdict, res.Evaluation.Score)
	}
	st := env.status(t)
	if st.CurrentPhase != domain.PhaseDetailDesign || st.Iteration != 0 || st.Mode != domain.ModeDeveloper {
		t.Fatalf("expected DETAIL_DESIGN iteration 0, got %+v", st)
	}
	if st.LatestScore == nil || *st.LatestScore != 100 {
		t.Fatalf("latest score not recorded: %+v", st.LatestScore)
	}
	snap, err := env.Engine.Ledger().Load(env.Ctx, "proj-1", domain.PhaseBasicDesign, 1)
	if err != nil || snap.Score != 100 {
		t.Fatalf("snapshot: %+v %v", snap, err)
	}
	art, err := env.Engine.Artifact(env.Ctx, "proj-1", domain.PhaseBasicDesign, 1)
	if err != nil || art.Content != basicGood {
		t.Fatalf("artifact: %+v %v", art, err)
	}
}

func TestReviewContinueTracksBlockedIssues(t *testing.T) {
	env := newTestEnv(t)
	res := env.review(t, basicWeak)
	if res.Verdict.Kind != domain.VerdictContinue || res.Evaluation.Score != 70 {
		t.Fatalf("expected CONTINUE at 70, got %s %.1f", res.Verdict, res.Evaluation.Score)
	}
	st := env.status(t)
	if st.BlockedIssueCount != 2 {
		t.Fatalf("expected 2 blocked issues, got %d", st.BlockedIssueCount)
	}
	if st.NextImprovement != "major: database design is missing" {
		t.Fatalf("unexpected next improvement %q", st.NextImprovement)
	}
	if st.Mode != domain.ModeReviewer || st.Iteration != 1 {
		t.Fatalf("expected reviewer mode at iteration 1, got %+v", st)
	}

	// fixing the artifact resolves the blocked entries before the gate runs
	res = env.review(t, basicGood)
	if res.Verdict.Kind != domain.VerdictPass {
		t.Fatalf("expected PASS after fix, got %s", res.Verdict)
	}
	if st := env.status(t); st.BlockedIssueCount != 0 {
		t.Fatalf("blocked set not cleared: %d", st.BlockedIssueCount)
	}
}

func TestMajorIssueBlocksPassingScore(t *testing.T) {
	env := newTestEnv(t)
	// 30 + 25 + 15 + 20 = 90 >= 80 but architecture is MAJOR
	res := env.review(t, "business process\ndatabase table\ninterface api")
	if res.Evaluation.Score != 90 {
		t.Fatalf("expected 90, got %.1f", res.Evaluation.Score)
	}
	if res.Verdict.Kind != domain.VerdictContinue {
		t.Fatalf("expected CONTINUE while MAJOR is blocked, got %s", res.Verdict)
	}
}

func TestReviewIterationBudget(t *testing.T) {
	env := newTestEnv(t)
	var res engine.ReviewResult
	for i := 1; i <= 5; i++ {
		res = env.review(t, basicWeak)
		if res.Iteration != i {
			t.Fatalf("iteration %d reported as %d", i, res.Iteration)
		}
	}
	if res.Verdict.Kind != domain.VerdictForceAdvance {
		t.Fatalf("expected FORCE_ADVANCE at the ceiling, got %s", res.Verdict)
	}
	st := env.status(t)
	if st.CurrentPhase != domain.PhaseDetailDesign || st.BlockedIssueCount != 0 {
		t.Fatalf("expected DETAIL_DESIGN with empty blocked set, got %+v", st)
	}
	last := st.Transitions[len(st.Transitions)-1]
	if last.Kind != domain.TransitionForceAdvance || !strings.Contains(last.Reason, "iteration budget") {
		t.Fatalf("unexpected transition %+v", last)
	}
}

func TestReviewRollbackUntilBudgetExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.review(t, basicGood)
	env.review(t, detailGood)

	for round := 1; round <= 2; round++ {
		res := env.review(t, devWithoutCode)
		if res.Verdict.Kind != domain.VerdictRollback || res.Verdict.Target != domain.PhaseDetailDesign {
			t.Fatalf("round %d: expected ROLLBACK(DETAIL_DESIGN), got %s", round, res.Verdict)
		}
		st := env.status(t)
		if st.CurrentPhase != domain.PhaseDetailDesign || st.Iteration != 0 || !st.FromRollback {
			t.Fatalf("round %d: unexpected state %+v", round, st)
		}
		if st.RollbackCounts[domain.PhaseDetailDesign] != round {
			t.Fatalf("round %d: rollback count %d", round, st.RollbackCounts[domain.PhaseDetailDesign])
		}
		if st.BlockedIssueCount != 0 {
			t.Fatalf("round %d: blocked set survived the rollback", round)
		}
		env.review(t, detailGood)
	}

	res := env.review(t, devWithoutCode)
	if res.Verdict.Kind != domain.VerdictForceAdvance || !strings.Contains(res.Verdict.Reason, "rollback budget exhausted") {
		t.Fatalf("expected FORCE_ADVANCE once budget is spent, got %s %q", res.Verdict, res.Verdict.Reason)
	}
	st := env.status(t)
	if st.CurrentPhase != domain.PhaseUnitTest {
		t.Fatalf("expected UNIT_TEST, got %s", st.CurrentPhase)
	}
	if st.Attempts[domain.PhaseDevelopment] != 3 || st.Attempts[domain.PhaseDetailDesign] != 3 {
		t.Fatalf("unexpected attempts %+v", st.Attempts)
	}
	snaps, err := env.Engine.Ledger().List(env.Ctx, "proj-1", domain.PhaseDevelopment)
	if err != nil || len(snaps) != 3 {
		t.Fatalf("expected 3 distinct development snapshots, got %d %v", len(snaps), err)
	}
	rolled, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1", Type: events.PhaseRolledBack})
	if err != nil || len(rolled) != 2 {
		t.Fatalf("expected 2 rollback events, got %d %v", len(rolled), err)
	}
}

func TestReviewHoldOnPass(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: basicGood, HoldOnPass: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict.Kind != domain.VerdictPass || !res.Held {
		t.Fatalf("expected held PASS, got %s held=%v", res.Verdict, res.Held)
	}
	if st := env.status(t); st.CurrentPhase != domain.PhaseBasicDesign || st.Iteration != 1 {
		t.Fatalf("held PASS must not advance: %+v", st)
	}
}

func TestReviewPassScoreOverride(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: basicGood, PassScore: 100})
	if err != nil || res.Verdict.Kind != domain.VerdictPass {
		t.Fatalf("expected PASS at target 100: %v %s", err, res.Verdict)
	}
	_, err = env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: detailGood, PassScore: 50})
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error for a lowered bar, got %v", err)
	}
}

func TestReviewContentUnavailable(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{
		Content: "ignored", Source: "file", Unavailable: errors.New("no such file"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Evaluation.Score != 0 || len(res.Evaluation.Issues) != 1 {
		t.Fatalf("expected score 0 with one issue, got %+v", res.Evaluation)
	}
	is := res.Evaluation.Issues[0]
	if is.Severity != domain.SeverityCritical || is.Category != domain.CategoryContentUnavailable {
		t.Fatalf("unexpected issue %+v", is)
	}
	if res.Verdict.Kind != domain.VerdictContinue {
		t.Fatalf("expected CONTINUE, got %s", res.Verdict)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1", Type: events.ContentUnavailable})
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected content.unavailable event: %d %v", len(evs), err)
	}
}

func TestReviewSurfacesDuplicateSnapshot(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Ledger().Save(env.Ctx, "proj-1", domain.PhaseBasicDesign, 1, 42, nil, nil); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: basicGood})
	if !errors.Is(err, ledger.ErrDuplicateSnapshot) {
		t.Fatalf("expected duplicate snapshot error, got %v", err)
	}
	if st := env.status(t); st.Iteration != 0 || len(st.ScoreHistory) != 0 {
		t.Fatalf("failed review must not change state: %+v", st)
	}
	snap, err := env.Engine.Ledger().Load(env.Ctx, "proj-1", domain.PhaseBasicDesign, 1)
	if err != nil || snap.Score != 42 {
		t.Fatalf("original snapshot changed: %+v %v", snap, err)
	}
}

func TestFullLifecycleCompletes(t *testing.T) {
	env := newTestEnv(t)
	for _, content := range []string{basicGood, detailGood, devGood(), unitGood, integrationGood} {
		if res := env.review(t, content); res.Verdict.Kind != domain.VerdictPass {
			t.Fatalf("expected PASS for %s, got %s (%.1f)", res.Phase, res.Verdict, res.Evaluation.Score)
		}
	}
	st := env.status(t)
	if st.Status != domain.StatusCompleted || st.CurrentPhase != domain.PhaseCompleted {
		t.Fatalf("expected completion, got %+v", st)
	}
	if _, err := env.Engine.Review(env.Ctx, "proj-1", engine.ReviewInput{Content: basicGood}); !errors.Is(err, machine.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil || p.Status != domain.StatusCompleted {
		t.Fatalf("project status not updated: %+v %v", p, err)
	}
}

func TestLoadStateSkipsCorruptCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	env.review(t, basicGood)
	if _, err := env.Engine.DB.Exec(`INSERT INTO state_checkpoints(project_id,state_json,reason,created_at) VALUES ('proj-1','{"project_id":"proj-1","phase":"NOPE"}','bad','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.LoadState(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != domain.PhaseDetailDesign || s.Recovered {
		t.Fatalf("expected last known good DETAIL_DESIGN, got %+v", s)
	}
}

func TestLoadStateReinitialisesWhenNothingValidates(t *testing.T) {
	env := newTestEnv(t)
	env.review(t, basicGood)
	if _, err := env.Engine.DB.Exec(`UPDATE state_checkpoints SET state_json='{broken' WHERE project_id='proj-1'`); err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.LoadState(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Recovered || s.Phase != domain.PhaseBasicDesign || s.Iteration != 0 {
		t.Fatalf("expected recovered initial state, got %+v", s)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1", Type: events.StateRecovered})
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected one state.recovered event: %d %v", len(evs), err)
	}
	// the recovered state is persisted, so a second load does not recover again
	if _, err := env.Engine.LoadState(env.Ctx, "proj-1"); err != nil {
		t.Fatal(err)
	}
	evs, _ = env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1", Type: events.StateRecovered})
	if len(evs) != 1 {
		t.Fatalf("recovery repeated: %d events", len(evs))
	}
}

func TestDecidePreview(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.Decide(env.Ctx, "proj-1", engine.DecideInput{Score: 82})
	if err != nil || v.Kind != domain.VerdictPass {
		t.Fatalf("scenario A: %v %s", err, v)
	}
	v, err = env.Engine.Decide(env.Ctx, "proj-1", engine.DecideInput{Score: 82, Issues: []domain.Issue{
		{Severity: domain.SeverityMajor, Category: "architecture", Description: "unclear"},
	}})
	if err != nil || v.Kind != domain.VerdictContinue {
		t.Fatalf("MAJOR issue should block: %v %s", err, v)
	}
	v, err = env.Engine.Decide(env.Ctx, "proj-1", engine.DecideInput{Score: 60, Iteration: 5})
	if err != nil || v.Kind != domain.VerdictForceAdvance {
		t.Fatalf("scenario C: %v %s", err, v)
	}
	if st := env.status(t); len(st.ScoreHistory) != 0 {
		t.Fatalf("decide must not record anything")
	}
}

func TestManualRollbackBudget(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 2; i++ {
		if _, err := env.Engine.ForceAdvance(env.Ctx, "proj-1", "skip", "tester"); err != nil {
			t.Fatal(err)
		}
		s, err := env.Engine.Rollback(env.Ctx, "proj-1", domain.PhaseBasicDesign, "rework", "tester")
		if err != nil {
			t.Fatalf("rollback %d: %v", i, err)
		}
		if s.RollbackCounts[domain.PhaseBasicDesign] != i {
			t.Fatalf("rollback count %d", s.RollbackCounts[domain.PhaseBasicDesign])
		}
	}
	if _, err := env.Engine.ForceAdvance(env.Ctx, "proj-1", "skip", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Rollback(env.Ctx, "proj-1", domain.PhaseBasicDesign, "again", "tester"); !errors.Is(err, engine.ErrRollbackBudget) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if _, err := env.Engine.Rollback(env.Ctx, "proj-1", domain.PhaseUnitTest, "forward", "tester"); !errors.Is(err, machine.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSetMode(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.SetMode(env.Ctx, "proj-1", domain.ModeReviewer, "tester")
	if err != nil || s.Mode != domain.ModeReviewer {
		t.Fatalf("set mode: %v %+v", err, s)
	}
	if _, err := env.Engine.SetMode(env.Ctx, "proj-1", domain.Mode("boss"), "tester"); err == nil {
		t.Fatalf("expected invalid mode error")
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{ProjectID: "proj-1", Type: events.ModeChanged})
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected one mode.changed event: %d %v", len(evs), err)
	}
}

func TestEvaluateIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.Evaluate(env.Ctx, "proj-1", "", basicWeak)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.Evaluate(env.Ctx, "proj-1", domain.PhaseBasicDesign, basicWeak)
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != b.Score || len(a.Issues) != len(b.Issues) {
		t.Fatalf("evaluation not deterministic: %+v vs %+v", a, b)
	}
	if st := env.status(t); st.Iteration != 0 {
		t.Fatalf("evaluate must not start an iteration")
	}
}
