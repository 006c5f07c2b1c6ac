// Package workflow drives a project through its phases by alternating the
// producer and reviewer steps until the project completes or a limit stops it.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phasegate/internal/config"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/logging"
	"phasegate/internal/metrics"
	"phasegate/internal/producer"
)

type Policy string

const (
	// PolicyStandard applies gate verdicts as they come.
	PolicyStandard Policy = "standard"
	// PolicyTarget replaces the pass score with a higher caller target.
	PolicyTarget Policy = "target"
	// PolicyContinuous keeps refining a passed phase before advancing.
	PolicyContinuous Policy = "continuous"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyStandard, PolicyTarget, PolicyContinuous:
		return p, nil
	case "":
		return PolicyStandard, nil
	}
	return "", &config.ConfigError{Field: "policy", Reason: fmt.Sprintf("unknown policy %q", s)}
}

type Params struct {
	Policy Policy `json:"policy"`
	// TargetScore is the effective pass score of the target policy.
	// Zero falls back to workflow.default_target_score.
	TargetScore float64 `json:"target_score,omitempty"`
	// ExtraIterations bounds refinement after a PASS under the continuous
	// policy. Zero falls back to workflow.default_extra_iterations.
	ExtraIterations int `json:"extra_iterations,omitempty"`
	// MaxPhases stops a continuous run after that many completed phases. Zero is unlimited.
	MaxPhases int `json:"max_phases,omitempty"`
	// MaxTotalIterations overrides workflow.max_total_iterations when positive.
	MaxTotalIterations int    `json:"max_total_iterations,omitempty"`
	ActorID            string `json:"actor_id,omitempty"`
}

type Driver struct {
	Engine   engine.Engine
	Producer producer.Producer
	// LockDir holds the per-project run lock files.
	LockDir string
	Logger  *zap.Logger
	NewID   func() string
}

func (d Driver) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// plan is Params resolved against the project configuration.
type plan struct {
	Params
	ceiling int
}

func (d Driver) resolve(cfg *config.Config, state domain.ProjectState, p Params) (plan, error) {
	policy, err := ParsePolicy(string(p.Policy))
	if err != nil {
		return plan{}, err
	}
	p.Policy = policy
	pl := plan{Params: p, ceiling: cfg.Workflow.MaxTotalIterations}
	if p.MaxTotalIterations > 0 {
		pl.ceiling = p.MaxTotalIterations
	}
	if pl.ceiling <= 0 {
		pl.ceiling = 30
	}
	if p.MaxPhases < 0 {
		return plan{}, &config.ConfigError{Field: "max_phases", Reason: "must not be negative"}
	}
	switch policy {
	case PolicyTarget:
		if pl.TargetScore == 0 {
			pl.TargetScore = cfg.Workflow.DefaultTargetScore
		}
		if pl.TargetScore == 0 {
			return plan{}, &config.ConfigError{Field: "target_score", Reason: "is required for the target policy"}
		}
		if !state.Completed() {
			if err := cfg.ValidateTargetScore(state.Phase, pl.TargetScore); err != nil {
				return plan{}, err
			}
		}
	case PolicyContinuous:
		if pl.ExtraIterations < 0 {
			return plan{}, &config.ConfigError{Field: "extra_iterations", Reason: "must not be negative"}
		}
		if pl.ExtraIterations == 0 {
			pl.ExtraIterations = cfg.Workflow.DefaultExtraIterations
		}
	}
	return pl, nil
}

// Run drives the project until it completes, a limit is reached, ctx is
// canceled or an error stops it. The summary always reflects the progress
// made, including when an error is returned.
func (d Driver) Run(ctx context.Context, projectID string, p Params) (domain.RunSummary, error) {
	log := logging.OrNop(d.Logger)
	if d.Producer == nil {
		return domain.RunSummary{}, fmt.Errorf("producer required")
	}
	if err := ctx.Err(); err != nil {
		return domain.RunSummary{}, err
	}
	cfg, err := d.Engine.ProjectConfig(ctx, projectID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	if err := cfg.Validate(); err != nil {
		return domain.RunSummary{}, err
	}
	lock, err := AcquireRunLock(d.LockDir, projectID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer lock.Release()

	state, err := d.Engine.LoadState(ctx, projectID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	pl, err := d.resolve(cfg, state, p)
	if err != nil {
		return domain.RunSummary{}, err
	}
	params, err := json.Marshal(pl.Params)
	if err != nil {
		return domain.RunSummary{}, err
	}
	run, err := d.Engine.StartRun(ctx, domain.Run{
		ID:         d.newID(),
		ProjectID:  projectID,
		Policy:     string(pl.Policy),
		ParamsJSON: string(params),
	}, pl.ActorID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	log = log.With(zap.String("run_id", run.ID), zap.String("project_id", projectID))
	log.Info("run started", zap.String("policy", string(pl.Policy)), zap.Int("ceiling", pl.ceiling))

	summary := domain.RunSummary{RunID: run.ID, Policy: string(pl.Policy), PhasesCompleted: []domain.PhaseResult{}}
	runErr := d.loop(ctx, projectID, pl, &summary, log)
	if runErr != nil && ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
		summary.Status = domain.RunCanceled
		runErr = nil
	}
	if runErr != nil {
		summary.Status = domain.RunError
		summary.Error = runErr.Error()
	}

	// the run row is closed even when ctx is already canceled
	finishCtx := context.WithoutCancel(ctx)
	if err := d.Engine.FinishRun(finishCtx, projectID, summary, pl.ActorID); err != nil && runErr == nil {
		runErr = err
	}
	metrics.Get().RunsTotal.WithLabelValues(string(pl.Policy), summary.Status).Inc()
	fields := []zap.Field{
		zap.String("status", summary.Status),
		zap.Int("total_iterations", summary.TotalIterations),
		zap.Int("phases_completed", len(summary.PhasesCompleted)),
	}
	if runErr != nil {
		log.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("run finished", fields...)
	}
	return summary, runErr
}

func (d Driver) loop(ctx context.Context, projectID string, pl plan, summary *domain.RunSummary, log *zap.Logger) error {
	project, err := d.Engine.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	var (
		phaseIterations int
		passed          bool
		refinements     int
	)
	for {
		if ctx.Err() != nil {
			summary.Status = domain.RunCanceled
			return nil
		}
		if summary.TotalIterations >= pl.ceiling {
			summary.Status = domain.RunMaxIterationsReached
			return nil
		}
		state, err := d.Engine.LoadState(ctx, projectID)
		if err != nil {
			return err
		}
		if state.Completed() {
			summary.Status = domain.RunCompleted
			return nil
		}
		if pl.Policy == PolicyContinuous && pl.MaxPhases > 0 && len(summary.PhasesCompleted) >= pl.MaxPhases {
			summary.Status = domain.RunPhaseCapReached
			return nil
		}

		if state.Mode != domain.ModeDeveloper {
			if state, err = d.Engine.SetMode(ctx, projectID, domain.ModeDeveloper, pl.ActorID); err != nil {
				return err
			}
		}
		req, err := d.request(ctx, project, state)
		if err != nil {
			return err
		}
		in := engine.ReviewInput{Phase: state.Phase, ActorID: pl.ActorID}
		art, perr := d.Producer.Produce(ctx, req)
		switch {
		case perr == nil:
			in.Content, in.Source = art.Content, art.Source
		case errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded):
			summary.Status = domain.RunCanceled
			return nil
		default:
			in.Unavailable = perr
			metrics.Get().ProducerFailures.WithLabelValues(fmt.Sprintf("%T", d.Producer)).Inc()
		}
		switch pl.Policy {
		case PolicyTarget:
			in.PassScore = pl.TargetScore
		case PolicyContinuous:
			in.HoldOnPass = refinements < pl.ExtraIterations
		}

		res, err := d.Engine.Review(ctx, projectID, in)
		if err != nil {
			return err
		}
		summary.TotalIterations++
		phaseIterations++
		score := res.Evaluation.Score
		summary.FinalScore = &score
		log.Debug("iteration reviewed",
			zap.String("phase", string(res.Phase)),
			zap.Int("iteration", res.Iteration),
			zap.Float64("score", score),
			zap.String("verdict", res.Verdict.String()),
			zap.Bool("held", res.Held))

		moved := res.Verdict.Kind != domain.VerdictContinue && !res.Held
		if !moved && pl.Policy == PolicyContinuous {
			if passed {
				refinements++
			}
			if res.Held {
				passed = true
			}
			if passed && refinements >= pl.ExtraIterations {
				if _, err := d.Engine.ForceAdvance(ctx, projectID, "refinement cap reached", pl.ActorID); err != nil {
					return err
				}
				res.Verdict = domain.Verdict{Kind: domain.VerdictPass}
				moved = true
			}
		}
		if !moved {
			continue
		}
		if res.Verdict.Kind == domain.VerdictPass || res.Verdict.Kind == domain.VerdictForceAdvance {
			summary.PhasesCompleted = append(summary.PhasesCompleted, domain.PhaseResult{
				Phase:      res.Phase,
				Score:      score,
				Iterations: phaseIterations,
				Verdict:    res.Verdict.Kind,
			})
		}
		phaseIterations, passed, refinements = 0, false, 0
	}
}

func (d Driver) request(ctx context.Context, project domain.Project, state domain.ProjectState) (domain.ProduceRequest, error) {
	req := domain.ProduceRequest{
		ProjectID:    project.ID,
		Phase:        state.Phase,
		Iteration:    state.Iteration + 1,
		Attempt:      state.Attempts[state.Phase] + 1,
		FromRollback: state.FromRollback,
		Description:  project.Description,
	}
	st, err := d.Engine.Status(ctx, project.ID)
	if err != nil {
		return req, err
	}
	req.NextImprovement = st.NextImprovement
	blocked, err := d.Engine.Ledger().ListBlocked(ctx, project.ID, true)
	if err != nil {
		return req, err
	}
	req.Blocked = blocked
	return req, nil
}
