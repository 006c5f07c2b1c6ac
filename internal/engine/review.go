package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"phasegate/internal/checklist"
	"phasegate/internal/config"
	"phasegate/internal/domain"
	"phasegate/internal/events"
	"phasegate/internal/gate"
	"phasegate/internal/machine"
	"phasegate/internal/metrics"
)

var ErrPhaseMismatch = errors.New("phase is not the current phase")

// Evaluate scores content against the project's checklist without recording anything.
// An empty phase means the current phase.
func (e Engine) Evaluate(ctx context.Context, projectID string, phase domain.Phase, content string) (domain.Evaluation, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if phase == "" {
		s, err := e.LoadState(ctx, projectID)
		if err != nil {
			return domain.Evaluation{}, err
		}
		if s.Completed() {
			return domain.Evaluation{}, machine.ErrTerminal
		}
		phase = s.Phase
	}
	if !phase.Valid() {
		return domain.Evaluation{}, fmt.Errorf("invalid phase %q", phase)
	}
	ev, err := checklist.FromConfig(cfg)
	if err != nil {
		return domain.Evaluation{}, err
	}
	return ev.Evaluate(phase, content), nil
}

type DecideInput struct {
	Phase  domain.Phase
	Score  float64
	Issues []domain.Issue
	// Iteration defaults to the current iteration count.
	Iteration int
	PassScore float64
}

// Decide previews the gate verdict for a review outcome without applying it.
// Blocking issues in the input count as if they were already in the blocked set.
func (e Engine) Decide(ctx context.Context, projectID string, in DecideInput) (domain.Verdict, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return domain.Verdict{}, err
	}
	s, err := e.LoadState(ctx, projectID)
	if err != nil {
		return domain.Verdict{}, err
	}
	phase := in.Phase
	if phase == "" {
		if s.Completed() {
			return domain.Verdict{}, machine.ErrTerminal
		}
		phase = s.Phase
	}
	pc, err := cfg.Phase(phase)
	if err != nil {
		return domain.Verdict{}, err
	}
	if in.Score < 0 || in.Score > 100 {
		return domain.Verdict{}, fmt.Errorf("score %v out of range [0,100]", in.Score)
	}
	blocked, err := e.Ledger().ListBlocked(ctx, projectID, true)
	if err != nil {
		return domain.Verdict{}, err
	}
	for _, is := range in.Issues {
		if is.Severity.Blocking() {
			blocked = append(blocked, domain.BlockedIssue{Phase: phase, Category: is.Category, Severity: is.Severity, Description: is.Description})
		}
	}
	iteration := in.Iteration
	if iteration == 0 && phase == s.Phase {
		iteration = s.Iteration
	}
	return gate.Decide(gate.Input{
		Phase:          phase,
		Config:         pc,
		Score:          in.Score,
		Issues:         in.Issues,
		Iteration:      iteration,
		RollbackCounts: s.RollbackCounts,
		Blocked:        blocked,
		PassScore:      in.PassScore,
	}), nil
}

type ReviewInput struct {
	// Phase, when set, must be the current phase.
	Phase   domain.Phase
	Content string
	Source  string
	// Unavailable is the producer failure that left no content to review.
	Unavailable error
	// PassScore overrides the configured pass score when positive.
	PassScore float64
	// HoldOnPass records a PASS verdict without advancing.
	HoldOnPass bool
	ActorID    string
}

type ReviewResult struct {
	Phase           domain.Phase      `json:"phase"`
	Iteration       int               `json:"iteration"`
	Attempt         int               `json:"attempt"`
	Evaluation      domain.Evaluation `json:"evaluation"`
	Snapshot        domain.Snapshot   `json:"snapshot"`
	Verdict         domain.Verdict    `json:"verdict"`
	Held            bool              `json:"held"`
	NextImprovement string            `json:"next_improvement"`
	State           domain.Status     `json:"state"`
}

// Review runs one reviewer step for the current phase: it evaluates the
// artifact, stores it with its snapshot, reconciles the blocked set, asks the
// gate for a verdict and applies it. Everything commits in one transaction.
func (e Engine) Review(ctx context.Context, projectID string, in ReviewInput) (ReviewResult, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return ReviewResult{}, err
	}
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return ReviewResult{}, err
	}
	evaluator, err := checklist.FromConfig(cfg)
	if err != nil {
		return ReviewResult{}, err
	}
	content := in.Content
	if in.Unavailable != nil {
		content = ""
	}

	var res ReviewResult
	var next domain.ProjectState
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		res = ReviewResult{}
		prev, err := e.loadStateTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if prev.Completed() {
			return machine.ErrTerminal
		}
		if in.Phase != "" && in.Phase != prev.Phase {
			return fmt.Errorf("%w: %s (current %s)", ErrPhaseMismatch, in.Phase, prev.Phase)
		}
		pc, err := cfg.Phase(prev.Phase)
		if err != nil {
			return err
		}
		if err := checkPassScore(pc, prev.Phase, in.PassScore); err != nil {
			return err
		}
		s, err := machine.BeginIteration(prev)
		if err != nil {
			return err
		}
		at := e.stamp()
		phase := s.Phase
		attempt := s.Attempts[phase]
		res.Phase, res.Iteration, res.Attempt = phase, s.Iteration, attempt

		res.Evaluation = evaluator.Evaluate(phase, content)
		if err := e.Repo.InsertArtifactTx(ctx, tx, projectID, domain.Artifact{
			Phase: phase, Iteration: attempt, Content: content, Source: in.Source,
		}, at); err != nil {
			return err
		}
		lg := e.Ledger()
		res.Snapshot, err = lg.SaveTx(ctx, tx, projectID, phase, attempt, res.Evaluation.Score, res.Evaluation.Issues, res.Evaluation.Breakdown)
		if err != nil {
			return err
		}
		added, resolved, err := lg.Reconcile(ctx, tx, projectID, phase, res.Snapshot.Issues)
		if err != nil {
			return err
		}
		blocked, err := e.Repo.ListBlocked(ctx, tx, projectID, false)
		if err != nil {
			return err
		}

		s = machine.RecordScore(s, res.Evaluation.Score, at)
		if s, err = machine.SetMode(s, domain.ModeReviewer, at); err != nil {
			return err
		}
		res.Verdict = gate.Decide(gate.Input{
			Phase:          phase,
			Config:         pc,
			Score:          res.Evaluation.Score,
			Issues:         res.Snapshot.Issues,
			Iteration:      s.Iteration,
			RollbackCounts: s.RollbackCounts,
			Blocked:        blocked,
			PassScore:      in.PassScore,
		})
		next = s
		if in.HoldOnPass && res.Verdict.Kind == domain.VerdictPass {
			res.Held = true
		} else if next, err = machine.Apply(s, res.Verdict, at); err != nil {
			return err
		}
		res.NextImprovement = checklist.NextImprovement(res.Snapshot.Issues)

		entries := []events.Entry{}
		if in.Unavailable == nil {
			entries = append(entries, events.Entry{
				Type: events.ArtifactProduced, EntityKind: "artifact", EntityID: artifactID(phase, attempt),
				Payload: events.EventPayload{"source": in.Source, "bytes": len(content)},
			})
		} else {
			entries = append(entries, events.Entry{
				Type: events.ContentUnavailable, EntityKind: "artifact", EntityID: artifactID(phase, attempt),
				Payload: events.EventPayload{"error": in.Unavailable.Error(), "source": in.Source},
			})
		}
		entries = append(entries, events.Entry{
			Type: events.ReviewRecorded, EntityKind: "snapshot", EntityID: artifactID(phase, attempt),
			Payload: events.EventPayload{
				"phase":            phase,
				"iteration":        res.Iteration,
				"attempt":          attempt,
				"score":            res.Evaluation.Score,
				"issues":           res.Snapshot.Issues,
				"improvements":     res.Evaluation.Improvements,
				"next_improvement": res.NextImprovement,
				"source":           in.Source,
			},
		})
		for _, is := range added {
			entries = append(entries, events.Entry{
				Type: events.BlockedAdded, EntityKind: "blocked", EntityID: is.Category,
				Payload: events.EventPayload{"phase": phase, "severity": is.Severity, "description": is.Description},
			})
		}
		for _, cat := range resolved {
			entries = append(entries, events.Entry{
				Type: events.BlockedResolved, EntityKind: "blocked", EntityID: cat,
				Payload: events.EventPayload{"phase": phase},
			})
		}
		entries = append(entries, events.Entry{
			Type: events.VerdictDecided, EntityKind: "verdict", EntityID: artifactID(phase, attempt),
			Payload: events.EventPayload{
				"phase":   phase,
				"verdict": res.Verdict.Kind,
				"target":  res.Verdict.Target,
				"reason":  res.Verdict.Reason,
				"score":   res.Evaluation.Score,
				"held":    res.Held,
			},
		})
		for i := range entries {
			entries[i].ProjectID = projectID
			entries[i].ActorID = in.ActorID
		}
		if err := e.events().Append(ctx, tx, entries...); err != nil {
			return err
		}
		return e.commitStateTx(ctx, tx, prev, next, res.Verdict.String(), in.ActorID)
	})
	if err != nil {
		return ReviewResult{}, err
	}
	res.State = next.View()
	e.observe(projectID, res, in)
	return res, nil
}

func (e Engine) observe(projectID string, res ReviewResult, in ReviewInput) {
	m := metrics.Get()
	phase := string(res.Phase)
	m.ReviewsTotal.WithLabelValues(phase).Inc()
	m.Scores.WithLabelValues(phase).Observe(res.Evaluation.Score)
	m.VerdictsTotal.WithLabelValues(phase, string(res.Verdict.Kind)).Inc()
	for _, is := range res.Evaluation.Issues {
		m.IssuesTotal.WithLabelValues(phase, string(is.Severity)).Inc()
	}
	fields := []zap.Field{
		zap.String("project_id", projectID),
		zap.String("phase", phase),
		zap.Int("iteration", res.Iteration),
		zap.Float64("score", res.Evaluation.Score),
		zap.String("verdict", res.Verdict.String()),
	}
	if in.Unavailable != nil {
		e.logger().Warn("content unavailable", append(fields, zap.Error(in.Unavailable))...)
	}
	if res.Held {
		fields = append(fields, zap.Bool("held", true))
	}
	e.logger().Info("review recorded", fields...)
}

func artifactID(phase domain.Phase, attempt int) string {
	return fmt.Sprintf("%s/%d", phase, attempt)
}

// checkPassScore rejects an override that would lower the configured bar.
func checkPassScore(pc config.PhaseConfig, phase domain.Phase, passScore float64) error {
	if passScore <= 0 || passScore >= pc.Pass() {
		return nil
	}
	return &config.ConfigError{
		Field:  "pass_score",
		Reason: fmt.Sprintf("%v is below %s pass score %v", passScore, phase, pc.Pass()),
	}
}
