package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"phasegate/internal/config"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/report"
	"phasegate/internal/repo"
	"phasegate/internal/workflow"
)

type handlers struct {
	cfg Config
	e   engine.Engine
	log *zap.Logger
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func parseOptionalPhase(s string) (domain.Phase, huma.StatusError) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	p, err := domain.ParsePhase(s)
	if err != nil {
		return "", badRequest("%v", err)
	}
	return p, nil
}

func (h handlers) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		id := strings.TrimSpace(input.Body.ID)
		if id == "" {
			return nil, badRequest("id is required")
		}
		cfg := config.Default(id)
		if input.Body.ConfigYAML != "" {
			parsed, err := config.FromYAML([]byte(input.Body.ConfigYAML))
			if err != nil {
				return nil, handleError(err)
			}
			cfg = parsed
		}
		p, err := h.e.InitProject(ctx, id, input.Body.Description, actorID, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		items, err := h.e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		p, err := h.e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project lifecycle status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Status `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		st, err := h.e.Status(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Status `json:"body"`
		}{Body: st}, nil
	})
}

func (h handlers) registerConfig(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		cfg, err := h.e.Repo.GetProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-project-config",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/config",
		Summary:     "Replace project config from YAML",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      PutConfigRequest `json:"body"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.e.UpdateConfig(ctx, input.ProjectID, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func (h handlers) registerReviews(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/evaluate",
		Summary:     "Score content without recording it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      EvaluateRequest `json:"body"`
	}) (*struct {
		Body domain.Evaluation `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		phase, perr := parseOptionalPhase(input.Body.Phase)
		if perr != nil {
			return nil, perr
		}
		ev, err := h.e.Evaluate(ctx, input.ProjectID, phase, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evaluation `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/decide",
		Summary:     "Preview the gate verdict for a score and issues",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      DecideRequest `json:"body"`
	}) (*struct {
		Body VerdictResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		phase, perr := parseOptionalPhase(input.Body.Phase)
		if perr != nil {
			return nil, perr
		}
		v, err := h.e.Decide(ctx, input.ProjectID, engine.DecideInput{
			Phase:     phase,
			Score:     input.Body.Score,
			Issues:    input.Body.Issues,
			Iteration: input.Body.Iteration,
			PassScore: input.Body.PassScore,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerdictResponse `json:"body"`
		}{Body: VerdictResponse{Verdict: v}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reviews",
		Summary:     "Review content for the current phase and apply the verdict",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      ReviewRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		phase, perr := parseOptionalPhase(input.Body.Phase)
		if perr != nil {
			return nil, perr
		}
		source := input.Body.Source
		if source == "" {
			source = "api"
		}
		res, err := h.e.Review(ctx, input.ProjectID, engine.ReviewInput{
			Phase:      phase,
			Content:    input.Body.Content,
			Source:     source,
			PassScore:  input.Body.PassScore,
			HoldOnPass: input.Body.HoldOnPass,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: res}, nil
	})
}

func (h handlers) registerTransitions(api huma.API) {
	type stateOutput struct {
		Body domain.Status `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-mode",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/mode",
		Summary:     "Switch between developer and reviewer mode",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		Body      ModeRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		mode := domain.Mode(input.Body.Mode)
		if !mode.Valid() {
			return nil, badRequest("invalid mode %q", input.Body.Mode)
		}
		s, err := h.e.SetMode(ctx, input.ProjectID, mode, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &stateOutput{Body: s.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "force-advance",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/force-advance",
		Summary:     "Advance past the current phase regardless of score",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      ForceAdvanceRequest `json:"body" required:"false"`
	}) (*stateOutput, error) {
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.ForceAdvance(ctx, input.ProjectID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &stateOutput{Body: s.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/rollback",
		Summary:     "Roll back to an earlier phase",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      RollbackRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := authorize(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		target, err := domain.ParsePhase(input.Body.Target)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		s, err := h.e.Rollback(ctx, input.ProjectID, target, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &stateOutput{Body: s.View()}, nil
	})
}

func (h handlers) registerRuns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "start-run",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/runs",
		Summary:     "Drive the project through its phases",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string     `path:"project_id"`
		Body      RunRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.RunSummary `json:"body"`
	}, error) {
		actorID, authErr := authorize(ctx, PermWorkflowRun)
		if authErr != nil {
			return nil, authErr
		}
		policy, err := workflow.ParsePolicy(input.Body.Policy)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := h.e.ProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := h.cfg.newProducer(cfg.Producer)
		if err != nil {
			return nil, handleError(err)
		}
		d := workflow.Driver{Engine: h.e, Producer: p, LockDir: h.cfg.LockDir, Logger: h.log}
		sum, err := d.Run(ctx, input.ProjectID, workflow.Params{
			Policy:             policy,
			TargetScore:        input.Body.TargetScore,
			ExtraIterations:    input.Body.ExtraIterations,
			MaxPhases:          input.Body.MaxPhases,
			MaxTotalIterations: input.Body.MaxTotalIterations,
			ActorID:            actorID,
		})
		if err != nil && sum.RunID == "" {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs",
		Summary:     "List recent workflow runs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"20"`
	}) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		runs, err := h.e.Runs(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs/{run_id}",
		Summary:     "Get a workflow run with its summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RunID     string `path:"run_id"`
	}) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		run, err := h.e.Run(ctx, input.ProjectID, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})
}

func (h handlers) registerLedger(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/snapshots/{phase}/{iteration}",
		Summary:     "Get the issue snapshot of one review",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `path:"phase"`
		Iteration int    `path:"iteration"`
	}) (*struct {
		Body domain.Snapshot `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		phase, err := domain.ParsePhase(input.Phase)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		snap, err := h.e.Ledger().Load(ctx, input.ProjectID, phase, input.Iteration)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Snapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blocked",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/blocked",
		Summary:     "List blocked issues",
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		IncludeResolved bool   `query:"include_resolved"`
	}) (*struct {
		Body BlockedResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		if _, err := h.e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.Ledger().ListBlocked(ctx, input.ProjectID, !input.IncludeResolved)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.BlockedIssue{}
		}
		return &struct {
			Body BlockedResponse `json:"body"`
		}{Body: BlockedResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "statistics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/statistics",
		Summary:     "Issue statistics by phase and severity",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Statistics `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		if _, err := h.e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		stats, err := h.e.Ledger().Statistics(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Statistics `json:"body"`
		}{Body: stats}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		items, err := h.e.Repo.LatestEvents(ctx, repo.EventFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     input.Cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerReport(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "report",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/report",
		Summary:     "Project report as markdown or JSON",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Format    string `query:"format" enum:"markdown,json,history" default:"markdown"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, err := authorize(ctx, PermProjectRead); err != nil {
			return nil, err
		}
		out := &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/markdown; charset=utf-8"}
		switch input.Format {
		case "history":
			evs, err := report.History(ctx, h.e, input.ProjectID, 0)
			if err != nil {
				return nil, handleError(err)
			}
			out.Body = []byte(report.ReviewHistory(evs))
			return out, nil
		}
		d, err := report.Collect(ctx, h.e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Format == "json" {
			data, err := json.Marshal(d)
			if err != nil {
				return nil, handleError(err)
			}
			out.ContentType, out.Body = "application/json", data
			return out, nil
		}
		out.Body = []byte(report.Markdown(d))
		return out, nil
	})
}
