package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"text/template"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"phasegate/internal/domain"
)

const defaultModel = "claude-3-5-haiku-latest"

var errAPIKeyRequired = errors.New("API key required")

// Anthropic asks a Claude model to write the artifact for a phase.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	prompt    *template.Template
}

// NewAnthropic builds the producer. ANTHROPIC_API_KEY takes precedence over
// apiKey and ANTHROPIC_MODEL over model.
func NewAnthropic(apiKey, model string, maxTokens int, opts ...option.RequestOption) (*Anthropic, error) {
	if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
		apiKey = env
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", errAPIKeyRequired)
	}
	if env := os.Getenv("ANTHROPIC_MODEL"); env != "" {
		model = env
	}
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	tmpl, err := template.New("produce").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
		prompt:    tmpl,
	}, nil
}

func (a *Anthropic) Produce(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, req); err != nil {
		return domain.Artifact{}, fmt.Errorf("render prompt: %w", err)
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buf.String())),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Artifact{}, ctx.Err()
		}
		return domain.Artifact{}, unavailable(req, "anthropic: %v", err)
	}
	var out bytes.Buffer
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return domain.Artifact{}, unavailable(req, "model returned no text")
	}
	return domain.Artifact{Phase: req.Phase, Iteration: req.Attempt, Content: out.String(), Source: "anthropic:" + string(a.model)}, nil
}

const promptTemplate = `You are producing the {{.Phase}} artifact of a software project (iteration {{.Iteration}}).
{{if .Description}}
Project description:
{{.Description}}
{{end}}{{if .FromRollback}}
This phase was re-entered after a later phase found a defect rooted here. Address it.
{{end}}{{if .NextImprovement}}
Most important fix from the last review: {{.NextImprovement}}
{{end}}{{if .Blocked}}
Open blocking issues:
{{range .Blocked}}- [{{.Severity}}] {{.Category}}: {{.Description}}
{{end}}{{end}}
Write the complete artifact in markdown. Output only the artifact.`
