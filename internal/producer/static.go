package producer

import (
	"context"
	"strings"

	"phasegate/internal/domain"
)

// Static returns fixed content per phase. It backs dry runs and tests.
type Static struct {
	Content map[domain.Phase]string
}

// NewStatic uses content, or a sample set that clears the default checklist when nil.
func NewStatic(content map[domain.Phase]string) Static {
	if content == nil {
		content = SampleContent()
	}
	return Static{Content: content}
}

func (s Static) Produce(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	content, ok := s.Content[req.Phase]
	if !ok || strings.TrimSpace(content) == "" {
		return domain.Artifact{}, unavailable(req, "no static content")
	}
	return domain.Artifact{Phase: req.Phase, Iteration: req.Attempt, Content: content, Source: "static"}, nil
}

// SampleContent returns one artifact per phase that satisfies every default criterion.
func SampleContent() map[domain.Phase]string {
	return map[domain.Phase]string{
		domain.PhaseBasicDesign: `# Basic design
Business process: orders flow from intake to fulfilment; the business logic is listed per requirement.
Database: one table per aggregate, schema below.
Architecture: three layer system, each module owns its data.
Interface: REST api for external clients.`,
		domain.PhaseDetailDesign: `# Detail design
Class diagram with every method listed.
Data structure definitions for each type.
Algorithm in pseudocode for allocation.
Module dependency graph keeps coupling low.`,
		domain.PhaseDevelopment: "// Development\nfunc Allocate(orders []Order) error {\n" +
			strings.Repeat("\t// step: validate, return error on failure, keep performance linear\n", 20) +
			"\treturn nil\n}\n",
		domain.PhaseUnitTest: `# Unit tests
Coverage above 90%.
Boundary and edge cases for empty input.
Exception and error paths asserted.`,
		domain.PhaseIntegrationTest: `# Integration tests
Integration across every module.
Performance run at peak load.
Stability soak for 24h with reliability targets.`,
	}
}
