// Package producer holds the adapters that supply artifact content for a
// phase iteration. Producers never score or persist anything.
package producer

import (
	"context"
	"errors"
	"fmt"

	"phasegate/internal/config"
	"phasegate/internal/domain"
)

// ErrContentUnavailable is returned when a producer has nothing to offer for
// the requested phase and iteration.
var ErrContentUnavailable = errors.New("content unavailable")

type Producer interface {
	Produce(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error)
}

// Func adapts a function to Producer.
type Func func(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error)

func (f Func) Produce(ctx context.Context, req domain.ProduceRequest) (domain.Artifact, error) {
	return f(ctx, req)
}

// New builds the producer selected by cfg.Kind.
func New(cfg config.ProducerConfig) (Producer, error) {
	switch cfg.Kind {
	case "", config.ProducerStatic:
		return NewStatic(nil), nil
	case config.ProducerFile:
		dir := cfg.Dir
		if dir == "" {
			dir = "phase_outputs"
		}
		return File{Dir: dir}, nil
	case config.ProducerAnthropic:
		return NewAnthropic("", cfg.Model, cfg.MaxTokens)
	}
	return nil, &config.ConfigError{Field: "producer.kind", Reason: fmt.Sprintf("unknown producer %q", cfg.Kind)}
}

func unavailable(req domain.ProduceRequest, format string, args ...any) error {
	return fmt.Errorf("%w: %s iteration %d: %s", ErrContentUnavailable, req.Phase, req.Iteration, fmt.Sprintf(format, args...))
}
