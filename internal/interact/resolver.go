// Package interact resolves interactions against a remote UI surface by
// trying an ordered list of techniques until one succeeds.
package interact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Strategy is one interaction technique against a logical target.
type Strategy interface {
	Name() string
	Do(ctx context.Context) error
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc struct {
	Technique string
	Fn        func(ctx context.Context) error
}

func (s StrategyFunc) Name() string { return s.Technique }

func (s StrategyFunc) Do(ctx context.Context) error { return s.Fn(ctx) }

// Resolver tries strategies in order against one target. The first success
// wins and later strategies never run. Individual failures are logged and
// swallowed; only exhaustion of the whole list surfaces an error.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver logging attempts through the given logger.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Attempt runs the strategies in order and returns nil on the first
// success. When every strategy fails the individual errors are joined.
func (r *Resolver) Attempt(ctx context.Context, target string, strategies []Strategy) error {
	if len(strategies) == 0 {
		return fmt.Errorf("no strategies configured for target %q", target)
	}

	var failures []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Do(ctx)
		if err == nil {
			r.logger.Debug("Interaction succeeded",
				slog.String("target", target),
				slog.String("technique", s.Name()),
			)
			return nil
		}

		r.logger.Warn("Interaction technique failed, trying next",
			slog.String("target", target),
			slog.String("technique", s.Name()),
			slog.String("error", err.Error()),
		)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
	}

	return fmt.Errorf("all %d techniques failed for target %q: %w",
		len(strategies), target, errors.Join(failures...))
}
