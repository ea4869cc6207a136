package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// saga collects compensating actions for a multi-step write that cannot share
// one transaction. Compensations run newest first.
type saga struct {
	name  string
	steps []sagaStep
}

type sagaStep struct {
	name string
	undo func(ctx context.Context) error
}

func newSaga(name string) *saga {
	return &saga{name: name}
}

// onFailure registers undo for a step that has completed.
func (s *saga) onFailure(step string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, sagaStep{name: step, undo: undo})
}

// abort runs every registered compensation and returns cause joined with any
// compensation failures. It ignores ctx cancellation so a client hanging up
// mid-request cannot strand half a write.
func (s *saga) abort(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			slog.ErrorContext(ctx, "compensation failed",
				"saga", s.name,
				"step", step.name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("compensating %s: %w", step.name, err))
		}
	}
	slog.WarnContext(ctx, "saga aborted", "saga", s.name, "cause", cause, "compensated_steps", len(s.steps))
	return errors.Join(errs...)
}
