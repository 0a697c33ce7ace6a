package crew

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/project"
)

type timeoutAdapter struct {
	inner Adapter
	d     time.Duration
}

// WithTimeout bounds each call to inner by d. The deadline surfaces as an
// AdapterError of kind timeout, and the call returns when the deadline
// passes even if inner ignores its context.
func WithTimeout(inner Adapter, d time.Duration) Adapter {
	if d <= 0 {
		return inner
	}
	return &timeoutAdapter{inner: inner, d: d}
}

type result struct {
	art Artifact
	err error
}

func (t *timeoutAdapter) Execute(ctx context.Context, phase project.Phase, in Input) (Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		art, err := t.inner.Execute(ctx, phase, in)
		done <- result{art: art, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterTimeout, string(phase), r.err)
			}
			return Artifact{}, apperrors.AsAdapterError(string(phase), r.err)
		}
		return r.art, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterTimeout, string(phase),
				fmt.Errorf("crew exceeded %s: %w", t.d, apperrors.ErrTimeout))
		}
		return Artifact{}, apperrors.NewAdapterError(apperrors.AdapterBackend, string(phase), ctx.Err())
	}
}
