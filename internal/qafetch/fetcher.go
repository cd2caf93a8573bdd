// Package qafetch retrieves and parses a trial's QA correspondence from
// the registry's results-submission page.
package qafetch

import (
	"context"

	"github.com/sells-group/trial-tracker/internal/model"
)

// Fetcher returns the QA correspondence events for one trial, ordered by
// submission date ascending. An empty slice with a nil error means the
// registry shows no submission history (the trial has left QA entirely);
// an error means the fetch or parse failed and the caller should leave
// stored events untouched for this cycle.
type Fetcher interface {
	Events(ctx context.Context, registryID string) ([]model.QAEvent, error)
}
