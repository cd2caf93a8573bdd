// Package qa reconciles a trial's regulator-correspondence history into a
// single effective submission timeline. Submission to the QA process counts
// as compliance even before results are publicly posted, so the dates
// derived here drive both lateness and status computation.
package qa

import (
	"sort"
	"time"

	"github.com/sells-group/trial-tracker/internal/model"
)

// EarliestCancellationDate is the first date the registry is known to have
// recorded cancellations. Upstream substitutes it when a cancellation date
// reads "unknown"; the substitution is deliberately late-favoring and
// callers must not second-guess it.
var EarliestCancellationDate = time.Date(2018, time.July, 5, 0, 0, 0, 0, time.UTC)

// Timeline is the reconciled state of a trial's QA correspondence.
type Timeline struct {
	// OriginalStartDate is the submission date of the first event, nil if
	// there are none. Once QA completes, the trial is treated as having
	// reported on this date.
	OriginalStartDate *time.Time
	// Cancelled is true when the most recent event was cancelled by the
	// sponsor, i.e. no submission is currently live.
	Cancelled bool
	// RestartDate is the earliest submission following the last
	// cancellation. Non-nil only when the most recent event is open.
	RestartDate *time.Time
}

// Reconcile derives the timeline from a trial's QA events. Events are
// walked newest-first: the scan records each open submission's date as the
// restart date and stops at the first cancellation, so the most recent
// event decides whether the thread is currently cancelled or live.
// ReturnedToSponsor is informational and plays no part here.
func Reconcile(events []model.QAEvent) Timeline {
	var tl Timeline
	if len(events) == 0 {
		return tl
	}

	sorted := make([]model.QAEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SubmittedToRegulator.Before(sorted[j].SubmittedToRegulator)
	})

	first := sorted[0].SubmittedToRegulator
	tl.OriginalStartDate = &first

	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].CancelledBySponsor != nil {
			tl.Cancelled = true
			break
		}
		restart := sorted[i].SubmittedToRegulator
		tl.RestartDate = &restart
	}
	return tl
}
