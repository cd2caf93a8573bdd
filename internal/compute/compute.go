// Package compute derives the compliance metadata for a trial: how many
// days late it is, whether any of that lateness is finable, and which
// status it currently holds.
package compute

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-tracker/internal/dates"
	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/qa"
)

// Computer computes trial compliance metadata. The clock is injectable so
// historical snapshots can be reprocessed deterministically; importers set
// it to the later of wall-clock today and the snapshot date.
type Computer struct {
	Now func() time.Time
}

// New returns a Computer on the system clock.
func New() *Computer {
	return &Computer{Now: time.Now}
}

func (c *Computer) today() time.Time {
	if c.Now == nil {
		return dates.Day(time.Now())
	}
	return dates.Day(c.Now())
}

// ComputeMetadata mutates the trial's computed fields: DaysLate first
// (status logic branches on it), then FinableDaysLate, then
// PreviousStatus, then Status. The caller persists the trial.
//
// A trial marked has_results with no reported date violates the ingestion
// contract and aborts the snapshot rather than being patched over.
func (c *Computer) ComputeMetadata(trial *model.Trial, events []model.QAEvent) error {
	daysLate, err := c.daysLate(trial, events)
	if err != nil {
		return err
	}
	trial.DaysLate = daysLate
	trial.FinableDaysLate = dates.FinableDaysLate(daysLate)

	prev := trial.Status
	if prev == "" {
		prev = model.StatusOngoing
	}

	// A trial can go overdue and receive its first QA submission within
	// the same snapshot. Ingestion stamps the trial before the
	// correspondence pass runs, which would record a one-day overdue
	// transition that never really happened; keep the prior ongoing
	// state instead. This corrects a data-ordering artifact of the
	// two-pass import, not a property of the compliance rules.
	if prev == model.StatusOverdue && trial.PreviousStatus == model.StatusOngoing &&
		earliestFirstSeen(events, trial.UpdatedDate) {
		prev = model.StatusOngoing
	}

	trial.PreviousStatus = prev
	trial.Status = c.status(trial, events)
	return nil
}

func earliestFirstSeen(events []model.QAEvent, updated time.Time) bool {
	if len(events) == 0 {
		return false
	}
	earliest := events[0]
	for _, e := range events[1:] {
		if e.SubmittedToRegulator.Before(earliest.SubmittedToRegulator) {
			earliest = e
		}
	}
	return dates.Day(earliest.FirstSeenDate).Equal(dates.Day(updated))
}

// daysLate returns how many days past the deadline the trial's effective
// reporting date falls, nil when the trial is not late or not yet due.
func (c *Computer) daysLate(trial *model.Trial, events []model.QAEvent) (*int, error) {
	if !trial.ResultsDue {
		return nil, nil
	}

	if trial.HasResults {
		if trial.ReportedDate == nil {
			return nil, eris.Errorf("compute: trial %s has results but no reported date", trial.RegistryID)
		}
		return dates.DaysLate(trial.ReportedDate, trial.CompletionDate, false), nil
	}

	// Due with nothing published: the QA timeline stands in for the
	// reporting date.
	tl := qa.Reconcile(events)
	today := c.today()

	var late *int
	if tl.OriginalStartDate != nil {
		late = dates.DaysLate(tl.OriginalStartDate, trial.CompletionDate, false)
	}
	if tl.RestartDate != nil {
		late = dates.DaysLate(tl.RestartDate, trial.CompletionDate, false)
	} else if tl.Cancelled {
		late = dates.DaysLate(&today, trial.CompletionDate, true)
	}
	if tl.OriginalStartDate == nil {
		late = dates.DaysLate(&today, trial.CompletionDate, true)
	}
	return late, nil
}

// status derives the trial's compliance state. Must run after DaysLate is
// set. The switch over possibilities is exhaustive; adding a status means
// deciding where it fits here.
func (c *Computer) status(trial *model.Trial, events []model.QAEvent) model.TrialStatus {
	late := trial.DaysLate != nil

	if !trial.ResultsDue {
		if trial.HasResults {
			// Reported early.
			return model.StatusReported
		}
		return model.StatusOngoing
	}

	if trial.HasResults {
		if late {
			return model.StatusReportedLate
		}
		return model.StatusReported
	}

	tl := qa.Reconcile(events)
	if tl.OriginalStartDate != nil {
		// Nothing published, but results were submitted. An uncancelled
		// submission counts as reported: the regulator accepted it.
		// Cancellation only matters once the trial is late.
		if late {
			if tl.Cancelled && tl.RestartDate == nil {
				return model.StatusOverdueCancelled
			}
			return model.StatusReportedLate
		}
		return model.StatusReported
	}

	// Neither published nor submitted.
	if late {
		return model.StatusOverdue
	}
	return model.StatusOngoing
}
