package model

import "time"

// TrialStatus represents the compliance state of a trial.
type TrialStatus string

const (
	// StatusOngoing is the default state: results not yet due, or due but
	// still inside the grace period.
	StatusOngoing TrialStatus = "ongoing"
	// StatusOverdue means results are due, late, and nothing has been
	// submitted to the regulator.
	StatusOverdue TrialStatus = "overdue"
	// StatusOverdueCancelled means a QA submission existed but the sponsor
	// cancelled it and never resubmitted, so the trial is still overdue.
	StatusOverdueCancelled TrialStatus = "overdue-cancelled"
	// StatusReported means results were published or submitted on time.
	StatusReported TrialStatus = "reported"
	// StatusReportedLate means results were published or submitted after
	// the deadline.
	StatusReportedLate TrialStatus = "reported-late"
	// StatusNoLongerTracked is terminal: the trial vanished from a
	// snapshot and is excluded from all aggregation.
	StatusNoLongerTracked TrialStatus = "no-longer-tracked"
)

// Trial is one registered clinical trial, keyed by its registry identifier.
//
// DaysLate, FinableDaysLate, Status and PreviousStatus are computed fields
// owned by the compliance computer; ingestion never writes them.
type Trial struct {
	RegistryID      string      `json:"registry_id"`
	SponsorSlug     string      `json:"sponsor_slug"`
	Title           string      `json:"title"`
	PublicationURL  string      `json:"publication_url"`
	StartDate       time.Time   `json:"start_date"`
	CompletionDate  *time.Time  `json:"completion_date,omitempty"`
	HasExemption    bool        `json:"has_exemption"`
	IsProbableTrial bool        `json:"is_probable_trial"`
	ResultsDue      bool        `json:"results_due"`
	HasResults      bool        `json:"has_results"`
	ReportedDate    *time.Time  `json:"reported_date,omitempty"`
	DaysLate        *int        `json:"days_late,omitempty"`
	FinableDaysLate *int        `json:"finable_days_late,omitempty"`
	Status          TrialStatus `json:"status"`
	PreviousStatus  TrialStatus `json:"previous_status,omitempty"`
	FirstSeenDate   time.Time   `json:"first_seen_date"`
	UpdatedDate     time.Time   `json:"updated_date"`
}

// Visible reports whether the trial counts toward sponsor aggregation.
func (t *Trial) Visible() bool {
	return t.Status != StatusNoLongerTracked
}

// QAEvent is one submission/return/cancellation cycle in the regulator
// correspondence for a trial. Events for a trial are ordered by
// SubmittedToRegulator ascending; that ordering is load-bearing for
// timeline reconciliation.
type QAEvent struct {
	RegistryID               string     `json:"registry_id"`
	SubmittedToRegulator     time.Time  `json:"submitted_to_regulator"`
	ReturnedToSponsor        *time.Time `json:"returned_to_sponsor,omitempty"`
	CancelledBySponsor       *time.Time `json:"cancelled_by_sponsor,omitempty"`
	CancellationDateInferred bool       `json:"cancellation_date_inferred"`
	FirstSeenDate            time.Time  `json:"first_seen_date"`
}
