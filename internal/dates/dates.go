// Package dates holds the deadline and lateness arithmetic for the
// results-reporting mandate. All functions are pure and operate on
// calendar dates (midnight UTC); callers are responsible for truncating
// wall-clock times with Day before storing them.
package dates

import "time"

const (
	// OverdueDays is the reporting deadline offset from completion.
	OverdueDays = 365
	// GracePeriodDays is the window after the deadline during which a
	// trial is not treated as late (and never as finable).
	GracePeriodDays = 30
	// ExemptionYears is the extended deadline for trials holding a
	// certificate of exemption.
	ExemptionYears = 3
)

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b (negative when
// b precedes a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Max returns the later of two dates.
func Max(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// DueDate returns the deadline by which results must be reported:
// 365 days after completion, or three years for exempted trials.
func DueDate(completion time.Time, hasExemption bool) time.Time {
	if hasExemption {
		return Day(completion).AddDate(ExemptionYears, 0, 0)
	}
	return Day(completion).AddDate(0, 0, OverdueDays)
}

// DaysLate returns the number of days the effective reporting date falls
// past the deadline, or nil when it does not (zero lateness is represented
// as absence). With withGrace set, lateness at or under the grace period
// also collapses to nil. A nil effective or completion date yields nil.
func DaysLate(effective, completion *time.Time, withGrace bool) *int {
	if effective == nil || completion == nil {
		return nil
	}
	late := DaysBetween(Day(*completion).AddDate(0, 0, OverdueDays), *effective)
	if late < 0 {
		late = 0
	}
	if withGrace && late-GracePeriodDays <= 0 {
		late = 0
	}
	if late == 0 {
		return nil
	}
	return &late
}

// FinableDaysLate returns the lateness exceeding the grace period, or nil
// when there is none.
func FinableDaysLate(daysLate *int) *int {
	if daysLate == nil {
		return nil
	}
	finable := *daysLate - GracePeriodDays
	if finable <= 0 {
		return nil
	}
	return &finable
}
