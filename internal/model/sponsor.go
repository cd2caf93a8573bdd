package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sponsor is one trial sponsor, keyed by a normalized slug of its name.
type Sponsor struct {
	Slug              string    `json:"slug"`
	Name              string    `json:"name"`
	IsIndustrySponsor *bool     `json:"is_industry_sponsor,omitempty"`
	UpdatedDate       time.Time `json:"updated_date"`
}

// Ranking is the per-sponsor, per-snapshot-date compliance rollup.
// Rows are unique per (sponsor, date). Percentage is nil when due is zero;
// Rank is nil when Percentage is nil.
type Ranking struct {
	SponsorSlug     string     `json:"sponsor_slug"`
	SponsorName     string     `json:"sponsor_name"`
	Date            time.Time  `json:"date"`
	Due             int        `json:"due"`
	Reported        int        `json:"reported"`
	Total           int        `json:"total"`
	Overdue         int        `json:"overdue"`
	ReportedLate    int        `json:"reported_late"`
	ReportedOnTime  int        `json:"reported_on_time"`
	DaysLate        *int       `json:"days_late,omitempty"`
	FinableDaysLate *int       `json:"finable_days_late,omitempty"`
	Percentage      *float64   `json:"percentage,omitempty"`
	Rank            *int       `json:"rank,omitempty"`
}

// ImportLog records one snapshot-processing run.
type ImportLog struct {
	ID           string     `json:"id"`
	SnapshotDate time.Time  `json:"snapshot_date"`
	RowCount     int        `json:"row_count"`
	QAFetched    int        `json:"qa_fetched"`
	Vanished     int        `json:"vanished"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// deaccenter strips combining marks so "Hôpital" slugs to "hopital".
var deaccenter = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify normalizes a sponsor name into its stable key: lowercase ASCII
// with runs of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	stripped, _, err := transform.String(deaccenter, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingHyphen := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}
