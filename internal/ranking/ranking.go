// Package ranking recomputes per-sponsor compliance rollups for a
// snapshot date and assigns dense ranks by percentage reported.
package ranking

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/store"
)

// FinePerDay is the statutory maximum civil penalty per day of finable
// lateness, in dollars. Used only for the fines estimate.
const FinePerDay = 11569

// Recompute builds one Ranking row per sponsor over its visible trials,
// assigns dense ranks across the date, and persists the result. Sponsors
// with no visible trials still get a row, with zero counts and no rank.
func Recompute(ctx context.Context, s store.Store, date time.Time) ([]model.Ranking, error) {
	sponsors, err := s.ListSponsors(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list sponsors")
	}
	trials, err := s.ListTrials(ctx, store.TrialFilter{VisibleOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list trials")
	}

	bySponsor := make(map[string][]model.Trial)
	for _, t := range trials {
		bySponsor[t.SponsorSlug] = append(bySponsor[t.SponsorSlug], t)
	}

	rankings := make([]model.Ranking, 0, len(sponsors))
	for _, sp := range sponsors {
		rankings = append(rankings, buildRanking(sp, bySponsor[sp.Slug], date))
	}
	assignRanks(rankings)

	if err := s.PutRankings(ctx, rankings); err != nil {
		return nil, eris.Wrap(err, "ranking: put rankings")
	}
	zap.L().Info("ranking: recomputed",
		zap.Time("date", date),
		zap.Int("sponsors", len(rankings)),
	)
	return rankings, nil
}

func buildRanking(sponsor model.Sponsor, trials []model.Trial, date time.Time) model.Ranking {
	r := model.Ranking{
		SponsorSlug: sponsor.Slug,
		SponsorName: sponsor.Name,
		Date:        date,
		Total:       len(trials),
	}

	var daysLate, finable int
	var anyDaysLate, anyFinable bool
	for i := range trials {
		t := &trials[i]
		switch t.Status {
		case model.StatusOverdue, model.StatusOverdueCancelled:
			r.Due++
			r.Overdue++
		case model.StatusReported:
			r.Due++
			r.Reported++
			r.ReportedOnTime++
		case model.StatusReportedLate:
			r.Due++
			r.Reported++
			r.ReportedLate++
		}
		if t.DaysLate != nil {
			daysLate += *t.DaysLate
			anyDaysLate = true
		}
		if t.FinableDaysLate != nil {
			finable += *t.FinableDaysLate
			anyFinable = true
		}
	}
	if anyDaysLate {
		r.DaysLate = &daysLate
	}
	if anyFinable {
		r.FinableDaysLate = &finable
	}
	if r.Due > 0 {
		pct := round2(float64(r.Reported) / float64(r.Due) * 100)
		r.Percentage = &pct
	}
	return r
}

// assignRanks gives ties the same rank and the next distinct percentage
// exactly one more. Rows without a percentage get no rank.
func assignRanks(rankings []model.Ranking) {
	ranked := make([]*model.Ranking, 0, len(rankings))
	for i := range rankings {
		if rankings[i].Percentage != nil {
			ranked = append(ranked, &rankings[i])
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Percentage > *ranked[j].Percentage
	})

	rank := 0
	var prev float64
	for i, r := range ranked {
		if i == 0 || *r.Percentage != prev {
			rank++
			prev = *r.Percentage
		}
		n := rank
		r.Rank = &n
	}
}

// PerformanceSummary is the headline aggregate across all sponsors for
// one snapshot date.
type PerformanceSummary struct {
	Date          time.Time `json:"date"`
	Due           int       `json:"due"`
	Reported      int       `json:"reported"`
	DaysLate      int       `json:"days_late"`
	FinesEstimate int64     `json:"fines_estimate"`
}

// Summarize totals ranking rows for the given date (latest on record when
// nil). DaysLate is the finable sum; the fines estimate prices it at
// FinePerDay. Returns (nil, nil) when no rankings exist yet.
func Summarize(ctx context.Context, s store.Store, date *time.Time) (*PerformanceSummary, error) {
	rankings, err := s.ListRankings(ctx, store.RankingFilter{Date: date})
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list rankings")
	}
	if len(rankings) == 0 {
		return nil, nil
	}

	summary := &PerformanceSummary{Date: rankings[0].Date}
	for i := range rankings {
		r := &rankings[i]
		summary.Due += r.Due
		summary.Reported += r.Reported
		if r.FinableDaysLate != nil {
			summary.DaysLate += *r.FinableDaysLate
		}
	}
	summary.FinesEstimate = int64(summary.DaysLate) * FinePerDay
	return summary, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
