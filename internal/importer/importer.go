// Package importer reconciles a registry snapshot against stored state:
// sponsors and trials are upserted, QA correspondence refreshed, compliance
// metadata recomputed, vanished trials retired, and sponsor rankings
// rebuilt, all as one atomic unit.
package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trial-tracker/internal/compute"
	"github.com/sells-group/trial-tracker/internal/dates"
	"github.com/sells-group/trial-tracker/internal/ingest"
	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/qafetch"
	"github.com/sells-group/trial-tracker/internal/ranking"
	"github.com/sells-group/trial-tracker/internal/store"
)

const defaultFetchConcurrency = 4

// Processor runs snapshot imports. Now is injectable for reprocessing
// historical snapshots; it defaults to the system clock.
type Processor struct {
	Store store.Store
	QA    qafetch.Fetcher
	Now   func() time.Time
	// FetchConcurrency bounds parallel correspondence fetches.
	FetchConcurrency int
}

// ProcessSnapshot applies one snapshot's rows for the given date. The
// returned import log records counts whether the run succeeded or failed.
//
// Reprocessing the same snapshot is idempotent: first_seen_date fields
// and previous_status survive, QA events upsert by submission date, and
// the compliance clock is pinned to the later of today and the snapshot
// date so a past snapshot computes the same lateness on every run.
func (p *Processor) ProcessSnapshot(ctx context.Context, rows []ingest.Row, snapshotDate time.Time) (*model.ImportLog, error) {
	if len(rows) == 0 {
		return nil, eris.New("importer: snapshot has no rows")
	}
	snapshotDate = dates.Day(snapshotDate)

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	today := dates.Max(dates.Day(now()), snapshotDate)
	computer := &compute.Computer{Now: func() time.Time { return today }}

	log := &model.ImportLog{
		ID:           uuid.New().String(),
		SnapshotDate: snapshotDate,
		RowCount:     len(rows),
		Status:       "running",
		StartedAt:    now().UTC(),
	}
	if err := p.Store.PutImportLog(ctx, log); err != nil {
		return nil, err
	}

	zap.L().Info("importer: processing snapshot",
		zap.Time("snapshot_date", snapshotDate),
		zap.Int("rows", len(rows)),
	)

	err := p.Store.InTransaction(ctx, func(tx store.Store) error {
		// The lock must run on the transaction's connection; it is
		// released automatically at commit or rollback.
		if err := tx.AcquireImportLock(ctx); err != nil {
			return err
		}
		if err := p.upsertSponsors(ctx, tx, rows, snapshotDate); err != nil {
			return err
		}
		trials, reprocessed, err := p.upsertTrials(ctx, tx, rows, snapshotDate)
		if err != nil {
			return err
		}
		fetched, err := p.refreshCorrespondence(ctx, tx, trials, snapshotDate)
		if err != nil {
			return err
		}
		log.QAFetched = fetched

		for _, t := range trials {
			events, err := tx.ListQAEvents(ctx, t.RegistryID)
			if err != nil {
				return err
			}
			if err := computer.ComputeMetadata(t, events); err != nil {
				return err
			}
			// A rerun of an already-applied snapshot must not roll the
			// transition record forward; keep the first run's value.
			if prev, ok := reprocessed[t.RegistryID]; ok {
				t.PreviousStatus = prev
			}
			if err := tx.PutTrial(ctx, t); err != nil {
				return err
			}
		}

		vanished, err := tx.MarkVanishedTrials(ctx, snapshotDate)
		if err != nil {
			return err
		}
		log.Vanished = int(vanished)

		_, err = ranking.Recompute(ctx, tx, snapshotDate)
		return err
	})
	return p.finishLog(ctx, log, err)
}

func (p *Processor) finishLog(ctx context.Context, log *model.ImportLog, err error) (*model.ImportLog, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	finished := now().UTC()
	log.FinishedAt = &finished
	if err != nil {
		log.Status = "failed"
	} else {
		log.Status = "succeeded"
	}
	if putErr := p.Store.PutImportLog(context.WithoutCancel(ctx), log); putErr != nil {
		zap.L().Warn("importer: record import log", zap.Error(putErr))
	}
	if err != nil {
		return log, err
	}
	zap.L().Info("importer: snapshot processed",
		zap.Time("snapshot_date", log.SnapshotDate),
		zap.Int("rows", log.RowCount),
		zap.Int("qa_fetched", log.QAFetched),
		zap.Int("vanished", log.Vanished),
	)
	return log, nil
}

// upsertSponsors writes one sponsor per distinct name in the snapshot. An
// industry classification that contradicts the stored one, or another row
// in the same snapshot, is an upstream contract violation and aborts.
func (p *Processor) upsertSponsors(ctx context.Context, tx store.Store, rows []ingest.Row, snapshotDate time.Time) error {
	seen := make(map[string]bool)
	for _, row := range rows {
		slug := model.Slugify(row.SponsorName)
		if slug == "" {
			return eris.Errorf("importer: trial %s has a blank sponsor name", row.RegistryID)
		}
		industry := row.IsIndustrySponsor()

		if wasIndustry, ok := seen[slug]; ok {
			if wasIndustry != industry {
				return eris.Errorf("importer: sponsor %q has conflicting industry classifications in this snapshot", row.SponsorName)
			}
			continue
		}
		seen[slug] = industry

		existing, err := tx.GetSponsor(ctx, slug)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsIndustrySponsor != nil && *existing.IsIndustrySponsor != industry {
			return eris.Errorf("importer: sponsor %q industry classification conflicts with stored value", row.SponsorName)
		}

		if err := tx.PutSponsor(ctx, &model.Sponsor{
			Slug:              slug,
			Name:              row.SponsorName,
			IsIndustrySponsor: &industry,
			UpdatedDate:       snapshotDate,
		}); err != nil {
			return err
		}
	}
	return nil
}

// upsertTrials writes every row's trial, preserving first_seen_date and
// the previously computed status fields for existing trials so the
// computer can track day-over-day transitions. Trials already stamped
// with this snapshot date are being reprocessed; their stored
// previous_status is returned so the caller can pin it.
func (p *Processor) upsertTrials(ctx context.Context, tx store.Store, rows []ingest.Row, snapshotDate time.Time) ([]*model.Trial, map[string]model.TrialStatus, error) {
	trials := make([]*model.Trial, 0, len(rows))
	reprocessed := make(map[string]model.TrialStatus)
	for _, row := range rows {
		trial := &model.Trial{
			RegistryID:      row.RegistryID,
			SponsorSlug:     model.Slugify(row.SponsorName),
			Title:           row.Title,
			PublicationURL:  row.URL,
			StartDate:       row.StartDate,
			CompletionDate:  row.CompletionDate,
			HasExemption:    row.HasExemption,
			IsProbableTrial: row.IsProbableTrial,
			ResultsDue:      row.ResultsDue,
			HasResults:      row.HasResults,
			ReportedDate:    row.ReportedDate,
			FirstSeenDate:   snapshotDate,
			UpdatedDate:     snapshotDate,
		}

		existing, err := tx.GetTrial(ctx, row.RegistryID)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			trial.FirstSeenDate = existing.FirstSeenDate
			trial.Status = existing.Status
			trial.PreviousStatus = existing.PreviousStatus
			trial.DaysLate = existing.DaysLate
			trial.FinableDaysLate = existing.FinableDaysLate
			if dates.Day(existing.UpdatedDate).Equal(snapshotDate) {
				reprocessed[row.RegistryID] = existing.PreviousStatus
			}
		}

		if err := tx.PutTrial(ctx, trial); err != nil {
			return nil, nil, err
		}
		trials = append(trials, trial)
	}
	return trials, reprocessed, nil
}

type fetchResult struct {
	trial  *model.Trial
	events []model.QAEvent
	ok     bool
}

// refreshCorrespondence fetches the QA page for every due, unreported
// trial. Fetches run in parallel but all results land before any are
// written, and a failed fetch only skips that trial's update for this
// cycle. Returns the number of trials whose correspondence was refreshed.
func (p *Processor) refreshCorrespondence(ctx context.Context, tx store.Store, trials []*model.Trial, snapshotDate time.Time) (int, error) {
	if p.QA == nil {
		return 0, nil
	}

	var candidates []*model.Trial
	for _, t := range trials {
		if t.ResultsDue && !t.HasResults {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	concurrency := p.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}

	results := make([]fetchResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, t := range candidates {
		g.Go(func() error {
			events, err := p.QA.Events(gctx, t.RegistryID)
			if err != nil {
				zap.L().Warn("importer: correspondence fetch failed, skipping trial",
					zap.String("registry_id", t.RegistryID),
					zap.Error(err),
				)
				results[i] = fetchResult{trial: t}
				return nil
			}
			results[i] = fetchResult{trial: t, events: events, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	fetched := 0
	for _, res := range results {
		if !res.ok {
			continue
		}
		fetched++
		if len(res.events) == 0 {
			// The registry no longer shows any history: the QA episode
			// was abandoned or superseded.
			if err := tx.DeleteQAEvents(ctx, res.trial.RegistryID); err != nil {
				return 0, err
			}
			continue
		}
		for i := range res.events {
			ev := res.events[i]
			ev.RegistryID = res.trial.RegistryID
			ev.FirstSeenDate = snapshotDate
			if err := tx.PutQAEvent(ctx, &ev); err != nil {
				return 0, err
			}
		}
	}
	return fetched, nil
}
