package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trial-tracker/internal/ingest"
	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/store"
)

// stubFetcher serves canned correspondence pages keyed by registry ID.
type stubFetcher struct {
	events map[string][]model.QAEvent
	err    error
}

func (f *stubFetcher) Events(_ context.Context, registryID string) ([]model.QAEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[registryID], nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func newProcessor(s store.Store, qa *stubFetcher) *Processor {
	p := &Processor{
		Store: s,
		Now:   func() time.Time { return day(2020, 1, 15) },
	}
	if qa != nil {
		p.QA = qa
	}
	return p
}

// dueRow is a trial whose results came due years ago and were never
// submitted: completion 2014-01-01 puts the deadline at 2015-01-01.
func dueRow(id, sponsor, sponsorType string) ingest.Row {
	return ingest.Row{
		RegistryID:     id,
		SponsorName:    sponsor,
		SponsorType:    sponsorType,
		URL:            "https://example.org/" + id,
		Title:          "A Trial",
		ResultsDue:     true,
		StartDate:      day(2013, 1, 1),
		CompletionDate: dayPtr(2014, 1, 1),
	}
}

func reportedRow(id, sponsor, sponsorType string) ingest.Row {
	row := dueRow(id, sponsor, sponsorType)
	row.HasResults = true
	row.ReportedDate = dayPtr(2014, 6, 1)
	return row
}

func snapshot() time.Time { return day(2020, 1, 1) }

func TestProcessSnapshot_EmptySnapshot(t *testing.T) {
	p := newProcessor(newTestStore(t), nil)

	_, err := p.ProcessSnapshot(context.Background(), nil, snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows")
}

func TestProcessSnapshot_ComputesStatusAndRankings(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)
	ctx := context.Background()

	rows := []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Industry"),
		reportedRow("NCT00000002", "Acme Pharma", "Industry"),
	}
	log, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)
	assert.Equal(t, "succeeded", log.Status)
	assert.Equal(t, 2, log.RowCount)
	require.NotNil(t, log.FinishedAt)

	overdue, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	require.NotNil(t, overdue)
	assert.Equal(t, model.StatusOverdue, overdue.Status)

	reported, err := s.GetTrial(ctx, "NCT00000002")
	require.NoError(t, err)
	require.NotNil(t, reported)
	assert.Equal(t, model.StatusReported, reported.Status)

	sp, err := s.GetSponsor(ctx, "acme-pharma")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "Acme Pharma", sp.Name)
	require.NotNil(t, sp.IsIndustrySponsor)
	assert.True(t, *sp.IsIndustrySponsor)

	rankings, err := s.ListRankings(ctx, store.RankingFilter{})
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, 2, rankings[0].Due)
	assert.Equal(t, 1, rankings[0].Reported)
	require.NotNil(t, rankings[0].Percentage)
	assert.Equal(t, 50.0, *rankings[0].Percentage)
}

func TestProcessSnapshot_Idempotent(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)
	ctx := context.Background()

	rows := []ingest.Row{dueRow("NCT00000001", "Acme Pharma", "Industry")}
	_, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)

	first, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, first.Status)
	assert.Equal(t, model.StatusOngoing, first.PreviousStatus)

	// Reprocessing the same snapshot leaves the trial unchanged. In
	// particular the ongoing to overdue transition recorded by the first
	// run must not roll forward to overdue/overdue.
	log, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)
	assert.Equal(t, "succeeded", log.Status)
	assert.Equal(t, 0, log.Vanished)

	second, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.True(t, second.FirstSeenDate.Equal(first.FirstSeenDate))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PreviousStatus, second.PreviousStatus)
	require.NotNil(t, second.DaysLate)
	assert.Equal(t, *first.DaysLate, *second.DaysLate)
}

func TestProcessSnapshot_MarksVanishedTrials(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)
	ctx := context.Background()

	_, err := p.ProcessSnapshot(ctx, []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Industry"),
		reportedRow("NCT00000002", "Acme Pharma", "Industry"),
	}, snapshot())
	require.NoError(t, err)

	// The overdue trial disappears from the next snapshot.
	log, err := p.ProcessSnapshot(ctx, []ingest.Row{
		reportedRow("NCT00000002", "Acme Pharma", "Industry"),
	}, day(2020, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, log.Vanished)

	gone, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoLongerTracked, gone.Status)
	assert.Equal(t, model.StatusOverdue, gone.PreviousStatus)

	// Retired trials drop out of the rankings.
	rankings, err := s.ListRankings(ctx, store.RankingFilter{})
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, 1, rankings[0].Total)
	assert.Equal(t, 1, rankings[0].Due)
	require.NotNil(t, rankings[0].Percentage)
	assert.Equal(t, 100.0, *rankings[0].Percentage)
}

func TestProcessSnapshot_QACorrespondenceDrivesStatus(t *testing.T) {
	s := newTestStore(t)
	qa := &stubFetcher{events: map[string][]model.QAEvent{
		// Submitted 31 days past the 2015-01-01 deadline.
		"NCT00000001": {{SubmittedToRegulator: day(2015, 2, 1)}},
	}}
	p := newProcessor(s, qa)
	ctx := context.Background()

	log, err := p.ProcessSnapshot(ctx, []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Industry"),
	}, snapshot())
	require.NoError(t, err)
	assert.Equal(t, 1, log.QAFetched)

	trial, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReportedLate, trial.Status)
	require.NotNil(t, trial.DaysLate)
	assert.Equal(t, 31, *trial.DaysLate)
	require.NotNil(t, trial.FinableDaysLate)
	assert.Equal(t, 1, *trial.FinableDaysLate)

	events, err := s.ListQAEvents(ctx, "NCT00000001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NCT00000001", events[0].RegistryID)
	assert.True(t, events[0].FirstSeenDate.Equal(snapshot()))
}

func TestProcessSnapshot_PreviousStatusTracksTransition(t *testing.T) {
	s := newTestStore(t)
	qa := &stubFetcher{events: map[string][]model.QAEvent{}}
	p := newProcessor(s, qa)
	ctx := context.Background()

	rows := []ingest.Row{dueRow("NCT00000001", "Acme Pharma", "Industry")}
	_, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)

	trial, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, trial.Status)
	assert.Equal(t, model.StatusOngoing, trial.PreviousStatus)

	// A second snapshot settles the prior state at overdue.
	_, err = p.ProcessSnapshot(ctx, rows, day(2020, 1, 2))
	require.NoError(t, err)

	// The registry page now shows a submission: overdue becomes
	// reported-late and the prior status is kept.
	qa.events["NCT00000001"] = []model.QAEvent{{SubmittedToRegulator: day(2015, 2, 1)}}
	_, err = p.ProcessSnapshot(ctx, rows, day(2020, 1, 3))
	require.NoError(t, err)

	trial, err = s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReportedLate, trial.Status)
	assert.Equal(t, model.StatusOverdue, trial.PreviousStatus)
}

func TestProcessSnapshot_DisappearedCorrespondenceIsDeleted(t *testing.T) {
	s := newTestStore(t)
	qa := &stubFetcher{events: map[string][]model.QAEvent{
		"NCT00000001": {{SubmittedToRegulator: day(2015, 2, 1)}},
	}}
	p := newProcessor(s, qa)
	ctx := context.Background()

	rows := []ingest.Row{dueRow("NCT00000001", "Acme Pharma", "Industry")}
	_, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)

	// The registry page no longer shows any submission history.
	delete(qa.events, "NCT00000001")
	_, err = p.ProcessSnapshot(ctx, rows, day(2020, 1, 2))
	require.NoError(t, err)

	events, err := s.ListQAEvents(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Empty(t, events)

	trial, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, trial.Status)
}

func TestProcessSnapshot_FetchFailureSkipsTrial(t *testing.T) {
	s := newTestStore(t)
	qa := &stubFetcher{events: map[string][]model.QAEvent{
		"NCT00000001": {{SubmittedToRegulator: day(2015, 2, 1)}},
	}}
	p := newProcessor(s, qa)
	ctx := context.Background()

	rows := []ingest.Row{dueRow("NCT00000001", "Acme Pharma", "Industry")}
	_, err := p.ProcessSnapshot(ctx, rows, snapshot())
	require.NoError(t, err)

	// The registry is unreachable on the next run: stored correspondence
	// stays put and the import still succeeds.
	qa.err = eris.New("registry unreachable")
	log, err := p.ProcessSnapshot(ctx, rows, day(2020, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "succeeded", log.Status)
	assert.Equal(t, 0, log.QAFetched)

	events, err := s.ListQAEvents(ctx, "NCT00000001")
	require.NoError(t, err)
	require.Len(t, events, 1)

	trial, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReportedLate, trial.Status)
}

func TestProcessSnapshot_ConflictingIndustryClassification(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)
	ctx := context.Background()

	_, err := p.ProcessSnapshot(ctx, []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Industry"),
		dueRow("NCT00000002", "Acme Pharma", "Other"),
	}, snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting industry classifications")

	// The whole snapshot rolled back, but the failure is on record.
	trial, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Nil(t, trial)

	logs, err := s.ListImportLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Status)
}

func TestProcessSnapshot_StoredClassificationConflict(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)
	ctx := context.Background()

	_, err := p.ProcessSnapshot(ctx, []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Industry"),
	}, snapshot())
	require.NoError(t, err)

	_, err = p.ProcessSnapshot(ctx, []ingest.Row{
		dueRow("NCT00000001", "Acme Pharma", "Other"),
	}, day(2020, 1, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicts with stored value")
}

func TestProcessSnapshot_BlankSponsorName(t *testing.T) {
	s := newTestStore(t)
	p := newProcessor(s, nil)

	_, err := p.ProcessSnapshot(context.Background(), []ingest.Row{
		dueRow("NCT00000001", "  ", "Industry"),
	}, snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank sponsor name")
}
