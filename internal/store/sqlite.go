package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trial-tracker/internal/model"
)

// sqlQuerier is satisfied by *sql.DB and *sql.Tx, so every query method
// works identically inside and outside a transaction.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB // nil when scoped to a transaction
	q  sqlQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sponsors (
	slug                TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	is_industry_sponsor BOOLEAN,
	updated_date        DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	registry_id       TEXT PRIMARY KEY,
	sponsor_slug      TEXT NOT NULL REFERENCES sponsors(slug),
	title             TEXT NOT NULL,
	publication_url   TEXT NOT NULL DEFAULT '',
	start_date        DATE NOT NULL,
	completion_date   DATE,
	has_exemption     BOOLEAN NOT NULL DEFAULT 0,
	is_probable_trial BOOLEAN NOT NULL DEFAULT 0,
	results_due       BOOLEAN NOT NULL DEFAULT 0,
	has_results       BOOLEAN NOT NULL DEFAULT 0,
	reported_date     DATE,
	days_late         INTEGER,
	finable_days_late INTEGER,
	status            TEXT NOT NULL DEFAULT 'ongoing',
	previous_status   TEXT NOT NULL DEFAULT '',
	first_seen_date   DATE NOT NULL,
	updated_date      DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS trial_qa (
	registry_id                TEXT NOT NULL REFERENCES trials(registry_id),
	submitted_to_regulator     DATE NOT NULL,
	returned_to_sponsor        DATE,
	cancelled_by_sponsor       DATE,
	cancellation_date_inferred BOOLEAN NOT NULL DEFAULT 0,
	first_seen_date            DATE NOT NULL,
	PRIMARY KEY (registry_id, submitted_to_regulator)
);

CREATE TABLE IF NOT EXISTS rankings (
	sponsor_slug      TEXT NOT NULL REFERENCES sponsors(slug),
	date              DATE NOT NULL,
	due               INTEGER NOT NULL DEFAULT 0,
	reported          INTEGER NOT NULL DEFAULT 0,
	total             INTEGER NOT NULL DEFAULT 0,
	overdue           INTEGER NOT NULL DEFAULT 0,
	reported_late     INTEGER NOT NULL DEFAULT 0,
	reported_on_time  INTEGER NOT NULL DEFAULT 0,
	days_late         INTEGER,
	finable_days_late INTEGER,
	percentage        REAL,
	rank              INTEGER,
	PRIMARY KEY (sponsor_slug, date)
);

CREATE TABLE IF NOT EXISTS import_logs (
	id            TEXT PRIMARY KEY,
	snapshot_date DATE NOT NULL,
	row_count     INTEGER NOT NULL DEFAULT 0,
	qa_fetched    INTEGER NOT NULL DEFAULT 0,
	vanished      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trials_sponsor_slug ON trials(sponsor_slug);
CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status);
CREATE INDEX IF NOT EXISTS idx_trials_updated_date ON trials(updated_date);
CREATE INDEX IF NOT EXISTS idx_rankings_date ON rankings(date);
CREATE INDEX IF NOT EXISTS idx_import_logs_started_at ON import_logs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(&SQLiteStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// AcquireImportLock is a no-op: SQLite has a single writer and the busy
// timeout serializes concurrent processes.
func (s *SQLiteStore) AcquireImportLock(ctx context.Context) error { return nil }

func (s *SQLiteStore) GetSponsor(ctx context.Context, slug string) (*model.Sponsor, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT slug, name, is_industry_sponsor, updated_date FROM sponsors WHERE slug = ?`,
		slug,
	)

	var sp model.Sponsor
	var industry sql.NullBool
	err := row.Scan(&sp.Slug, &sp.Name, &industry, &sp.UpdatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sponsor %s", slug)
	}
	if industry.Valid {
		sp.IsIndustrySponsor = &industry.Bool
	}
	return &sp, nil
}

func (s *SQLiteStore) PutSponsor(ctx context.Context, sponsor *model.Sponsor) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sponsors (slug, name, is_industry_sponsor, updated_date)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
		   name = excluded.name,
		   is_industry_sponsor = excluded.is_industry_sponsor,
		   updated_date = excluded.updated_date`,
		sponsor.Slug, sponsor.Name, nullBool(sponsor.IsIndustrySponsor), sponsor.UpdatedDate,
	)
	return eris.Wrapf(err, "sqlite: put sponsor %s", sponsor.Slug)
}

func (s *SQLiteStore) ListSponsors(ctx context.Context) ([]model.Sponsor, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT slug, name, is_industry_sponsor, updated_date FROM sponsors ORDER BY slug`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sponsors")
	}
	defer rows.Close()

	var sponsors []model.Sponsor
	for rows.Next() {
		var sp model.Sponsor
		var industry sql.NullBool
		if err := rows.Scan(&sp.Slug, &sp.Name, &industry, &sp.UpdatedDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sponsor")
		}
		if industry.Valid {
			sp.IsIndustrySponsor = &industry.Bool
		}
		sponsors = append(sponsors, sp)
	}
	return sponsors, eris.Wrap(rows.Err(), "sqlite: list sponsors iterate")
}

const sqliteTrialColumns = `registry_id, sponsor_slug, title, publication_url, start_date,
	completion_date, has_exemption, is_probable_trial, results_due, has_results,
	reported_date, days_late, finable_days_late, status, previous_status,
	first_seen_date, updated_date`

func (s *SQLiteStore) GetTrial(ctx context.Context, registryID string) (*model.Trial, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sqliteTrialColumns+` FROM trials WHERE registry_id = ?`,
		registryID,
	)
	t, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trial %s", registryID)
	}
	return t, nil
}

// PutTrial inserts or updates a trial. On update first_seen_date keeps its
// original value.
func (s *SQLiteStore) PutTrial(ctx context.Context, trial *model.Trial) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO trials (`+sqliteTrialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (registry_id) DO UPDATE SET
		   sponsor_slug = excluded.sponsor_slug,
		   title = excluded.title,
		   publication_url = excluded.publication_url,
		   start_date = excluded.start_date,
		   completion_date = excluded.completion_date,
		   has_exemption = excluded.has_exemption,
		   is_probable_trial = excluded.is_probable_trial,
		   results_due = excluded.results_due,
		   has_results = excluded.has_results,
		   reported_date = excluded.reported_date,
		   days_late = excluded.days_late,
		   finable_days_late = excluded.finable_days_late,
		   status = excluded.status,
		   previous_status = excluded.previous_status,
		   updated_date = excluded.updated_date`,
		trial.RegistryID, trial.SponsorSlug, trial.Title, trial.PublicationURL,
		trial.StartDate, nullTime(trial.CompletionDate), trial.HasExemption,
		trial.IsProbableTrial, trial.ResultsDue, trial.HasResults,
		nullTime(trial.ReportedDate), nullInt(trial.DaysLate),
		nullInt(trial.FinableDaysLate), string(trial.Status),
		string(trial.PreviousStatus), trial.FirstSeenDate, trial.UpdatedDate,
	)
	return eris.Wrapf(err, "sqlite: put trial %s", trial.RegistryID)
}

func (s *SQLiteStore) ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error) {
	query := `SELECT ` + sqliteTrialColumns + ` FROM trials WHERE 1=1`
	var args []any

	if filter.SponsorSlug != "" {
		query += ` AND sponsor_slug = ?`
		args = append(args, filter.SponsorSlug)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.VisibleOnly {
		query += ` AND status != ?`
		args = append(args, string(model.StatusNoLongerTracked))
	}
	query += ` ORDER BY registry_id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials")
	}
	defer rows.Close()

	var trials []model.Trial
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trial")
		}
		trials = append(trials, *t)
	}
	return trials, eris.Wrap(rows.Err(), "sqlite: list trials iterate")
}

func (s *SQLiteStore) MarkVanishedTrials(ctx context.Context, snapshotDate time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE trials SET status = ?, previous_status = status, updated_date = ?
		 WHERE updated_date < ? AND status != ?`,
		string(model.StatusNoLongerTracked), snapshotDate, snapshotDate,
		string(model.StatusNoLongerTracked),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark vanished trials")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListQAEvents(ctx context.Context, registryID string) ([]model.QAEvent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT registry_id, submitted_to_regulator, returned_to_sponsor,
		        cancelled_by_sponsor, cancellation_date_inferred, first_seen_date
		 FROM trial_qa WHERE registry_id = ?
		 ORDER BY submitted_to_regulator`,
		registryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list qa events %s", registryID)
	}
	defer rows.Close()

	var events []model.QAEvent
	for rows.Next() {
		var ev model.QAEvent
		var returned, cancelled sql.NullTime
		if err := rows.Scan(&ev.RegistryID, &ev.SubmittedToRegulator, &returned,
			&cancelled, &ev.CancellationDateInferred, &ev.FirstSeenDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan qa event")
		}
		if returned.Valid {
			ev.ReturnedToSponsor = &returned.Time
		}
		if cancelled.Valid {
			ev.CancelledBySponsor = &cancelled.Time
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list qa events iterate")
}

// PutQAEvent inserts or updates one correspondence cycle, keyed by trial
// and submission date. first_seen_date keeps its original value on update.
func (s *SQLiteStore) PutQAEvent(ctx context.Context, event *model.QAEvent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO trial_qa (registry_id, submitted_to_regulator, returned_to_sponsor,
		                       cancelled_by_sponsor, cancellation_date_inferred, first_seen_date)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (registry_id, submitted_to_regulator) DO UPDATE SET
		   returned_to_sponsor = excluded.returned_to_sponsor,
		   cancelled_by_sponsor = excluded.cancelled_by_sponsor,
		   cancellation_date_inferred = excluded.cancellation_date_inferred`,
		event.RegistryID, event.SubmittedToRegulator, nullTime(event.ReturnedToSponsor),
		nullTime(event.CancelledBySponsor), event.CancellationDateInferred, event.FirstSeenDate,
	)
	return eris.Wrapf(err, "sqlite: put qa event %s", event.RegistryID)
}

func (s *SQLiteStore) DeleteQAEvents(ctx context.Context, registryID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM trial_qa WHERE registry_id = ?`, registryID,
	)
	return eris.Wrapf(err, "sqlite: delete qa events %s", registryID)
}

func (s *SQLiteStore) PutRankings(ctx context.Context, rankings []model.Ranking) error {
	for i := range rankings {
		r := &rankings[i]
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO rankings (sponsor_slug, date, due, reported, total, overdue,
			                       reported_late, reported_on_time, days_late,
			                       finable_days_late, percentage, rank)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (sponsor_slug, date) DO UPDATE SET
			   due = excluded.due,
			   reported = excluded.reported,
			   total = excluded.total,
			   overdue = excluded.overdue,
			   reported_late = excluded.reported_late,
			   reported_on_time = excluded.reported_on_time,
			   days_late = excluded.days_late,
			   finable_days_late = excluded.finable_days_late,
			   percentage = excluded.percentage,
			   rank = excluded.rank`,
			r.SponsorSlug, r.Date, r.Due, r.Reported, r.Total, r.Overdue,
			r.ReportedLate, r.ReportedOnTime, nullInt(r.DaysLate),
			nullInt(r.FinableDaysLate), nullFloat(r.Percentage), nullInt(r.Rank),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: put ranking %s", r.SponsorSlug)
		}
	}
	return nil
}

func (s *SQLiteStore) ListRankings(ctx context.Context, filter RankingFilter) ([]model.Ranking, error) {
	query := `SELECT r.sponsor_slug, s.name, r.date, r.due, r.reported, r.total,
	                 r.overdue, r.reported_late, r.reported_on_time, r.days_late,
	                 r.finable_days_late, r.percentage, r.rank
	          FROM rankings r JOIN sponsors s ON s.slug = r.sponsor_slug`
	var args []any

	if filter.Date != nil {
		query += ` WHERE r.date = ?`
		args = append(args, *filter.Date)
	} else {
		query += ` WHERE r.date = (SELECT MAX(date) FROM rankings)`
	}
	if filter.SponsorSlug != "" {
		query += ` AND r.sponsor_slug = ?`
		args = append(args, filter.SponsorSlug)
	}
	if filter.PercentageMin != nil {
		query += ` AND r.percentage >= ?`
		args = append(args, *filter.PercentageMin)
	}
	if filter.PercentageMax != nil {
		query += ` AND r.percentage <= ?`
		args = append(args, *filter.PercentageMax)
	}
	query += ` ORDER BY (r.rank IS NULL), r.rank, r.sponsor_slug`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rankings")
	}
	defer rows.Close()

	var rankings []model.Ranking
	for rows.Next() {
		r, err := scanRanking(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranking")
		}
		rankings = append(rankings, *r)
	}
	return rankings, eris.Wrap(rows.Err(), "sqlite: list rankings iterate")
}

func (s *SQLiteStore) LatestRankingDate(ctx context.Context) (*time.Time, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT date FROM rankings ORDER BY date DESC LIMIT 1`,
	)
	var d time.Time
	err := row.Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest ranking date")
	}
	return &d, nil
}

func (s *SQLiteStore) PutImportLog(ctx context.Context, log *model.ImportLog) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO import_logs (id, snapshot_date, row_count, qa_fetched, vanished,
		                          status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   row_count = excluded.row_count,
		   qa_fetched = excluded.qa_fetched,
		   vanished = excluded.vanished,
		   status = excluded.status,
		   finished_at = excluded.finished_at`,
		log.ID, log.SnapshotDate, log.RowCount, log.QAFetched, log.Vanished,
		log.Status, log.StartedAt, nullTime(log.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: put import log %s", log.ID)
}

func (s *SQLiteStore) ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, snapshot_date, row_count, qa_fetched, vanished, status,
		        started_at, finished_at
		 FROM import_logs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import logs")
	}
	defer rows.Close()

	var logs []model.ImportLog
	for rows.Next() {
		var l model.ImportLog
		var finished sql.NullTime
		if err := rows.Scan(&l.ID, &l.SnapshotDate, &l.RowCount, &l.QAFetched,
			&l.Vanished, &l.Status, &l.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import log")
		}
		if finished.Valid {
			l.FinishedAt = &finished.Time
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list import logs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanTrial(row scannable) (*model.Trial, error) {
	var t model.Trial
	var completion, reported sql.NullTime
	var daysLate, finable sql.NullInt64
	var status, prev string

	err := row.Scan(&t.RegistryID, &t.SponsorSlug, &t.Title, &t.PublicationURL,
		&t.StartDate, &completion, &t.HasExemption, &t.IsProbableTrial,
		&t.ResultsDue, &t.HasResults, &reported, &daysLate, &finable,
		&status, &prev, &t.FirstSeenDate, &t.UpdatedDate)
	if err != nil {
		return nil, err
	}

	if completion.Valid {
		t.CompletionDate = &completion.Time
	}
	if reported.Valid {
		t.ReportedDate = &reported.Time
	}
	if daysLate.Valid {
		n := int(daysLate.Int64)
		t.DaysLate = &n
	}
	if finable.Valid {
		n := int(finable.Int64)
		t.FinableDaysLate = &n
	}
	t.Status = model.TrialStatus(status)
	t.PreviousStatus = model.TrialStatus(prev)
	return &t, nil
}

func scanRanking(row scannable) (*model.Ranking, error) {
	var r model.Ranking
	var daysLate, finable, rank sql.NullInt64
	var percentage sql.NullFloat64

	err := row.Scan(&r.SponsorSlug, &r.SponsorName, &r.Date, &r.Due, &r.Reported,
		&r.Total, &r.Overdue, &r.ReportedLate, &r.ReportedOnTime,
		&daysLate, &finable, &percentage, &rank)
	if err != nil {
		return nil, err
	}

	if daysLate.Valid {
		n := int(daysLate.Int64)
		r.DaysLate = &n
	}
	if finable.Valid {
		n := int(finable.Int64)
		r.FinableDaysLate = &n
	}
	if percentage.Valid {
		r.Percentage = &percentage.Float64
	}
	if rank.Valid {
		n := int(rank.Int64)
		r.Rank = &n
	}
	return &r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
