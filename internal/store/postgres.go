package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-tracker/internal/db"
	"github.com/sells-group/trial-tracker/internal/model"
)

// importLockKey is the advisory lock key serializing snapshot imports
// against a shared database.
const importLockKey = 20180705

// pgQuerier is satisfied by db.Pool and pgx.Tx, so every query method works
// identically inside and outside a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool // nil when scoped to a transaction
	q       pgQuerier
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, q: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool, closeFn: pool.Close}
}

const postgresMigration = `
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
	has_exemption     BOOLEAN NOT NULL DEFAULT false,
	is_probable_trial BOOLEAN NOT NULL DEFAULT false,
	results_due       BOOLEAN NOT NULL DEFAULT false,
	has_results       BOOLEAN NOT NULL DEFAULT false,
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
	cancellation_date_inferred BOOLEAN NOT NULL DEFAULT false,
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
	percentage        DOUBLE PRECISION,
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
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_trials_sponsor_slug ON trials(sponsor_slug);
CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status);
CREATE INDEX IF NOT EXISTS idx_trials_updated_date ON trials(updated_date);
CREATE INDEX IF NOT EXISTS idx_rankings_date ON rankings(date);
CREATE INDEX IF NOT EXISTS idx_import_logs_started_at ON import_logs(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.q.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	if err := fn(&PostgresStore{q: tx}); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// AcquireImportLock takes the transaction-scoped import advisory lock.
// It must run inside InTransaction; the lock lives on the transaction's
// connection and is released at commit or rollback.
func (s *PostgresStore) AcquireImportLock(ctx context.Context) error {
	_, err := s.q.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", importLockKey))
	return eris.Wrap(err, "postgres: acquire import advisory lock")
}

func (s *PostgresStore) GetSponsor(ctx context.Context, slug string) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.q.QueryRow(ctx,
		`SELECT slug, name, is_industry_sponsor, updated_date FROM sponsors WHERE slug = $1`,
		slug,
	).Scan(&sp.Slug, &sp.Name, &sp.IsIndustrySponsor, &sp.UpdatedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sponsor %s", slug)
	}
	return &sp, nil
}

func (s *PostgresStore) PutSponsor(ctx context.Context, sponsor *model.Sponsor) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO sponsors (slug, name, is_industry_sponsor, updated_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slug) DO UPDATE SET
		   name = EXCLUDED.name,
		   is_industry_sponsor = EXCLUDED.is_industry_sponsor,
		   updated_date = EXCLUDED.updated_date`,
		sponsor.Slug, sponsor.Name, sponsor.IsIndustrySponsor, sponsor.UpdatedDate,
	)
	return eris.Wrapf(err, "postgres: put sponsor %s", sponsor.Slug)
}

func (s *PostgresStore) ListSponsors(ctx context.Context) ([]model.Sponsor, error) {
	rows, err := s.q.Query(ctx,
		`SELECT slug, name, is_industry_sponsor, updated_date FROM sponsors ORDER BY slug`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sponsors")
	}
	defer rows.Close()

	var sponsors []model.Sponsor
	for rows.Next() {
		var sp model.Sponsor
		if err := rows.Scan(&sp.Slug, &sp.Name, &sp.IsIndustrySponsor, &sp.UpdatedDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sponsor")
		}
		sponsors = append(sponsors, sp)
	}
	return sponsors, eris.Wrap(rows.Err(), "postgres: list sponsors iterate")
}

const pgTrialColumns = `registry_id, sponsor_slug, title, publication_url, start_date,
	completion_date, has_exemption, is_probable_trial, results_due, has_results,
	reported_date, days_late, finable_days_late, status, previous_status,
	first_seen_date, updated_date`

func (s *PostgresStore) GetTrial(ctx context.Context, registryID string) (*model.Trial, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+pgTrialColumns+` FROM trials WHERE registry_id = $1`,
		registryID,
	)
	t, err := scanPGTrial(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get trial %s", registryID)
	}
	return t, nil
}

// PutTrial inserts or updates a trial. On update first_seen_date keeps its
// original value.
func (s *PostgresStore) PutTrial(ctx context.Context, trial *model.Trial) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trials (`+pgTrialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (registry_id) DO UPDATE SET
		   sponsor_slug = EXCLUDED.sponsor_slug,
		   title = EXCLUDED.title,
		   publication_url = EXCLUDED.publication_url,
		   start_date = EXCLUDED.start_date,
		   completion_date = EXCLUDED.completion_date,
		   has_exemption = EXCLUDED.has_exemption,
		   is_probable_trial = EXCLUDED.is_probable_trial,
		   results_due = EXCLUDED.results_due,
		   has_results = EXCLUDED.has_results,
		   reported_date = EXCLUDED.reported_date,
		   days_late = EXCLUDED.days_late,
		   finable_days_late = EXCLUDED.finable_days_late,
		   status = EXCLUDED.status,
		   previous_status = EXCLUDED.previous_status,
		   updated_date = EXCLUDED.updated_date`,
		trial.RegistryID, trial.SponsorSlug, trial.Title, trial.PublicationURL,
		trial.StartDate, trial.CompletionDate, trial.HasExemption,
		trial.IsProbableTrial, trial.ResultsDue, trial.HasResults,
		trial.ReportedDate, trial.DaysLate, trial.FinableDaysLate,
		string(trial.Status), string(trial.PreviousStatus),
		trial.FirstSeenDate, trial.UpdatedDate,
	)
	return eris.Wrapf(err, "postgres: put trial %s", trial.RegistryID)
}

func (s *PostgresStore) ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error) {
	query := `SELECT ` + pgTrialColumns + ` FROM trials WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SponsorSlug != "" {
		query += fmt.Sprintf(` AND sponsor_slug = $%d`, argIdx)
		args = append(args, filter.SponsorSlug)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.VisibleOnly {
		query += fmt.Sprintf(` AND status != $%d`, argIdx)
		args = append(args, string(model.StatusNoLongerTracked))
		argIdx++
	}
	query += ` ORDER BY registry_id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
			argIdx++
		}
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trials")
	}
	defer rows.Close()

	var trials []model.Trial
	for rows.Next() {
		t, err := scanPGTrial(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trial")
		}
		trials = append(trials, *t)
	}
	return trials, eris.Wrap(rows.Err(), "postgres: list trials iterate")
}

func (s *PostgresStore) MarkVanishedTrials(ctx context.Context, snapshotDate time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE trials SET status = $1, previous_status = status, updated_date = $2
		 WHERE updated_date < $2 AND status != $1`,
		string(model.StatusNoLongerTracked), snapshotDate,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark vanished trials")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListQAEvents(ctx context.Context, registryID string) ([]model.QAEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT registry_id, submitted_to_regulator, returned_to_sponsor,
		        cancelled_by_sponsor, cancellation_date_inferred, first_seen_date
		 FROM trial_qa WHERE registry_id = $1
		 ORDER BY submitted_to_regulator`,
		registryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list qa events %s", registryID)
	}
	defer rows.Close()

	var events []model.QAEvent
	for rows.Next() {
		var ev model.QAEvent
		if err := rows.Scan(&ev.RegistryID, &ev.SubmittedToRegulator,
			&ev.ReturnedToSponsor, &ev.CancelledBySponsor,
			&ev.CancellationDateInferred, &ev.FirstSeenDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan qa event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list qa events iterate")
}

// PutQAEvent inserts or updates one correspondence cycle, keyed by trial
// and submission date. first_seen_date keeps its original value on update.
func (s *PostgresStore) PutQAEvent(ctx context.Context, event *model.QAEvent) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trial_qa (registry_id, submitted_to_regulator, returned_to_sponsor,
		                       cancelled_by_sponsor, cancellation_date_inferred, first_seen_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (registry_id, submitted_to_regulator) DO UPDATE SET
		   returned_to_sponsor = EXCLUDED.returned_to_sponsor,
		   cancelled_by_sponsor = EXCLUDED.cancelled_by_sponsor,
		   cancellation_date_inferred = EXCLUDED.cancellation_date_inferred`,
		event.RegistryID, event.SubmittedToRegulator, event.ReturnedToSponsor,
		event.CancelledBySponsor, event.CancellationDateInferred, event.FirstSeenDate,
	)
	return eris.Wrapf(err, "postgres: put qa event %s", event.RegistryID)
}

func (s *PostgresStore) DeleteQAEvents(ctx context.Context, registryID string) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM trial_qa WHERE registry_id = $1`, registryID,
	)
	return eris.Wrapf(err, "postgres: delete qa events %s", registryID)
}

var rankingUpsert = db.UpsertConfig{
	Table: "rankings",
	Columns: []string{
		"sponsor_slug", "date", "due", "reported", "total", "overdue",
		"reported_late", "reported_on_time", "days_late", "finable_days_late",
		"percentage", "rank",
	},
	ConflictKeys: []string{"sponsor_slug", "date"},
}

// PutRankings writes a whole snapshot date's worth of ranking rows. The
// pool-backed store bulk-loads them through a temp table; inside a
// transaction rows go one at a time on the transaction's connection.
func (s *PostgresStore) PutRankings(ctx context.Context, rankings []model.Ranking) error {
	if s.pool != nil {
		rows := make([][]any, 0, len(rankings))
		for i := range rankings {
			r := &rankings[i]
			rows = append(rows, []any{
				r.SponsorSlug, r.Date, r.Due, r.Reported, r.Total, r.Overdue,
				r.ReportedLate, r.ReportedOnTime, r.DaysLate, r.FinableDaysLate,
				r.Percentage, r.Rank,
			})
		}
		_, err := db.BulkUpsert(ctx, s.pool, rankingUpsert, rows)
		return eris.Wrap(err, "postgres: put rankings")
	}

	for i := range rankings {
		r := &rankings[i]
		_, err := s.q.Exec(ctx,
			`INSERT INTO rankings (sponsor_slug, date, due, reported, total, overdue,
			                       reported_late, reported_on_time, days_late,
			                       finable_days_late, percentage, rank)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (sponsor_slug, date) DO UPDATE SET
			   due = EXCLUDED.due,
			   reported = EXCLUDED.reported,
			   total = EXCLUDED.total,
			   overdue = EXCLUDED.overdue,
			   reported_late = EXCLUDED.reported_late,
			   reported_on_time = EXCLUDED.reported_on_time,
			   days_late = EXCLUDED.days_late,
			   finable_days_late = EXCLUDED.finable_days_late,
			   percentage = EXCLUDED.percentage,
			   rank = EXCLUDED.rank`,
			r.SponsorSlug, r.Date, r.Due, r.Reported, r.Total, r.Overdue,
			r.ReportedLate, r.ReportedOnTime, r.DaysLate, r.FinableDaysLate,
			r.Percentage, r.Rank,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: put ranking %s", r.SponsorSlug)
		}
	}
	return nil
}

func (s *PostgresStore) ListRankings(ctx context.Context, filter RankingFilter) ([]model.Ranking, error) {
	query := `SELECT r.sponsor_slug, s.name, r.date, r.due, r.reported, r.total,
	                 r.overdue, r.reported_late, r.reported_on_time, r.days_late,
	                 r.finable_days_late, r.percentage, r.rank
	          FROM rankings r JOIN sponsors s ON s.slug = r.sponsor_slug`
	args := []any{}
	argIdx := 1

	if filter.Date != nil {
		query += fmt.Sprintf(` WHERE r.date = $%d`, argIdx)
		args = append(args, *filter.Date)
		argIdx++
	} else {
		query += ` WHERE r.date = (SELECT MAX(date) FROM rankings)`
	}
	if filter.SponsorSlug != "" {
		query += fmt.Sprintf(` AND r.sponsor_slug = $%d`, argIdx)
		args = append(args, filter.SponsorSlug)
		argIdx++
	}
	if filter.PercentageMin != nil {
		query += fmt.Sprintf(` AND r.percentage >= $%d`, argIdx)
		args = append(args, *filter.PercentageMin)
		argIdx++
	}
	if filter.PercentageMax != nil {
		query += fmt.Sprintf(` AND r.percentage <= $%d`, argIdx)
		args = append(args, *filter.PercentageMax)
		argIdx++
	}
	query += ` ORDER BY (r.rank IS NULL), r.rank, r.sponsor_slug`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
			argIdx++
		}
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rankings")
	}
	defer rows.Close()

	var rankings []model.Ranking
	for rows.Next() {
		var r model.Ranking
		if err := rows.Scan(&r.SponsorSlug, &r.SponsorName, &r.Date, &r.Due,
			&r.Reported, &r.Total, &r.Overdue, &r.ReportedLate, &r.ReportedOnTime,
			&r.DaysLate, &r.FinableDaysLate, &r.Percentage, &r.Rank); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranking")
		}
		rankings = append(rankings, r)
	}
	return rankings, eris.Wrap(rows.Err(), "postgres: list rankings iterate")
}

func (s *PostgresStore) LatestRankingDate(ctx context.Context) (*time.Time, error) {
	var d time.Time
	err := s.q.QueryRow(ctx,
		`SELECT date FROM rankings ORDER BY date DESC LIMIT 1`,
	).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest ranking date")
	}
	return &d, nil
}

func (s *PostgresStore) PutImportLog(ctx context.Context, log *model.ImportLog) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO import_logs (id, snapshot_date, row_count, qa_fetched, vanished,
		                          status, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   row_count = EXCLUDED.row_count,
		   qa_fetched = EXCLUDED.qa_fetched,
		   vanished = EXCLUDED.vanished,
		   status = EXCLUDED.status,
		   finished_at = EXCLUDED.finished_at`,
		log.ID, log.SnapshotDate, log.RowCount, log.QAFetched, log.Vanished,
		log.Status, log.StartedAt, log.FinishedAt,
	)
	return eris.Wrapf(err, "postgres: put import log %s", log.ID)
}

func (s *PostgresStore) ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, snapshot_date, row_count, qa_fetched, vanished, status,
		        started_at, finished_at
		 FROM import_logs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import logs")
	}
	defer rows.Close()

	var logs []model.ImportLog
	for rows.Next() {
		var l model.ImportLog
		if err := rows.Scan(&l.ID, &l.SnapshotDate, &l.RowCount, &l.QAFetched,
			&l.Vanished, &l.Status, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list import logs iterate")
}

func scanPGTrial(row pgx.Row) (*model.Trial, error) {
	var t model.Trial
	var status, prev string

	err := row.Scan(&t.RegistryID, &t.SponsorSlug, &t.Title, &t.PublicationURL,
		&t.StartDate, &t.CompletionDate, &t.HasExemption, &t.IsProbableTrial,
		&t.ResultsDue, &t.HasResults, &t.ReportedDate, &t.DaysLate,
		&t.FinableDaysLate, &status, &prev, &t.FirstSeenDate, &t.UpdatedDate)
	if err != nil {
		return nil, err
	}
	t.Status = model.TrialStatus(status)
	t.PreviousStatus = model.TrialStatus(prev)
	return &t, nil
}
