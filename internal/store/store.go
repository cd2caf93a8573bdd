package store

import (
	"context"
	"time"

	"github.com/sells-group/trial-tracker/internal/model"
)

// TrialFilter specifies criteria for listing trials.
type TrialFilter struct {
	SponsorSlug string            `json:"sponsor_slug,omitempty"`
	Status      model.TrialStatus `json:"status,omitempty"`
	VisibleOnly bool              `json:"visible_only,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// RankingFilter specifies criteria for listing rankings. A nil Date means
// the latest snapshot date on record.
type RankingFilter struct {
	Date          *time.Time `json:"date,omitempty"`
	SponsorSlug   string     `json:"sponsor_slug,omitempty"`
	PercentageMin *float64   `json:"percentage_min,omitempty"`
	PercentageMax *float64   `json:"percentage_max,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for the compliance tracker.
//
// Get methods return (nil, nil) when the row does not exist; callers decide
// whether absence is an error.
type Store interface {
	// Sponsors
	GetSponsor(ctx context.Context, slug string) (*model.Sponsor, error)
	PutSponsor(ctx context.Context, sponsor *model.Sponsor) error
	ListSponsors(ctx context.Context) ([]model.Sponsor, error)

	// Trials
	GetTrial(ctx context.Context, registryID string) (*model.Trial, error)
	PutTrial(ctx context.Context, trial *model.Trial) error
	ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error)
	// MarkVanishedTrials retires every trial not touched by the given
	// snapshot, excluding trials already retired. Returns the number of
	// trials retired.
	MarkVanishedTrials(ctx context.Context, snapshotDate time.Time) (int64, error)

	// QA correspondence
	ListQAEvents(ctx context.Context, registryID string) ([]model.QAEvent, error)
	PutQAEvent(ctx context.Context, event *model.QAEvent) error
	DeleteQAEvents(ctx context.Context, registryID string) error

	// Rankings
	PutRankings(ctx context.Context, rankings []model.Ranking) error
	ListRankings(ctx context.Context, filter RankingFilter) ([]model.Ranking, error)
	LatestRankingDate(ctx context.Context) (*time.Time, error)

	// Import runs
	PutImportLog(ctx context.Context, log *model.ImportLog) error
	ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error)

	// Transactions. The Store passed to fn shares the transaction; nested
	// calls reuse it rather than opening another.
	InTransaction(ctx context.Context, fn func(Store) error) error

	// Import lock. Postgres takes a transaction-scoped advisory lock so
	// concurrent imports against a shared database serialize; it must be
	// acquired inside InTransaction and is released at commit or
	// rollback. SQLite relies on its single writer and treats this as a
	// no-op.
	AcquireImportLock(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
