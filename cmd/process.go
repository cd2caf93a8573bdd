package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trial-tracker/internal/dates"
	"github.com/sells-group/trial-tracker/internal/importer"
	"github.com/sells-group/trial-tracker/internal/ingest"
)

var (
	processCSVPath string
	processDate    string
	processNoQA    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a registry snapshot CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("process"); err != nil {
			return err
		}

		snapshotDate := dates.Day(time.Now())
		if processDate != "" {
			d, err := time.ParseInLocation("2006-01-02", processDate, time.UTC)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", processDate)
			}
			snapshotDate = d
		}

		f, err := os.Open(processCSVPath)
		if err != nil {
			return eris.Wrap(err, "open snapshot csv")
		}
		defer f.Close()

		rows, err := ingest.ReadSnapshot(f)
		if err != nil {
			return err
		}

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}

		proc := &importer.Processor{
			Store:            s,
			Now:              time.Now,
			FetchConcurrency: cfg.Import.FetchConcurrency,
		}
		if !processNoQA {
			proc.QA = initFetcher()
		}

		log, err := proc.ProcessSnapshot(ctx, rows, snapshotDate)
		if err != nil {
			return eris.Wrap(err, "process snapshot")
		}

		zap.L().Info("snapshot import complete",
			zap.String("import_id", log.ID),
			zap.Time("snapshot_date", log.SnapshotDate),
			zap.Int("rows", log.RowCount),
			zap.Int("qa_fetched", log.QAFetched),
			zap.Int("vanished", log.Vanished),
		)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processCSVPath, "csv", "", "path to snapshot CSV (required)")
	processCmd.Flags().StringVar(&processDate, "date", "", "snapshot date YYYY-MM-DD (default today)")
	processCmd.Flags().BoolVar(&processNoQA, "no-qa", false, "skip QA correspondence fetching")
	_ = processCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(processCmd)
}
