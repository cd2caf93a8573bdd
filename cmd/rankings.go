package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/ranking"
	"github.com/sells-group/trial-tracker/internal/store"
)

var rankingsDate string

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Show sponsor rankings for a snapshot date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		date, err := parseDateFlag(rankingsDate)
		if err != nil {
			return err
		}

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		rankings, err := s.ListRankings(ctx, store.RankingFilter{Date: date})
		if err != nil {
			return err
		}
		if len(rankings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no rankings on record")
			return nil
		}

		printRankings(cmd.OutOrStdout(), rankings)
		return nil
	},
}

var performanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Show the overall compliance summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		date, err := parseDateFlag(rankingsDate)
		if err != nil {
			return err
		}

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		summary, err := ranking.Summarize(ctx, s, date)
		if err != nil {
			return err
		}
		if summary == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no rankings on record")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Date:\t%s\n", summary.Date.Format("2006-01-02"))
		_, _ = fmt.Fprintf(w, "Due:\t%d\n", summary.Due)
		_, _ = fmt.Fprintf(w, "Reported:\t%d\n", summary.Reported)
		_, _ = fmt.Fprintf(w, "Finable days late:\t%d\n", summary.DaysLate)
		_, _ = fmt.Fprintf(w, "Fines estimate:\t$%d\n", summary.FinesEstimate)
		return w.Flush()
	},
}

func parseDateFlag(val string) (*time.Time, error) {
	if val == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation("2006-01-02", val, time.UTC)
	if err != nil {
		return nil, eris.Wrapf(err, "parse --date %q", val)
	}
	return &d, nil
}

func printRankings(out io.Writer, rankings []model.Ranking) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tSPONSOR\tDUE\tREPORTED\tOVERDUE\tTOTAL\tPCT")
	for i := range rankings {
		r := &rankings[i]
		rank := "-"
		if r.Rank != nil {
			rank = fmt.Sprintf("%d", *r.Rank)
		}
		pct := "-"
		if r.Percentage != nil {
			pct = fmt.Sprintf("%.2f", *r.Percentage)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			rank, r.SponsorName, r.Due, r.Reported, r.Overdue, r.Total, pct)
	}
	_ = w.Flush()
}

func init() {
	rankingsCmd.Flags().StringVar(&rankingsDate, "date", "", "snapshot date YYYY-MM-DD (default latest)")
	performanceCmd.Flags().StringVar(&rankingsDate, "date", "", "snapshot date YYYY-MM-DD (default latest)")
	rootCmd.AddCommand(rankingsCmd)
	rootCmd.AddCommand(performanceCmd)
}
