// Package ingest parses the nightly registry-export CSV into typed
// snapshot rows. It is a thin collaborator: structural problems (missing
// columns, malformed flags or dates) fail here, while data-contract
// checks that need stored state live in the importer.
package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Row is one trial record from a snapshot export.
type Row struct {
	RegistryID      string
	SponsorName     string
	SponsorType     string
	URL             string
	Title           string
	HasExemption    bool
	HasResults      bool
	ResultsDue      bool
	IsProbableTrial bool
	StartDate       time.Time
	CompletionDate  *time.Time
	ReportedDate    *time.Time
}

// IsIndustrySponsor reports whether the sponsor is industry-classified.
func (r Row) IsIndustrySponsor() bool {
	return r.SponsorType == "Industry"
}

var requiredColumns = []string{
	"nct_id", "sponsor", "sponsor_type", "url", "title",
	"has_certificate", "has_results", "results_due", "included_pact_flag",
	"start_date", "available_completion_date", "results_submitted_date",
}

// ReadSnapshot parses a snapshot CSV. The header row is mapped by name so
// column order in the export may change freely.
func ReadSnapshot(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("ingest: empty snapshot file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read header")
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, eris.Errorf("ingest: snapshot missing column %q", name)
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read line %d", line+1)
		}
		line++

		row, err := parseRow(record, cols)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: line %d", line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(record []string, cols map[string]int) (Row, error) {
	field := func(name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	row := Row{
		RegistryID:  field("nct_id"),
		SponsorName: field("sponsor"),
		SponsorType: field("sponsor_type"),
		URL:         field("url"),
		Title:       field("title"),
	}
	if row.RegistryID == "" {
		return Row{}, eris.New("missing nct_id")
	}

	var err error
	if row.HasExemption, err = truthy(field("has_certificate")); err != nil {
		return Row{}, eris.Wrap(err, "has_certificate")
	}
	if row.HasResults, err = truthy(field("has_results")); err != nil {
		return Row{}, eris.Wrap(err, "has_results")
	}
	if row.ResultsDue, err = truthy(field("results_due")); err != nil {
		return Row{}, eris.Wrap(err, "results_due")
	}
	if row.IsProbableTrial, err = truthy(field("included_pact_flag")); err != nil {
		return Row{}, eris.Wrap(err, "included_pact_flag")
	}

	start, err := parseDate(field("start_date"))
	if err != nil {
		return Row{}, eris.Wrap(err, "start_date")
	}
	if start == nil {
		return Row{}, eris.New("missing start_date")
	}
	row.StartDate = *start

	if row.CompletionDate, err = parseDate(field("available_completion_date")); err != nil {
		return Row{}, eris.Wrap(err, "available_completion_date")
	}
	// An unparseable submission date reads as absent; the reconciler's
	// has_results integrity check catches the contradiction.
	row.ReportedDate, _ = parseDate(field("results_submitted_date"))
	return row, nil
}

// truthy converts the export's 0/1 flags to booleans.
func truthy(val string) (bool, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return false, eris.Errorf("flag value %q is not 0/1", val)
	}
	return n != 0, nil
}

func parseDate(val string) (*time.Time, error) {
	if val == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", val, time.UTC)
	if err != nil {
		return nil, eris.Errorf("bad date %q", val)
	}
	return &t, nil
}
