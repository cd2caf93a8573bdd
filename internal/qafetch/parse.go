package qafetch

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/qa"
)

// The registry renders correspondence as an HTML table whose header
// mentions "Submission Cycle". Each row's first cell lists submission
// dates, one per line; cancelled submissions carry an annotation like
// "(Submission cancelled on May 15, 2018)" or "- unknown". The second
// cell holds the date the regulator returned the submission, if any.
var (
	tableRe = regexp.MustCompile(`(?is)<table[^>]*>.*?</table>`)
	rowRe   = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	cellRe  = regexp.MustCompile(`(?is)<td[^>]*>(.*?)</td>`)
	brRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)

	cancelRe    = regexp.MustCompile(`(?i)([A-Z][a-z]+ \d{1,2}, \d{4})\s*\([^)]*?cancell?ed[^)]*?(?:-|on)\s*(unknown|[A-Z][a-z]+ \d{1,2}, \d{4})\s*\)`)
	cancelledRe = regexp.MustCompile(`(?i)cancell?ed`)
)

// parseEvents extracts QA events from the registry page body. A page with
// no submission-cycle table yields an empty slice: the trial has no
// correspondence on record.
func parseEvents(body string) ([]model.QAEvent, error) {
	var table string
	for _, t := range tableRe.FindAllString(body, -1) {
		if strings.Contains(t, "Submission Cycle") {
			table = t
			break
		}
	}
	if table == "" {
		return nil, nil
	}

	// Keyed by submission date; the registry cannot record two
	// submissions on the same day.
	byDate := make(map[time.Time]*model.QAEvent)
	upsert := func(submitted time.Time) *model.QAEvent {
		if ev, ok := byDate[submitted]; ok {
			return ev
		}
		ev := &model.QAEvent{SubmittedToRegulator: submitted}
		byDate[submitted] = ev
		return ev
	}

	for _, row := range rowRe.FindAllStringSubmatch(table, -1) {
		cells := cellRe.FindAllStringSubmatch(row[1], -1)
		if len(cells) == 0 {
			continue
		}

		// Cancelled submissions, annotated inline in the first cell.
		for _, m := range cancelRe.FindAllStringSubmatch(cells[0][1], -1) {
			submitted, err := parsePageDate(m[1])
			if err != nil {
				return nil, err
			}
			ev := upsert(submitted)
			if strings.EqualFold(strings.TrimSpace(m[2]), "unknown") {
				cancelled := qa.EarliestCancellationDate
				ev.CancelledBySponsor = &cancelled
				ev.CancellationDateInferred = true
			} else {
				cancelled, err := parsePageDate(m[2])
				if err != nil {
					return nil, err
				}
				ev.CancelledBySponsor = &cancelled
				ev.CancellationDateInferred = false
			}
		}

		// The last line of the first cell is the current submission;
		// if it reads as a cancellation the cycle has no open thread.
		last := lastLine(cells[0][1])
		if last == "" || cancelledRe.MatchString(last) {
			continue
		}
		submitted, err := parsePageDate(last)
		if err != nil {
			return nil, err
		}
		ev := upsert(submitted)

		if len(cells) > 1 {
			if returned := strings.TrimSpace(cellText(cells[1][1])); returned != "" {
				t, err := parsePageDate(returned)
				if err != nil {
					return nil, err
				}
				ev.ReturnedToSponsor = &t
			}
		}
	}

	events := make([]model.QAEvent, 0, len(byDate))
	for _, ev := range byDate {
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].SubmittedToRegulator.Before(events[j].SubmittedToRegulator)
	})
	return events, nil
}

func cellText(cell string) string {
	text := brRe.ReplaceAllString(cell, "\n")
	text = tagRe.ReplaceAllString(text, " ")
	return strings.ReplaceAll(text, "&#13;", "")
}

func lastLine(cell string) string {
	var last string
	for _, line := range strings.Split(cellText(cell), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			last = s
		}
	}
	return last
}

func parsePageDate(val string) (time.Time, error) {
	t, err := time.ParseInLocation("January 2, 2006", strings.TrimSpace(val), time.UTC)
	if err != nil {
		return time.Time{}, eris.Errorf("qafetch: unparseable date %q", val)
	}
	return t, nil
}
