package qafetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trial-tracker/internal/qa"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func page(table string) string {
	return `<html><body>
<table class="nav"><tr><td>Navigation</td></tr></table>
` + table + `
</body></html>`
}

func TestParseEvents_NoSubmissionTable(t *testing.T) {
	events, err := parseEvents(page(`<table><tr><td>Nothing relevant</td></tr></table>`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseEvents_OpenSubmissionWithReturn(t *testing.T) {
	events, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>June 10, 2018</td><td>July 20, 2018</td></tr>
</table>`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, date(2018, 6, 10), ev.SubmittedToRegulator)
	require.NotNil(t, ev.ReturnedToSponsor)
	assert.Equal(t, date(2018, 7, 20), *ev.ReturnedToSponsor)
	assert.Nil(t, ev.CancelledBySponsor)
}

func TestParseEvents_CancelledThenResubmitted(t *testing.T) {
	events, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>March 1, 2018 (Submission canceled on May 15, 2018)<br/>June 10, 2018</td><td>July 20, 2018</td></tr>
</table>`))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, date(2018, 3, 1), first.SubmittedToRegulator)
	require.NotNil(t, first.CancelledBySponsor)
	assert.Equal(t, date(2018, 5, 15), *first.CancelledBySponsor)
	assert.False(t, first.CancellationDateInferred)

	second := events[1]
	assert.Equal(t, date(2018, 6, 10), second.SubmittedToRegulator)
	assert.Nil(t, second.CancelledBySponsor)
	require.NotNil(t, second.ReturnedToSponsor)
	assert.Equal(t, date(2018, 7, 20), *second.ReturnedToSponsor)
}

func TestParseEvents_UnknownCancellationDateInferred(t *testing.T) {
	events, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>January 5, 2018 (Submission cancelled - unknown)</td><td></td></tr>
</table>`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, date(2018, 1, 5), ev.SubmittedToRegulator)
	require.NotNil(t, ev.CancelledBySponsor)
	assert.Equal(t, qa.EarliestCancellationDate, *ev.CancelledBySponsor)
	assert.True(t, ev.CancellationDateInferred)
}

func TestParseEvents_CancelledOnlyRowHasNoOpenSubmission(t *testing.T) {
	// The whole first cell is a cancelled annotation: the cycle has no
	// live submission and no return date applies.
	events, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>March 1, 2018 (Submission canceled on May 15, 2018)</td><td>April 2, 2018</td></tr>
</table>`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, date(2018, 3, 1), ev.SubmittedToRegulator)
	require.NotNil(t, ev.CancelledBySponsor)
	assert.Nil(t, ev.ReturnedToSponsor)
}

func TestParseEvents_MultipleRowsSortedAscending(t *testing.T) {
	events, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>September 3, 2019</td><td></td></tr>
<tr><td>June 10, 2018</td><td>July 20, 2018</td></tr>
</table>`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, date(2018, 6, 10), events[0].SubmittedToRegulator)
	assert.Equal(t, date(2019, 9, 3), events[1].SubmittedToRegulator)
}

func TestParseEvents_BadDate(t *testing.T) {
	_, err := parseEvents(page(`<table>
<tr><th>Submission Cycle</th><th>QC Review Completed</th></tr>
<tr><td>Sometime 2018</td><td></td></tr>
</table>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable date")
}
