package session

import (
	"strconv"
	"strings"
)

// Case statuses reported by the runner or synthesized by the session.
const (
	StatusSucceed       = "SUCCEED"
	StatusFailed        = "FAILED"
	StatusSuspended     = "SUSPENDED"
	StatusNotFound      = "NOT_FOUND"
	StatusResultIgnored = "RESULT_IGNORED"
	StatusFailedStartup = "FAILED_STARTUP"
	StatusCleanupFailed = "CLEANUP_FAILED"
	StatusCrashed       = "CRASHED"
	StatusTimeout       = "TIMEOUT"
	StatusTotal         = "TOTAL"

	// statusExcluded is an alias the runner uses for SUSPENDED.
	statusExcluded = "EXCLUDED"
)

// Columns is the status vector in report order, TOTAL last.
var Columns = []string{
	StatusSucceed,
	StatusFailed,
	StatusSuspended,
	StatusNotFound,
	StatusResultIgnored,
	StatusFailedStartup,
	StatusCleanupFailed,
	StatusCrashed,
	StatusTimeout,
	StatusTotal,
}

const totalIndex = 9

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, c := range Columns {
		m[c] = i
	}
	return m
}()

// KnownStatus reports whether status is a countable case status.
func KnownStatus(status string) bool {
	i, ok := columnIndex[status]
	return ok && i != totalIndex
}

// Counts is one row of the status vector.
type Counts [10]int

// Add counts one case with status, which must be known.
func (c *Counts) Add(status string) {
	c[columnIndex[status]]++
	c[totalIndex]++
}

// Get returns the counter of a column, 0 for unknown names.
func (c Counts) Get(column string) int {
	i, ok := columnIndex[column]
	if !ok {
		return 0
	}
	return c[i]
}

// Total returns the TOTAL column.
func (c Counts) Total() int { return c[totalIndex] }

// Failed returns the cases that neither passed nor were skipped.
func (c Counts) Failed() int {
	return c.Get(StatusFailed) + c.Get(StatusFailedStartup) + c.Get(StatusCleanupFailed) +
		c.Get(StatusCrashed) + c.Get(StatusTimeout)
}

// Ran returns the cases that actually executed.
func (c Counts) Ran() int {
	return c.Total() - c.Get(StatusSuspended) - c.Get(StatusNotFound)
}

// Map returns the counters keyed by column.
func (c Counts) Map() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, col := range Columns {
		m[col] = c[i]
	}
	return m
}

// Row renders a set-summary CSV row labelled label.
func (c Counts) Row(label string) string {
	fields := make([]string, 0, len(Columns)+1)
	fields = append(fields, label)
	for _, n := range c {
		fields = append(fields, strconv.Itoa(n))
	}
	return strings.Join(fields, ",")
}

// setSummaryHeader is the first row of the set-summary CSV.
func setSummaryHeader() string {
	return "Test Set," + strings.Join(Columns, ",")
}
