package analyzer

import (
	"regexp"
	"strconv"
	"time"
)

// dateRe matches DD<sep>MM<sep>YYYY with dot, slash or dash separators, the
// formats that appear on French identity documents.
var dateRe = regexp.MustCompile(`(\d{2})[./-](\d{2})[./-](\d{4})`)

// dateFacts summarizes every parseable date found in the text, partitioned
// around "now". The latest future date is the expiry candidate; the earliest
// past date is the birth-date candidate. Both heuristics can misfire on
// documents carrying unrelated dates, which is accepted product behavior.
type dateFacts struct {
	// Total counts date-shaped substrings, parseable or not.
	Total int

	HasFuture    bool
	LatestFuture time.Time

	HasPast      bool
	EarliestPast time.Time
}

// extractDates finds all date-like substrings in the normalized text, parses
// them day-first and partitions them around now. Substrings that fail
// calendar validation (e.g. 31/02/2027) are discarded rather than failing
// the analysis.
func extractDates(norm string, now time.Time) dateFacts {
	var facts dateFacts

	for _, m := range dateRe.FindAllStringSubmatch(norm, -1) {
		facts.Total++

		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])

		t, ok := makeDate(year, month, day)
		if !ok {
			continue
		}

		switch {
		case t.After(now):
			if !facts.HasFuture || t.After(facts.LatestFuture) {
				facts.LatestFuture = t
			}
			facts.HasFuture = true
		case t.Before(now):
			if !facts.HasPast || t.Before(facts.EarliestPast) {
				facts.EarliestPast = t
			}
			facts.HasPast = true
		}
	}

	return facts
}

// makeDate builds a calendar date, rejecting components that time.Date would
// silently normalize (month 13, February 31st).
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
