package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/models"
)

// DateOrder is the field order used to interpret an ambiguous date token.
type DateOrder string

const (
	DateOrderDayFirst   DateOrder = "day_first"
	DateOrderMonthFirst DateOrder = "month_first"
)

// UnresolvedReason distinguishes a data error from a configuration gap.
type UnresolvedReason string

const (
	// UnresolvedMalformed means the token is not a date under any reading.
	UnresolvedMalformed UnresolvedReason = "malformed_token"
	// UnresolvedOutsidePeriods means the token is a recognizable date but no
	// configured period contains it under any interpretation.
	UnresolvedOutsidePeriods UnresolvedReason = "outside_periods"
)

// UnresolvedError reports why a date token could not be placed in a period.
type UnresolvedError struct {
	Token  string
	Reason UnresolvedReason
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved date %q: %s", e.Token, e.Reason)
}

// YearPeriods couples an academic year with its trimesters, sorted by order.
type YearPeriods struct {
	Year       models.AcademicYear
	Trimesters []models.Trimester
}

// PeriodResolution is a successful placement of a date token.
type PeriodResolution struct {
	Trimester    models.Trimester
	Year         models.AcademicYear
	Date         time.Time
	Order        DateOrder
	YearAdjusted bool
	FromSerial   bool
}

// dateParts holds the numeric fields of a token before the day/month
// ambiguity is settled. For serial tokens first/second are the actual
// day/month of the decoded date.
type dateParts struct {
	first      int
	second     int
	year       int
	fromSerial bool
}

// spreadsheetEpoch is the day-serial origin used by common spreadsheet
// tools. Serials below 60 predate the phantom 1900-02-29 and need a one-day
// correction.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const maxPlausibleSerial = 80000 // ~year 2119

func serialToDate(serial int) (time.Time, bool) {
	if serial <= 0 || serial > maxPlausibleSerial {
		return time.Time{}, false
	}
	if serial < 60 {
		serial++
	}
	return spreadsheetEpoch.AddDate(0, 0, serial), true
}

// decomposeDateToken splits a raw token into day/month/year candidates. A
// trailing time-of-day component is dropped first. Numeric tokens are read
// as spreadsheet day serials.
func decomposeDateToken(token string) (dateParts, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return dateParts{}, false
	}

	fields := strings.Fields(token)
	datePart := fields[0]

	if serial, err := strconv.ParseFloat(datePart, 64); err == nil {
		date, ok := serialToDate(int(serial))
		if !ok {
			return dateParts{}, false
		}
		return dateParts{
			first:      date.Day(),
			second:     int(date.Month()),
			year:       date.Year(),
			fromSerial: true,
		}, true
	}

	pieces := strings.Split(datePart, "/")
	if len(pieces) != 3 {
		return dateParts{}, false
	}

	nums := make([]int, 3)
	for i, piece := range pieces {
		n, err := strconv.Atoi(strings.TrimSpace(piece))
		if err != nil {
			return dateParts{}, false
		}
		nums[i] = n
	}

	year := nums[2]
	if year < 100 {
		year += 2000
	}

	return dateParts{first: nums[0], second: nums[1], year: year}, true
}

// buildDate applies a field order to the decomposed parts and rejects
// impossible calendar dates (month 13, February 30, ...).
func buildDate(p dateParts, order DateOrder, year int) (time.Time, bool) {
	day, month := p.first, p.second
	if order == DateOrderMonthFirst {
		day, month = p.second, p.first
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || date.Month() != time.Month(month) || date.Year() != year {
		return time.Time{}, false
	}
	return date, true
}

// periodStrategy is one ordered attempt at placing the token: a field order
// against one year's period registry. Strategies are evaluated in sequence
// and the first match wins, so new disambiguation steps can be appended
// without touching the existing ones.
type periodStrategy struct {
	order    DateOrder
	periods  YearPeriods
	adjusted bool
}

// candidateYears lists the calendar years this strategy may place the date
// in: the token's own year first, then (for adjusted strategies) the years
// spanned by the academic year, covering typo'd or rolled-over year fields.
func (s periodStrategy) candidateYears(p dateParts) []int {
	years := []int{p.year}
	if !s.adjusted {
		return years
	}
	for _, y := range []int{s.periods.Year.StartDate.Year(), s.periods.Year.EndDate.Year()} {
		seen := false
		for _, existing := range years {
			if existing == y {
				seen = true
				break
			}
		}
		if !seen {
			years = append(years, y)
		}
	}
	return years
}

func (s periodStrategy) try(p dateParts) (*PeriodResolution, bool) {
	for _, year := range s.candidateYears(p) {
		date, ok := buildDate(p, s.order, year)
		if !ok {
			continue
		}
		for _, trimester := range s.periods.Trimesters {
			if trimester.Contains(date) {
				return &PeriodResolution{
					Trimester:    trimester,
					Year:         s.periods.Year,
					Date:         date,
					Order:        s.order,
					YearAdjusted: s.adjusted || year != p.year,
					FromSerial:   p.fromSerial,
				}, true
			}
		}
	}
	return nil, false
}

// ResolvePeriod places a raw date token into a trimester. The assumed year's
// periods are tried first, day-first before month-first; every other
// configured year follows as a fallback for typo'd or rolled-over years.
// The function is pure and deterministic.
func ResolvePeriod(token string, assumed YearPeriods, others []YearPeriods) (*PeriodResolution, *UnresolvedError) {
	parts, ok := decomposeDateToken(token)
	if !ok {
		return nil, &UnresolvedError{Token: token, Reason: UnresolvedMalformed}
	}

	strategies := []periodStrategy{
		{order: DateOrderDayFirst, periods: assumed},
		{order: DateOrderMonthFirst, periods: assumed},
	}
	for _, other := range others {
		strategies = append(strategies,
			periodStrategy{order: DateOrderDayFirst, periods: other, adjusted: true},
			periodStrategy{order: DateOrderMonthFirst, periods: other, adjusted: true},
		)
	}

	for _, strategy := range strategies {
		if resolution, matched := strategy.try(parts); matched {
			return resolution, nil
		}
	}

	return nil, &UnresolvedError{Token: token, Reason: UnresolvedOutsidePeriods}
}

// parseLooseDate reads a date token without requiring period containment,
// preferring the day-first reading. Used for secondary dates (incident date,
// edit timestamps) that do not drive period assignment.
func parseLooseDate(token string) *time.Time {
	parts, ok := decomposeDateToken(token)
	if !ok {
		return nil
	}
	if date, ok := buildDate(parts, DateOrderDayFirst, parts.year); ok {
		return &date
	}
	if date, ok := buildDate(parts, DateOrderMonthFirst, parts.year); ok {
		return &date
	}
	return nil
}
