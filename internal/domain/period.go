package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePeriod derives the period a label names. Accepted labels are
// "2025-09" (month), "2025-Q3" (quarter) and "FY2025" (fiscal year,
// calendar aligned).
func ParsePeriod(label string) (Period, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return Period{}, Invalid("period", "required")
	}

	if strings.HasPrefix(label, "FY") {
		year, err := parseYear(label[2:])
		if err != nil {
			return Period{}, err
		}
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{Label: label, Kind: PeriodFY, StartsOn: start, EndsOn: start.AddDate(1, 0, -1)}, nil
	}

	yearPart, rest, ok := strings.Cut(label, "-")
	if !ok {
		return Period{}, Invalid("period", "unrecognised label %q", label)
	}
	year, err := parseYear(yearPart)
	if err != nil {
		return Period{}, err
	}

	if strings.HasPrefix(rest, "Q") {
		quarter, err := strconv.Atoi(rest[1:])
		if err != nil || quarter < 1 || quarter > 4 {
			return Period{}, Invalid("period", "quarter must be Q1-Q4")
		}
		start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{Label: label, Kind: PeriodQuarter, StartsOn: start, EndsOn: start.AddDate(0, 3, -1)}, nil
	}

	month, err := strconv.Atoi(rest)
	if err != nil || month < 1 || month > 12 || len(rest) != 2 {
		return Period{}, Invalid("period", "month must be 01-12")
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{Label: label, Kind: PeriodMonth, StartsOn: start, EndsOn: start.AddDate(0, 1, -1)}, nil
}

func parseYear(raw string) (int, error) {
	year, err := strconv.Atoi(raw)
	if err != nil || len(raw) != 4 || year < 2000 || year > 2100 {
		return 0, Invalid("period", "year %q out of range", raw)
	}
	return year, nil
}

func (p Period) String() string {
	return fmt.Sprintf("%s (%s..%s)", p.Label, p.StartsOn.Format("2006-01-02"), p.EndsOn.Format("2006-01-02"))
}
