package catalog

import (
	"strconv"
	"strings"
)

// Days per period unit. Months and years use calendar approximations; the
// values only feed display summaries, never billing math.
const (
	daysPerWeek  = 7
	daysPerMonth = 30
	daysPerYear  = 365
)

// PeriodDays parses an ISO-8601-like billing period ("P7D", "P1W", "P1M",
// "P1Y") into a day count. Unparsable periods yield (0, false) rather than
// an error; a malformed period must never abort processing of the batch.
func PeriodDays(period string) (int, bool) {
	p := strings.ToUpper(strings.TrimSpace(period))
	if len(p) < 3 || p[0] != 'P' {
		return 0, false
	}

	unit := p[len(p)-1]
	count, err := strconv.Atoi(p[1 : len(p)-1])
	if err != nil || count < 0 {
		return 0, false
	}

	switch unit {
	case 'D':
		return count, true
	case 'W':
		return count * daysPerWeek, true
	case 'M':
		return count * daysPerMonth, true
	case 'Y':
		return count * daysPerYear, true
	default:
		return 0, false
	}
}
