package model

import "fmt"

// Period is a workspace's default budgeting cadence.
type Period string

const (
	PeriodDaily       Period = "daily"
	PeriodWeekly      Period = "weekly"
	PeriodBiWeekly    Period = "biWeekly"
	PeriodSemiMonthly Period = "semiMonthly"
	PeriodMonthly     Period = "monthly"
	PeriodQuarterly   Period = "quarterly"
	PeriodYearly      Period = "yearly"
)

// DefaultPeriod is used when a workspace has none recorded.
const DefaultPeriod = PeriodMonthly

var periods = []Period{
	PeriodDaily, PeriodWeekly, PeriodBiWeekly, PeriodSemiMonthly,
	PeriodMonthly, PeriodQuarterly, PeriodYearly,
}

// Periods returns every supported period.
func Periods() []Period {
	return append([]Period(nil), periods...)
}

// ParsePeriod validates a raw period value.
func ParsePeriod(s string) (Period, error) {
	for _, p := range periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown budget period %q", s)
}
