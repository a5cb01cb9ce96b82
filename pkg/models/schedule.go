package models

import (
	"fmt"
	"time"
)

// ScheduleFrequency controls how often a scheduled when-node fires.
type ScheduleFrequency string

const (
	FrequencyOnce    ScheduleFrequency = "once"
	FrequencyDaily   ScheduleFrequency = "daily"
	FrequencyWeekly  ScheduleFrequency = "weekly"
	FrequencyMonthly ScheduleFrequency = "monthly"
	FrequencyYearly  ScheduleFrequency = "yearly"
)

const (
	scheduleTimeLayout = "15:04"
	scheduleDateLayout = "2006-01-02"
)

// Schedule describes when a scheduled when-node fires. Time and StartDate are
// wall-clock values interpreted in a timezone resolved at match time
// (conversation owner, then workflow owner, then the engine default).
type Schedule struct {
	Time      string            `json:"time"       validate:"required"`
	StartDate string            `json:"start_date" validate:"required"`
	Frequency ScheduleFrequency `json:"frequency"  validate:"required,oneof=once daily weekly monthly yearly"`
	Timezone  string            `json:"timezone,omitempty"`
}

// MatchesAt reports whether the schedule fires at the given localized time.
// The wall-clock comparison tolerates at most tolerance of drift so that
// minute-granularity ticks still hit the configured time.
func (s *Schedule) MatchesAt(local time.Time, tolerance time.Duration) (bool, error) {
	scheduled, err := time.ParseInLocation(scheduleTimeLayout, s.Time, local.Location())
	if err != nil {
		return false, fmt.Errorf("invalid schedule time %q: %w", s.Time, err)
	}

	start, err := time.ParseInLocation(scheduleDateLayout, s.StartDate, local.Location())
	if err != nil {
		return false, fmt.Errorf("invalid schedule start date %q: %w", s.StartDate, err)
	}

	target := time.Date(local.Year(), local.Month(), local.Day(),
		scheduled.Hour(), scheduled.Minute(), 0, 0, local.Location())

	diff := local.Sub(target)
	if diff < 0 {
		diff = -diff
	}

	if diff > tolerance {
		return false, nil
	}

	switch s.Frequency {
	case FrequencyOnce:
		return local.Year() == start.Year() && local.Month() == start.Month() && local.Day() == start.Day(), nil
	case FrequencyDaily:
		return true, nil
	case FrequencyWeekly:
		return local.Weekday() == start.Weekday(), nil
	case FrequencyMonthly:
		return local.Day() == start.Day(), nil
	case FrequencyYearly:
		return local.Month() == start.Month() && local.Day() == start.Day(), nil
	default:
		return false, fmt.Errorf("unknown schedule frequency %q", s.Frequency)
	}
}
