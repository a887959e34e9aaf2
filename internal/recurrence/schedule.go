package recurrence

import (
	"fmt"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
)

// ErrInvalidFrequency is returned by Next for a frequency outside the
// supported set. Unknown frequencies never silently default.
type ErrInvalidFrequency struct {
	Frequency model.Frequency
}

func (e ErrInvalidFrequency) Error() string {
	return fmt.Sprintf("invalid frequency: %q", string(e.Frequency))
}

// Next computes the due date of the occurrence following current. Time of day
// and location of current are preserved exactly. Monthly advancement clamps
// the day of month to the last valid day of the target month, so Jan 31
// becomes Feb 28 (or Feb 29 in a leap year).
func Next(current time.Time, freq model.Frequency) (time.Time, error) {
	switch freq {
	case model.FrequencyDaily:
		return current.AddDate(0, 0, 1), nil
	case model.FrequencyWeekly:
		return current.AddDate(0, 0, 7), nil
	case model.FrequencyMonthly:
		return nextMonth(current), nil
	}
	return time.Time{}, ErrInvalidFrequency{Frequency: freq}
}

func nextMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	month++
	if month > time.December {
		month = time.January
		year++
	}
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ShouldContinue reports whether a series may generate another occurrence.
// A nil end date means the series is infinite. The check is against the
// current wall clock, not against the computed next due date.
func ShouldContinue(endDate *time.Time, now time.Time) bool {
	return endDate == nil || endDate.After(now)
}
