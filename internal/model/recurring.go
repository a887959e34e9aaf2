package model

import "time"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// RecurringTask is the template for a repeating task series. NextOccurrence
// is the cursor: the due date of the most recently materialized occurrence.
type RecurringTask struct {
	ID             int64      `json:"id"`
	OwnerID        int64      `json:"owner_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Frequency      Frequency  `json:"frequency"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	NextOccurrence time.Time  `json:"next_occurrence"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
