package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	MaxTags      = 10
	MaxTagLength = 50
)

type Task struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at"`
	DueDate         *time.Time `json:"due_date"`
	Priority        Priority   `json:"priority"`
	Tags            []string   `json:"tags"`
	RecurringTaskID *int64     `json:"recurring_task_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ValidateTags enforces the tag list limits: at most MaxTags entries,
// each non-empty after trimming and at most MaxTagLength characters.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return fmt.Errorf("too many tags: %d (max %d)", len(tags), MaxTags)
	}
	for i, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("tag %d is empty", i)
		}
		// Characters, not bytes: a multibyte tag under the limit is valid
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return fmt.Errorf("tag %q exceeds %d characters", tag, MaxTagLength)
		}
	}
	return nil
}
