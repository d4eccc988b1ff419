// Package entity defines the record types the app synchronizes and the
// ir.Kind describing each of them to the engine.
//
// Every record belongs to one pairing (its scope). Money is kept in minor
// units and calendar days as "2006-01-02" strings, so record content
// fingerprints without floats or time zones.
package entity

import (
	"fmt"
	"time"
)

// DateLayout is the layout of calendar-day fields.
const DateLayout = "2006-01-02"

// Kind names.
const (
	KindTransactions     = "transactions"
	KindHabits           = "habits"
	KindHabitCompletions = "habit_completions"
	KindGoals            = "goals"
	KindJournalEntries   = "journal_entries"
	KindMessages         = "messages"
	KindTravelMilestones = "travel_milestones"
)

// Names lists every kind name in a stable order.
func Names() []string {
	return []string{
		KindTransactions,
		KindHabits,
		KindHabitCompletions,
		KindGoals,
		KindJournalEntries,
		KindMessages,
		KindTravelMilestones,
	}
}

// Ordering describes how a kind sorts for display.
func Ordering(name string) (string, error) {
	switch name {
	case KindTransactions:
		return "transaction_date desc, created_at desc", nil
	case KindHabits:
		return "created_at asc", nil
	case KindHabitCompletions:
		return "completed_on desc, completed_at desc", nil
	case KindGoals:
		return "created_at desc", nil
	case KindJournalEntries:
		return "entry_date desc, created_at desc", nil
	case KindMessages:
		return "created_at asc", nil
	case KindTravelMilestones:
		return "created_at desc", nil
	}
	return "", fmt.Errorf("unknown kind %q", name)
}

// Day formats t as a calendar day.
func Day(t time.Time) string {
	return t.Format(DateLayout)
}

// newestFirst orders by a day string descending, then by creation time
// descending.
func newestFirst(dayA, dayB string, a, b time.Time) bool {
	if dayA != dayB {
		return dayA > dayB
	}
	return a.After(b)
}
