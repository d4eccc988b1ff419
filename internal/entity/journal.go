package entity

import (
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// JournalEntry is one partner's diary entry. MoodScore runs 1..5; 0 means
// no mood was recorded.
type JournalEntry struct {
	ID        string    `json:"id"`
	PairingID string    `json:"couple_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Gratitude string    `json:"gratitude,omitempty"`
	MoodScore int64     `json:"mood_score,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	EntryDate string    `json:"entry_date"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalEntries orders by entry date, newest first.
var JournalEntries = ir.Kind[JournalEntry]{
	Name:  KindJournalEntries,
	Key:   func(j JournalEntry) string { return j.ID },
	Scope: func(j JournalEntry) string { return j.PairingID },
	Less: func(a, b JournalEntry) bool {
		return newestFirst(a.EntryDate, b.EntryDate, a.CreatedAt, b.CreatedAt)
	},
	Content: func(j JournalEntry) map[string]any {
		return map[string]any{
			"user_id":    j.UserID,
			"content":    j.Content,
			"gratitude":  j.Gratitude,
			"mood_score": j.MoodScore,
			"tags":       j.Tags,
			"entry_date": j.EntryDate,
		}
	},
	Stamp: func(j JournalEntry, key, scope string, at time.Time) JournalEntry {
		j.ID, j.PairingID, j.CreatedAt = key, scope, at
		if j.EntryDate == "" {
			j.EntryDate = Day(at)
		}
		return j
	},
}

// AverageMood averages the recorded mood scores. ok is false when no entry
// has one.
func AverageMood(records []JournalEntry) (avg float64, ok bool) {
	var sum, n int64
	for _, j := range records {
		if j.MoodScore > 0 {
			sum += j.MoodScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}
