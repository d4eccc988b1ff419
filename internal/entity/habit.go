package entity

import (
	"context"
	"time"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/ir"
)

// Habit is a shared daily habit.
type Habit struct {
	ID           string    `json:"id"`
	PairingID    string    `json:"couple_id"`
	Title        string    `json:"title"`
	Icon         string    `json:"icon,omitempty"`
	Color        string    `json:"color,omitempty"`
	TargetPerDay int64     `json:"target_per_day"`
	CreatedAt    time.Time `json:"created_at"`
}

// Habits orders by creation, oldest first.
var Habits = ir.Kind[Habit]{
	Name:  KindHabits,
	Key:   func(h Habit) string { return h.ID },
	Scope: func(h Habit) string { return h.PairingID },
	Less:  func(a, b Habit) bool { return a.CreatedAt.Before(b.CreatedAt) },
	Content: func(h Habit) map[string]any {
		return map[string]any{
			"title":          h.Title,
			"icon":           h.Icon,
			"color":          h.Color,
			"target_per_day": h.TargetPerDay,
		}
	},
	Stamp: func(h Habit, key, scope string, at time.Time) Habit {
		h.ID, h.PairingID, h.CreatedAt = key, scope, at
		return h
	},
}

// HabitCompletion records that a user did a habit on a day.
type HabitCompletion struct {
	ID          string    `json:"id"`
	PairingID   string    `json:"couple_id"`
	HabitID     string    `json:"habit_id"`
	UserID      string    `json:"user_id"`
	CompletedOn string    `json:"completed_on"`
	CompletedAt time.Time `json:"completed_at"`
}

// HabitCompletions orders by day, newest first.
var HabitCompletions = ir.Kind[HabitCompletion]{
	Name:  KindHabitCompletions,
	Key:   func(c HabitCompletion) string { return c.ID },
	Scope: func(c HabitCompletion) string { return c.PairingID },
	Less: func(a, b HabitCompletion) bool {
		return newestFirst(a.CompletedOn, b.CompletedOn, a.CompletedAt, b.CompletedAt)
	},
	Content: func(c HabitCompletion) map[string]any {
		return map[string]any{
			"habit_id":     c.HabitID,
			"user_id":      c.UserID,
			"completed_on": c.CompletedOn,
		}
	},
	Stamp: func(c HabitCompletion, key, scope string, at time.Time) HabitCompletion {
		c.ID, c.PairingID, c.CompletedAt = key, scope, at
		if c.CompletedOn == "" {
			c.CompletedOn = Day(at)
		}
		return c
	},
}

// CompletedOn returns the completion of habit by user on day, if any.
func CompletedOn(records []HabitCompletion, habitID, userID, day string) (HabitCompletion, bool) {
	for _, c := range records {
		if c.HabitID == habitID && c.UserID == userID && c.CompletedOn == day {
			return c, true
		}
	}
	return HabitCompletion{}, false
}

// ToggleCompletion deletes the user's completion of habit on day if there
// is one, and creates it otherwise. It reports whether the habit is now
// completed.
func ToggleCompletion(ctx context.Context, eng *engine.Engine[HabitCompletion], habitID, userID, day string) (bool, error) {
	if existing, ok := CompletedOn(eng.List(), habitID, userID, day); ok {
		if err := eng.Delete(ctx, existing.ID); err != nil {
			return true, err
		}
		return false, nil
	}
	_, err := eng.Create(ctx, HabitCompletion{HabitID: habitID, UserID: userID, CompletedOn: day})
	if err != nil {
		return false, err
	}
	return true, nil
}
