package entity

import (
	"math"
	"time"
)

// StatsInput is the replica content statistics are computed from.
type StatsInput struct {
	Journal      []JournalEntry
	Completions  []HabitCompletion
	Habits       []Habit
	Goals        []Goal
	Transactions []Transaction

	// PairedSince is when the pairing was formed. Zero counts as one day.
	PairedSince time.Time
}

// DailyStats summarizes one calendar day.
type DailyStats struct {
	Date            string `json:"date"`
	MoodScore       int64  `json:"mood_score"` // 0..100, 0 when no mood was recorded
	HabitsCompleted int    `json:"habits_completed"`
	GoalsProgress   int64  `json:"goals_progress"` // percent of goals with money saved
	Transactions    int    `json:"transactions"`
}

// OverallStats summarizes the whole window.
type OverallStats struct {
	JournalEntries  int   `json:"journal_entries"`
	AvgMoodScore    int64 `json:"avg_mood_score"`
	HabitsCompleted int   `json:"habits_completed"`
	GoalsCompleted  int   `json:"goals_completed"`
	Transactions    int   `json:"transactions"`
	DaysTogether    int   `json:"days_together"`
}

// Statistics computes per-day figures for the days-long window ending on
// now's calendar day, oldest first, and totals over the same window. Goal
// figures are not windowed. Completions of habits the pairing does not own
// are ignored.
func Statistics(in StatsInput, now time.Time, days int) ([]DailyStats, OverallStats) {
	if days < 1 {
		days = 1
	}
	first := Day(now.AddDate(0, 0, -(days - 1)))
	last := Day(now)
	inWindow := func(day string) bool { return day >= first && day <= last }

	owned := make(map[string]bool, len(in.Habits))
	for _, h := range in.Habits {
		owned[h.ID] = true
	}

	journal := make(map[string][]JournalEntry)
	var allJournal []JournalEntry
	for _, j := range in.Journal {
		if inWindow(j.EntryDate) {
			journal[j.EntryDate] = append(journal[j.EntryDate], j)
			allJournal = append(allJournal, j)
		}
	}
	completions := make(map[string]int)
	var totalCompletions int
	for _, c := range in.Completions {
		if owned[c.HabitID] && inWindow(c.CompletedOn) {
			completions[c.CompletedOn]++
			totalCompletions++
		}
	}
	transactions := make(map[string]int)
	var totalTransactions int
	for _, t := range in.Transactions {
		if inWindow(t.TransactionDate) {
			transactions[t.TransactionDate]++
			totalTransactions++
		}
	}

	var saving, completed int
	for _, g := range in.Goals {
		if g.TargetAmount > 0 && g.CurrentAmount > 0 {
			saving++
		}
		if g.Status == GoalCompleted {
			completed++
		}
	}
	var goalsProgress int64
	if len(in.Goals) > 0 {
		goalsProgress = percent(saving, len(in.Goals))
	}

	daily := make([]DailyStats, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := Day(now.AddDate(0, 0, -i))
		daily = append(daily, DailyStats{
			Date:            day,
			MoodScore:       moodPercent(journal[day]),
			HabitsCompleted: completions[day],
			GoalsProgress:   goalsProgress,
			Transactions:    transactions[day],
		})
	}

	overall := OverallStats{
		JournalEntries:  len(allJournal),
		AvgMoodScore:    moodPercent(allJournal),
		HabitsCompleted: totalCompletions,
		GoalsCompleted:  completed,
		Transactions:    totalTransactions,
		DaysTogether:    1,
	}
	if !in.PairedSince.IsZero() {
		overall.DaysTogether = max(1, int(now.Sub(in.PairedSince)/(24*time.Hour)))
	}
	return daily, overall
}

// moodPercent maps the average 1..5 mood onto 0..100.
func moodPercent(entries []JournalEntry) int64 {
	avg, ok := AverageMood(entries)
	if !ok {
		return 0
	}
	return int64(math.Round(avg * 20))
}

func percent(n, of int) int64 {
	return int64(math.Round(float64(n) * 100 / float64(of)))
}
