package entity

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/gateway/memory"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestKinds_Valid(t *testing.T) {
	require.NoError(t, Transactions.Validate())
	require.NoError(t, Habits.Validate())
	require.NoError(t, HabitCompletions.Validate())
	require.NoError(t, Goals.Validate())
	require.NoError(t, JournalEntries.Validate())
	require.NoError(t, Messages.Validate())
	require.NoError(t, TravelMilestones.Validate())

	for _, name := range Names() {
		_, err := Ordering(name)
		assert.NoError(t, err, name)
	}
	_, err := Ordering("pets")
	assert.Error(t, err)
}

func TestKinds_ContentFingerprints(t *testing.T) {
	_, err := ir.Fingerprint(Transactions, Transaction{Type: TypeExpense, Amount: 1250})
	require.NoError(t, err)
	_, err = ir.Fingerprint(JournalEntries, JournalEntry{Content: "no tags"})
	require.NoError(t, err)
	_, err = ir.Fingerprint(TravelMilestones, TravelMilestone{Title: "Lisbon", Visited: true})
	require.NoError(t, err)

	a, err := ir.Fingerprint(Messages, Messages.Stamp(Message{Content: "hi"}, "tmp-1", "P1", t0))
	require.NoError(t, err)
	b, err := ir.Fingerprint(Messages, Messages.Stamp(Message{Content: "hi"}, "srv-1", "P1", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, a, b, "server-assigned fields must not affect the fingerprint")
}

func TestTransactions_Order(t *testing.T) {
	records := []Transaction{
		{ID: "old", TransactionDate: "2024-01-01", CreatedAt: t0},
		{ID: "new-late", TransactionDate: "2024-02-01", CreatedAt: t0.Add(time.Hour)},
		{ID: "new-early", TransactionDate: "2024-02-01", CreatedAt: t0},
	}
	slices.SortFunc(records, Transactions.Compare)

	var keys []string
	for _, r := range records {
		keys = append(keys, r.ID)
	}
	assert.Equal(t, []string{"new-late", "new-early", "old"}, keys)
}

func TestTransactions_StampDefaultsDate(t *testing.T) {
	tx := Transactions.Stamp(Transaction{Amount: 100}, "k", "P1", t0)
	assert.Equal(t, "2024-03-01", tx.TransactionDate)

	tx = Transactions.Stamp(Transaction{TransactionDate: "2023-12-24"}, "k", "P1", t0)
	assert.Equal(t, "2023-12-24", tx.TransactionDate)
}

func TestTotals(t *testing.T) {
	s := Totals([]Transaction{
		{Type: TypeIncome, Amount: 500000},
		{Type: TypeExpense, Amount: 120000},
		{Type: TypeExpense, Amount: 30050},
		{Type: "refund", Amount: 999},
	})

	assert.Equal(t, Summary{Income: 500000, Expense: 150050, Balance: 349950}, s)
	assert.Equal(t, Summary{}, Totals(nil))
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name    string
		goal    Goal
		percent int64
	}{
		{"unmeasured", Goal{CurrentAmount: 50}, 0},
		{"nothing saved", Goal{TargetAmount: 1000}, 0},
		{"rounds half up", Goal{TargetAmount: 200, CurrentAmount: 1}, 1},
		{"rounds down", Goal{TargetAmount: 300, CurrentAmount: 100}, 33},
		{"two thirds", Goal{TargetAmount: 300, CurrentAmount: 200}, 67},
		{"reached", Goal{TargetAmount: 1000, CurrentAmount: 1000}, 100},
		{"overshoot clamps", Goal{TargetAmount: 1000, CurrentAmount: 5000}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.percent, Progress(tt.goal))
		})
	}
}

func TestAverageMood(t *testing.T) {
	_, ok := AverageMood(nil)
	assert.False(t, ok)

	avg, ok := AverageMood([]JournalEntry{{MoodScore: 4}, {MoodScore: 0}, {MoodScore: 5}})
	require.True(t, ok)
	assert.InDelta(t, 4.5, avg, 1e-9)
}

func TestVisitedCount(t *testing.T) {
	assert.Equal(t, 2, VisitedCount([]TravelMilestone{{Visited: true}, {}, {Visited: true}}))
}

func TestCompletedOn(t *testing.T) {
	records := []HabitCompletion{
		{ID: "c1", HabitID: "h1", UserID: "u1", CompletedOn: "2024-03-01"},
		{ID: "c2", HabitID: "h1", UserID: "u2", CompletedOn: "2024-03-01"},
	}

	c, ok := CompletedOn(records, "h1", "u2", "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, "c2", c.ID)

	_, ok = CompletedOn(records, "h1", "u1", "2024-03-02")
	assert.False(t, ok)
}

func TestToggleCompletion(t *testing.T) {
	clock := testutil.NewStepClock(t0, time.Minute)
	remote := memory.New(HabitCompletions,
		memory.WithKeys(testutil.NewSequenceKeys("srv").Func()),
		memory.WithClock(clock.Now),
	)
	eng, err := engine.New(HabitCompletions, remote,
		engine.WithKeyGenerator(testutil.NewSequenceKeys("tmp")),
		engine.WithClock(clock.Now),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.NoError(t, eng.Bind(ctx, "P1"))

	completed, err := ToggleCompletion(ctx, eng, "h1", "u1", "2024-03-01")
	require.NoError(t, err)
	require.NoError(t, eng.Flush(ctx))
	assert.True(t, completed)
	assert.Equal(t, []string{"srv-1"}, eng.Keys())
	_, ok := CompletedOn(remote.Records("P1"), "h1", "u1", "2024-03-01")
	assert.True(t, ok)

	completed, err = ToggleCompletion(ctx, eng, "h1", "u1", "2024-03-01")
	require.NoError(t, err)
	require.NoError(t, eng.Flush(ctx))
	assert.False(t, completed)
	assert.Empty(t, eng.Keys())
	assert.Empty(t, remote.Records("P1"))
}

// silentInserts acknowledges inserts with a fixed key and never publishes
// them, like a remote whose push channel is lagging.
type silentInserts struct {
	*memory.Backend[HabitCompletion]
	key string
}

func (g silentInserts) Mutate(ctx context.Context, op ir.Operation, c HabitCompletion) (ir.Ack, error) {
	if op == ir.OpInsert {
		return ir.Ack{Key: g.key}, nil
	}
	return g.Backend.Mutate(ctx, op, c)
}

func TestToggleCompletion_BeforePushArrives(t *testing.T) {
	clock := testutil.NewStepClock(t0, time.Minute)
	remote := memory.New(HabitCompletions, memory.WithClock(clock.Now))
	eng, err := engine.New(HabitCompletions, silentInserts{Backend: remote, key: "srv-1"},
		engine.WithKeyGenerator(testutil.NewSequenceKeys("tmp")),
		engine.WithClock(clock.Now),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.NoError(t, eng.Bind(ctx, "P1"))

	completed, err := ToggleCompletion(ctx, eng, "h1", "u1", "2024-03-01")
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []string{"tmp-1"}, eng.Keys())

	completed, err = ToggleCompletion(ctx, eng, "h1", "u1", "2024-03-01")
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Empty(t, eng.Keys())
	assert.Equal(t, 0, eng.Status().Pending)
}

func TestStatistics(t *testing.T) {
	now := time.Date(2024, 3, 7, 18, 0, 0, 0, time.UTC)
	in := StatsInput{
		Journal: []JournalEntry{
			{EntryDate: "2024-03-07", MoodScore: 4},
			{EntryDate: "2024-03-07", MoodScore: 5},
			{EntryDate: "2024-03-06", MoodScore: 3},
			{EntryDate: "2024-03-06"},
			{EntryDate: "2024-02-01", MoodScore: 1},
		},
		Habits: []Habit{{ID: "h1"}},
		Completions: []HabitCompletion{
			{HabitID: "h1", CompletedOn: "2024-03-07"},
			{HabitID: "h1", CompletedOn: "2024-03-05"},
			{HabitID: "other", CompletedOn: "2024-03-07"},
		},
		Goals: []Goal{
			{TargetAmount: 1000, CurrentAmount: 10},
			{TargetAmount: 1000, Status: GoalCompleted},
			{},
		},
		Transactions: []Transaction{
			{TransactionDate: "2024-03-07"},
			{TransactionDate: "2024-03-01"},
			{TransactionDate: "2024-02-28"},
		},
		PairedSince: now.AddDate(0, 0, -30).Add(time.Hour),
	}

	daily, overall := Statistics(in, now, 7)

	require.Len(t, daily, 7)
	assert.Equal(t, "2024-03-01", daily[0].Date)
	assert.Equal(t, "2024-03-07", daily[6].Date)

	assert.Equal(t, DailyStats{Date: "2024-03-07", MoodScore: 90, HabitsCompleted: 1, GoalsProgress: 33, Transactions: 1}, daily[6])
	assert.Equal(t, int64(60), daily[5].MoodScore, "entries without a mood are ignored")
	assert.Equal(t, 1, daily[4].HabitsCompleted)
	assert.Equal(t, 1, daily[0].Transactions)
	assert.Equal(t, int64(0), daily[1].MoodScore)

	assert.Equal(t, OverallStats{
		JournalEntries:  4,
		AvgMoodScore:    80,
		HabitsCompleted: 2,
		GoalsCompleted:  1,
		Transactions:    2,
		DaysTogether:    29,
	}, overall)
}

func TestStatistics_Empty(t *testing.T) {
	now := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	daily, overall := Statistics(StatsInput{PairedSince: now}, now, 0)

	require.Len(t, daily, 1)
	assert.Equal(t, DailyStats{Date: "2024-03-07"}, daily[0])
	assert.Equal(t, OverallStats{DaysTogether: 1}, overall)
}
