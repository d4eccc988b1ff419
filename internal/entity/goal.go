package entity

import (
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// Goal statuses.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
)

// Goal is a shared savings or life goal. Amounts are in minor units; a zero
// target means the goal is not measured.
type Goal struct {
	ID            string    `json:"id"`
	PairingID     string    `json:"couple_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Icon          string    `json:"icon,omitempty"`
	Status        string    `json:"status"`
	TargetAmount  int64     `json:"target_amount"`
	CurrentAmount int64     `json:"current_amount"`
	TargetDate    string    `json:"target_date,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Goals orders by creation, newest first.
var Goals = ir.Kind[Goal]{
	Name:  KindGoals,
	Key:   func(g Goal) string { return g.ID },
	Scope: func(g Goal) string { return g.PairingID },
	Less:  func(a, b Goal) bool { return a.CreatedAt.After(b.CreatedAt) },
	Content: func(g Goal) map[string]any {
		return map[string]any{
			"title":          g.Title,
			"description":    g.Description,
			"icon":           g.Icon,
			"status":         g.Status,
			"target_amount":  g.TargetAmount,
			"current_amount": g.CurrentAmount,
			"target_date":    g.TargetDate,
		}
	},
	Stamp: func(g Goal, key, scope string, at time.Time) Goal {
		g.ID, g.PairingID, g.CreatedAt = key, scope, at
		if g.Status == "" {
			g.Status = GoalActive
		}
		return g
	},
}

// Progress returns the rounded percentage of the target reached, clamped
// to 0..100. Unmeasured goals report 0.
func Progress(g Goal) int64 {
	if g.TargetAmount <= 0 || g.CurrentAmount <= 0 {
		return 0
	}
	if g.CurrentAmount >= g.TargetAmount {
		return 100
	}
	return (g.CurrentAmount*100 + g.TargetAmount/2) / g.TargetAmount
}
