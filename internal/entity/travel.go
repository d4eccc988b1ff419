package entity

import (
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// TravelMilestone is a place the partners plan to visit or have visited.
type TravelMilestone struct {
	ID           string    `json:"id"`
	PairingID    string    `json:"couple_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	PhotoCaption string    `json:"photo_caption,omitempty"`
	Visited      bool      `json:"visited"`
	VisitedAt    string    `json:"visited_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TravelMilestones orders by creation, newest first.
var TravelMilestones = ir.Kind[TravelMilestone]{
	Name:  KindTravelMilestones,
	Key:   func(m TravelMilestone) string { return m.ID },
	Scope: func(m TravelMilestone) string { return m.PairingID },
	Less:  func(a, b TravelMilestone) bool { return a.CreatedAt.After(b.CreatedAt) },
	Content: func(m TravelMilestone) map[string]any {
		return map[string]any{
			"title":         m.Title,
			"description":   m.Description,
			"location":      m.Location,
			"photo_url":     m.PhotoURL,
			"photo_caption": m.PhotoCaption,
			"visited":       m.Visited,
			"visited_at":    m.VisitedAt,
		}
	},
	Stamp: func(m TravelMilestone, key, scope string, at time.Time) TravelMilestone {
		m.ID, m.PairingID, m.CreatedAt = key, scope, at
		return m
	},
}

// VisitedCount counts the milestones marked visited.
func VisitedCount(records []TravelMilestone) int {
	n := 0
	for _, m := range records {
		if m.Visited {
			n++
		}
	}
	return n
}
