package models

import (
	"fmt"
	"time"
)

type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MaxPoints       int       `json:"max_points"`
	ForegroundColor string    `json:"foreground_color"`
	BackgroundColor string    `json:"background_color"`
	CreatedAt       time.Time `json:"created_at"`
}

type Card struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"organization_id"`
	UserID    int       `json:"user_id"`
	Points    int       `json:"points"` // derived: count of stamped rows
	MaxPoints int       `json:"max_points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance is the display string shown on wallet passes, e.g. "3/10".
func (c Card) Balance() string {
	return fmt.Sprintf("%d/%d", c.Points, c.MaxPoints)
}

type Stamp struct {
	CardID    string    `json:"card_id"`
	Index     int       `json:"index"`
	Stamped   bool      `json:"stamped"`
	StampedBy int       `json:"stamped_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardEvent is published on the realtime channel after every balance change.
type CardEvent struct {
	CardID     string    `json:"card_id"`
	OrgID      string    `json:"organization_id"`
	Points     int       `json:"points"`
	MaxPoints  int       `json:"max_points"`
	Balance    string    `json:"balance"`
	OccurredAt time.Time `json:"occurred_at"`
}
