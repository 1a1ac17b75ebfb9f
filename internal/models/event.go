package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizer_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description" json:"description"`
	Capacity    *int      `bun:"capacity" json:"capacity,omitempty"`
	IsOpen      bool      `bun:"is_open" json:"is_open"`
	OpensAt     time.Time `bun:"opens_at,nullzero" json:"opens_at,omitempty"`
	ClosesAt    time.Time `bun:"closes_at,nullzero" json:"closes_at,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

type CreateEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    *int   `json:"capacity,omitempty"`
}
