package models

import (
	"time"

	"github.com/uptrace/bun"
)

// GrandPrixStatus is the lifecycle state of a Grand Prix.
type GrandPrixStatus string

const (
	StatusUpcoming  GrandPrixStatus = "upcoming"
	StatusActive    GrandPrixStatus = "active"
	StatusCompleted GrandPrixStatus = "completed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s GrandPrixStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// GrandPrix is a time-boxed competition round holding a set of Events.
type GrandPrix struct {
	bun.BaseModel `bun:"table:grand_prix,alias:gp"`

	ID          string          `bun:"id,pk,type:uuid" json:"id"`
	Name        string          `bun:"name,notnull" json:"name"`
	Slug        string          `bun:"slug,notnull" json:"slug"`
	StartDate   time.Time       `bun:"start_date,notnull" json:"startDate"`
	EndDate     time.Time       `bun:"end_date,notnull" json:"endDate"`
	Status      GrandPrixStatus `bun:"status,notnull,default:'upcoming'" json:"status"`
	Location    *string         `bun:"location" json:"location,omitempty"`
	CountryCode *string         `bun:"country_code" json:"countryCode,omitempty"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

// Event is a single predictable outcome within a Grand Prix.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID          string    `bun:"id,pk,type:uuid" json:"id"`
	GrandPrixID string    `bun:"grand_prix_id,notnull,type:uuid" json:"grandPrixID"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description *string   `bun:"description" json:"description,omitempty"`
	Points      int       `bun:"points,notnull,default:1" json:"points"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`

	GrandPrix *GrandPrix `bun:"rel:belongs-to,join:grand_prix_id=id" json:"-"`
}
