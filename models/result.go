package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Result is the official outcome of an Event. At most one per event.
type Result struct {
	bun.BaseModel `bun:"table:results,alias:r"`

	ID           string    `bun:"id,pk,type:uuid" json:"id"`
	EventID      string    `bun:"event_id,notnull,type:uuid,unique" json:"eventID"`
	ActualResult string    `bun:"actual_result,notnull" json:"actualResult"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}
