package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Prediction is one user's guess for one Event. At most one per (user, event).
type Prediction struct {
	bun.BaseModel `bun:"table:predictions,alias:p"`

	ID         string    `bun:"id,pk,type:uuid" json:"id"`
	UserID     string    `bun:"user_id,notnull,type:uuid,unique:predictions_user_event" json:"userID"`
	EventID    string    `bun:"event_id,notnull,type:uuid,unique:predictions_user_event" json:"eventID"`
	Prediction string    `bun:"prediction,notnull" json:"prediction"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}
