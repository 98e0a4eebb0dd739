package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Driver is a selectable prediction target.
type Driver struct {
	bun.BaseModel `bun:"table:drivers,alias:d"`

	ID        string    `bun:"id,pk,type:uuid" json:"id"`
	Name      string    `bun:"name,notnull,unique" json:"name"`
	Team      string    `bun:"team,notnull" json:"team"`
	Number    *int      `bun:"number" json:"number,omitempty"`
	Active    bool      `bun:"active,notnull,default:true" json:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}
