package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LeaderboardEntry is a user's accumulated score within one Grand Prix.
// It is derived from predictions, results and event points and never edited by hand.
type LeaderboardEntry struct {
	bun.BaseModel `bun:"table:leaderboards,alias:lb"`

	ID          string    `bun:"id,pk,type:uuid" json:"id"`
	GrandPrixID string    `bun:"grand_prix_id,notnull,type:uuid,unique:leaderboards_gp_user" json:"grandPrixID"`
	UserID      string    `bun:"user_id,notnull,type:uuid,unique:leaderboards_gp_user" json:"userID"`
	Score       int       `bun:"score,notnull,default:0" json:"score"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}
