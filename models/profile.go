package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is the identity provider's role flag.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStandard Role = "standard"
)

// Profile is a player. It holds sign-in credentials and the derived total score.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:pf"`

	ID         string    `bun:"id,pk,type:uuid" json:"id"`
	Username   string    `bun:"username,notnull,unique" json:"username"`
	Password   string    `bun:"password,notnull" json:"-"`
	Nickname   *string   `bun:"nickname" json:"nickname,omitempty"`
	FirstName  *string   `bun:"first_name" json:"firstName,omitempty"`
	LastName   *string   `bun:"last_name" json:"lastName,omitempty"`
	Role       Role      `bun:"role,notnull,default:'standard'" json:"role"`
	TotalScore int       `bun:"total_score,notnull,default:0" json:"totalScore"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

// DisplayName prefers the nickname and falls back to the username.
func (p *Profile) DisplayName() string {
	if p.Nickname != nil && *p.Nickname != "" {
		return *p.Nickname
	}
	return p.Username
}
