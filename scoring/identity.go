package scoring

import "github.com/padraicbc/gridpicks/models"

// Identity is the caller as reported by the identity provider.
type Identity struct {
	UserID string
	Role   models.Role
}

// Admin returns an admin identity for userID.
func Admin(userID string) Identity { return Identity{UserID: userID, Role: models.RoleAdmin} }

// Player returns a standard identity for userID.
func Player(userID string) Identity { return Identity{UserID: userID, Role: models.RoleStandard} }

func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }
