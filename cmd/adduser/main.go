// cmd/adduser/main.go
// Creates or updates a player profile in the database.
//
// Usage:
//
//	go run ./cmd/adduser -username lando -password testing -nickname "Lando" [-admin]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/padraicbc/gridpicks/config"
	bundb "github.com/padraicbc/gridpicks/db"
	"github.com/padraicbc/gridpicks/handlers"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/store"
)

func main() {
	username := flag.String("username", "", "username (required)")
	password := flag.String("password", "", "plain-text password (required)")
	nickname := flag.String("nickname", "", "display name on leaderboards")
	admin := flag.Bool("admin", false, "grant the admin role")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	hash, err := handlers.HashPasswordForUser(*username, *password)
	if err != nil {
		log.Fatal("bcrypt:", err)
	}

	cfg := config.LoadDB()
	db := bundb.Setup(cfg)
	defer db.Close()

	ctx := context.Background()
	if err := bundb.CreateTables(ctx, db); err != nil {
		log.Fatal("create tables:", err)
	}

	role := models.RoleStandard
	if *admin {
		role = models.RoleAdmin
	}
	now := time.Now().UTC()
	p := &models.Profile{
		ID:        uuid.NewString(),
		Username:  *username,
		Password:  hash,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if *nickname != "" {
		p.Nickname = nickname
	}

	if err := store.NewBun(db).UpsertProfile(ctx, p); err != nil {
		log.Fatal("upsert profile:", err)
	}

	fmt.Printf("user %q saved (id %s, role %s)\n", p.Username, p.ID, p.Role)
}
