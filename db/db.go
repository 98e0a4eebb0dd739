package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/padraicbc/gridpicks/config"
	"github.com/padraicbc/gridpicks/models"
)

// Setup opens a PostgreSQL connection using the provided config.
func Setup(cfg *config.Config) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN())))
	db := bun.NewDB(sqldb, pgdialect.New())

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(context.Background()); err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	return db
}

type table struct {
	model       any
	foreignKeys []string
}

// CreateTables creates all tables in dependency order.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []table{
		{model: (*models.Profile)(nil)},
		{model: (*models.Driver)(nil)},
		{model: (*models.GrandPrix)(nil)},
		{model: (*models.Event)(nil), foreignKeys: []string{
			`("grand_prix_id") REFERENCES "grand_prix" ("id") ON DELETE CASCADE`,
		}},
		{model: (*models.Prediction)(nil), foreignKeys: []string{
			`("user_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
			`("event_id") REFERENCES "events" ("id") ON DELETE CASCADE`,
		}},
		{model: (*models.Result)(nil), foreignKeys: []string{
			`("event_id") REFERENCES "events" ("id") ON DELETE CASCADE`,
		}},
		{model: (*models.LeaderboardEntry)(nil), foreignKeys: []string{
			`("grand_prix_id") REFERENCES "grand_prix" ("id") ON DELETE CASCADE`,
			`("user_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
		}},
	}

	for _, t := range tables {
		q := db.NewCreateTable().Model(t.model).IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", t.model, err)
		}
	}

	constraints := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS grand_prix_one_active ON grand_prix ((status)) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS grand_prix_status_start ON grand_prix (status, start_date)`,
		`CREATE INDEX IF NOT EXISTS events_grand_prix ON events (grand_prix_id)`,
		`CREATE INDEX IF NOT EXISTS profiles_total_score ON profiles (total_score DESC, id)`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'events_points_positive' AND connamespace = (SELECT oid FROM pg_namespace WHERE nspname = current_schema())) THEN ALTER TABLE events ADD CONSTRAINT events_points_positive CHECK (points > 0); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'grand_prix_status_known' AND connamespace = (SELECT oid FROM pg_namespace WHERE nspname = current_schema())) THEN ALTER TABLE grand_prix ADD CONSTRAINT grand_prix_status_known CHECK (status IN ('upcoming', 'active', 'completed')); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'grand_prix_dates_ordered' AND connamespace = (SELECT oid FROM pg_namespace WHERE nspname = current_schema())) THEN ALTER TABLE grand_prix ADD CONSTRAINT grand_prix_dates_ordered CHECK (end_date >= start_date); END IF; END $$`,
	}
	for _, stmt := range constraints {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Printf("constraint: %v", err)
		}
	}

	return nil
}
