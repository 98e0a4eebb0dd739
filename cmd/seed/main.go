// cmd/seed/main.go
// Loads drivers and a season calendar from a YAML file. Drivers are upserted
// by name; a Grand Prix whose slug already exists is skipped.
//
// Usage:
//
//	go run ./cmd/seed -file season.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/padraicbc/gridpicks/config"
	bundb "github.com/padraicbc/gridpicks/db"
	applog "github.com/padraicbc/gridpicks/logger"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
	"github.com/padraicbc/gridpicks/store"
)

type seedFile struct {
	Drivers   []seedDriver    `yaml:"drivers" validate:"dive"`
	GrandPrix []seedGrandPrix `yaml:"grandPrix" validate:"dive"`
}

type seedDriver struct {
	Name   string `yaml:"name" validate:"required"`
	Team   string `yaml:"team" validate:"required"`
	Number *int   `yaml:"number" validate:"omitempty,gt=0"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

type seedGrandPrix struct {
	Name        string      `yaml:"name" validate:"required"`
	Location    string      `yaml:"location"`
	CountryCode string      `yaml:"countryCode" validate:"omitempty,len=2,alpha"`
	Start       time.Time   `yaml:"start" validate:"required"`
	End         time.Time   `yaml:"end" validate:"required,gtefield=Start"`
	Events      []seedEvent `yaml:"events" validate:"dive"`
}

type seedEvent struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Points      int    `yaml:"points" validate:"required,gt=0"`
}

func parseSeed(r io.Reader) (*seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &f, nil
}

// apply writes the seed through the store and the lifecycle service so Grand
// Prix get the same slugs and checks as the admin API.
func apply(ctx context.Context, st store.Store, lc *scoring.Lifecycle, f *seedFile) (drivers, created, skipped int, err error) {
	now := time.Now().UTC()
	for _, d := range f.Drivers {
		active := d.Active == nil || *d.Active
		row := &models.Driver{
			ID:        uuid.NewString(),
			Name:      d.Name,
			Team:      d.Team,
			Number:    d.Number,
			Active:    active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.UpsertDriver(ctx, row); err != nil {
			return drivers, created, skipped, fmt.Errorf("driver %s: %w", d.Name, err)
		}
		drivers++
	}

	existing, err := st.ListGrandPrix(ctx, "")
	if err != nil {
		return drivers, created, skipped, err
	}
	slugs := make(map[string]bool, len(existing))
	for _, gp := range existing {
		slugs[gp.Slug] = true
	}

	who := scoring.Admin("seed")
	for _, g := range f.GrandPrix {
		if slugs[slug.Make(g.Name)] {
			skipped++
			continue
		}
		gp, err := lc.CreateGrandPrix(ctx, who, scoring.GrandPrixInput{
			Name:        g.Name,
			StartDate:   g.Start,
			EndDate:     g.End,
			Location:    g.Location,
			CountryCode: g.CountryCode,
		})
		if err != nil {
			return drivers, created, skipped, fmt.Errorf("grand prix %s: %w", g.Name, err)
		}
		for _, e := range g.Events {
			_, err := lc.AddEvent(ctx, who, gp.ID, scoring.EventInput{Name: e.Name, Description: e.Description, Points: e.Points})
			if err != nil {
				return drivers, created, skipped, fmt.Errorf("grand prix %s event %s: %w", g.Name, e.Name, err)
			}
		}
		slugs[gp.Slug] = true
		created++
	}
	return drivers, created, skipped, nil
}

func main() {
	file := flag.String("file", "season.yaml", "seed file")
	flag.Parse()

	fh, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open seed: %v", err)
	}
	seed, err := parseSeed(fh)
	_ = fh.Close()
	if err != nil {
		log.Fatal(err)
	}

	cfg := config.LoadDB()
	logger, err := applog.New(cfg.Debug, "gridpicks-seed")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	db := bundb.Setup(cfg)
	defer db.Close()

	ctx := context.Background()
	if err := bundb.CreateTables(ctx, db); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	st := store.NewBun(db)
	svc := scoring.New(st, scoring.Options{Logger: logger, StoreTimeout: cfg.StoreTimeout})
	drivers, created, skipped, err := apply(ctx, st, svc.Lifecycle, seed)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("drivers upserted: %d, grand prix created: %d, skipped: %d\n", drivers, created, skipped)
}
