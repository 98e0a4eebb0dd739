package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
	"github.com/padraicbc/gridpicks/store/memstore"
)

var admin = scoring.Admin("admin-1")

type fixture struct {
	t   *testing.T
	ctx context.Context
	st  *memstore.Store
	svc *scoring.Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, scoring.Options{})
}

// newFixtureWith runs on a fixed clock that tests move by assigning f.now.
func newFixtureWith(t *testing.T, opts scoring.Options) *fixture {
	t.Helper()
	f := &fixture{
		t:   t,
		ctx: context.Background(),
		st:  memstore.New(),
		now: time.Date(2025, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	opts.Now = func() time.Time { return f.now }
	opts.RetryInitial = time.Millisecond
	f.svc = scoring.New(f.st, opts)
	for _, name := range []string{"Max Verstappen", "Lewis Hamilton", "Charles Leclerc", "Lando Norris"} {
		f.driver(name, true)
	}
	return f
}

func (f *fixture) driver(name string, active bool) {
	f.t.Helper()
	d := &models.Driver{ID: uuid.NewString(), Name: name, Team: "Team", Active: active}
	if err := f.st.UpsertDriver(f.ctx, d); err != nil {
		f.t.Fatalf("upsert driver %s: %v", name, err)
	}
}

func (f *fixture) user(username string) string {
	f.t.Helper()
	p := &models.Profile{ID: uuid.NewString(), Username: username, Password: "x", Role: models.RoleStandard}
	if err := f.st.UpsertProfile(f.ctx, p); err != nil {
		f.t.Fatalf("upsert profile %s: %v", username, err)
	}
	return p.ID
}

// grandPrix creates an upcoming Grand Prix starting at start and running two days.
func (f *fixture) grandPrix(name string, start time.Time, points ...int) (*models.GrandPrix, []models.Event) {
	f.t.Helper()
	gp, err := f.svc.Lifecycle.CreateGrandPrix(f.ctx, admin, scoring.GrandPrixInput{
		Name:      name,
		StartDate: start,
		EndDate:   start.Add(48 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("create grand prix: %v", err)
	}
	events := make([]models.Event, 0, len(points))
	for i, pts := range points {
		ev, err := f.svc.Lifecycle.AddEvent(f.ctx, admin, gp.ID, scoring.EventInput{
			Name:   string(rune('A'+i)) + " event",
			Points: pts,
		})
		if err != nil {
			f.t.Fatalf("add event: %v", err)
		}
		events = append(events, *ev)
	}
	return gp, events
}

// activeGrandPrix creates a Grand Prix that started an hour ago and activates it.
func (f *fixture) activeGrandPrix(name string, points ...int) (*models.GrandPrix, []models.Event) {
	f.t.Helper()
	gp, events := f.grandPrix(name, f.now.Add(-time.Hour), points...)
	if _, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp.ID); err != nil {
		f.t.Fatalf("activate: %v", err)
	}
	return gp, events
}

func (f *fixture) predict(userID, eventID, value string) {
	f.t.Helper()
	if _, err := f.svc.Engine.SubmitPrediction(f.ctx, scoring.Player(userID), eventID, value); err != nil {
		f.t.Fatalf("predict: %v", err)
	}
}

func (f *fixture) result(eventID, value string) *scoring.RecordOutcome {
	f.t.Helper()
	out, err := f.svc.Engine.RecordResult(f.ctx, admin, eventID, value)
	if err != nil {
		f.t.Fatalf("record result: %v", err)
	}
	return out
}

func (f *fixture) status(id string) models.GrandPrixStatus {
	f.t.Helper()
	gp, err := f.st.GrandPrixByID(f.ctx, id)
	if err != nil {
		f.t.Fatalf("grand prix %s: %v", id, err)
	}
	return gp.Status
}

// score returns the user's leaderboard score for the Grand Prix, or -1 without a row.
func (f *fixture) score(gpID, userID string) int {
	f.t.Helper()
	rows, err := f.st.LeaderboardByGrandPrix(f.ctx, gpID)
	if err != nil {
		f.t.Fatalf("leaderboard: %v", err)
	}
	for _, r := range rows {
		if r.UserID == userID {
			return r.Score
		}
	}
	return -1
}

func (f *fixture) total(userID string) int {
	f.t.Helper()
	p, err := f.st.ProfileByID(f.ctx, userID)
	if err != nil {
		f.t.Fatalf("profile: %v", err)
	}
	return p.TotalScore
}

// checkTotals asserts every profile total equals the sum of its leaderboard rows.
func (f *fixture) checkTotals(gpIDs ...string) {
	f.t.Helper()
	profiles, err := f.st.ProfilesByTotalScore(f.ctx, 0)
	if err != nil {
		f.t.Fatalf("profiles: %v", err)
	}
	sums := map[string]int{}
	for _, id := range gpIDs {
		rows, err := f.st.LeaderboardByGrandPrix(f.ctx, id)
		if err != nil {
			f.t.Fatalf("leaderboard: %v", err)
		}
		for _, r := range rows {
			sums[r.UserID] += r.Score
		}
	}
	for _, p := range profiles {
		if p.TotalScore != sums[p.ID] {
			f.t.Fatalf("total for %s: want=%d got=%d", p.Username, sums[p.ID], p.TotalScore)
		}
	}
}
