package scoring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
)

func TestCompletionOrderIndependent(t *testing.T) {
	for _, order := range [][]int{{0, 1}, {1, 0}} {
		f := newFixture(t)
		gp, ev := f.activeGrandPrix("Barcelona", 1, 3)

		out := f.result(ev[order[0]].ID, "Max Verstappen")
		if out.Completed {
			t.Fatalf("order %v: completed after first result", order)
		}
		if got := f.status(gp.ID); got != models.StatusActive {
			t.Fatalf("order %v: want=active got=%s", order, got)
		}
		out = f.result(ev[order[1]].ID, "Lando Norris")
		if !out.Completed {
			t.Fatalf("order %v: not completed after last result", order)
		}
		if got := f.status(gp.ID); got != models.StatusCompleted {
			t.Fatalf("order %v: want=completed got=%s", order, got)
		}
	}
}

func TestActivateKeepsOneActive(t *testing.T) {
	f := newFixture(t)
	gp1, _ := f.activeGrandPrix("Bahrain", 1)
	gp2, _ := f.grandPrix("Jeddah", f.now.Add(24*time.Hour), 1)
	gp3, _ := f.grandPrix("Melbourne", f.now.Add(48*time.Hour), 1)

	got, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("returned status: want=active got=%s", got.Status)
	}
	want := map[string]models.GrandPrixStatus{
		gp1.ID: models.StatusUpcoming,
		gp2.ID: models.StatusActive,
		gp3.ID: models.StatusUpcoming,
	}
	for id, w := range want {
		if s := f.status(id); s != w {
			t.Fatalf("%s: want=%s got=%s", id, w, s)
		}
	}

	// already active is a no-op
	if _, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp2.ID); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if s := f.status(gp2.ID); s != models.StatusActive {
		t.Fatalf("re-activate: want=active got=%s", s)
	}
}

func TestActivateRejectsCompleted(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Las Vegas", 1)
	f.result(ev[0].ID, "Max Verstappen")

	_, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp.ID)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("completed: want=validation got=%v", err)
	}
	_, err = f.svc.Lifecycle.Activate(f.ctx, admin, "missing")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing: want=not_found got=%v", err)
	}
	_, err = f.svc.Lifecycle.Activate(f.ctx, scoring.Player("bob"), gp.ID)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("standard user: want=forbidden got=%v", err)
	}
}

func TestActivateAtomicAndRetried(t *testing.T) {
	f := newFixture(t)
	gp1, _ := f.activeGrandPrix("Bahrain", 1)
	gp2, _ := f.grandPrix("Jeddah", f.now.Add(24*time.Hour), 1)

	// The promotion fails after the demotion ran. Nothing may be committed,
	// and the retry must land both writes.
	f.st.FailNext("UpdateGrandPrixStatus", apperr.Store("UpdateGrandPrixStatus", errors.New("connection reset")))
	if _, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp2.ID); err != nil {
		t.Fatalf("activate with one transient failure: %v", err)
	}
	if s := f.status(gp1.ID); s != models.StatusUpcoming {
		t.Fatalf("gp1: want=upcoming got=%s", s)
	}
	if s := f.status(gp2.ID); s != models.StatusActive {
		t.Fatalf("gp2: want=active got=%s", s)
	}
}

func TestActivateGivesUp(t *testing.T) {
	f := newFixture(t)
	gp1, _ := f.activeGrandPrix("Bahrain", 1)
	gp2, _ := f.grandPrix("Jeddah", f.now.Add(24*time.Hour), 1)

	for range 4 {
		f.st.FailNext("Commit", apperr.Store("Commit", errors.New("connection reset")))
	}
	_, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp2.ID)
	if apperr.KindOf(err) != apperr.KindStore {
		t.Fatalf("activate: want=store got=%v", err)
	}
	if s := f.status(gp1.ID); s != models.StatusActive {
		t.Fatalf("gp1 after failed activation: want=active got=%s", s)
	}
	if s := f.status(gp2.ID); s != models.StatusUpcoming {
		t.Fatalf("gp2 after failed activation: want=upcoming got=%s", s)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	later, _ := f.grandPrix("Later", f.now.Add(-time.Hour), 1)
	earlier, _ := f.grandPrix("Earlier", f.now.Add(-2*time.Hour), 1)
	future, _ := f.grandPrix("Future", f.now.Add(time.Hour), 1)

	got, err := f.svc.Lifecycle.Sweep(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != earlier.ID {
		t.Fatalf("promoted: want=%s got=%+v", earlier.ID, got)
	}

	// one active already: due rows stay upcoming
	got, err = f.svc.Lifecycle.Sweep(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("second sweep promoted %s", got.ID)
	}
	if s := f.status(later.ID); s != models.StatusUpcoming {
		t.Fatalf("later: want=upcoming got=%s", s)
	}
	if s := f.status(future.ID); s != models.StatusUpcoming {
		t.Fatalf("future: want=upcoming got=%s", s)
	}
}

func TestSweepLostRace(t *testing.T) {
	f := newFixture(t)
	f.grandPrix("Due", f.now.Add(-time.Hour), 1)

	f.st.FailNext("UpdateGrandPrixStatus", apperr.Conflict("UpdateGrandPrixStatus", nil))
	got, err := f.svc.Lifecycle.Sweep(f.ctx)
	if err != nil || got != nil {
		t.Fatalf("sweep after conflict: want=nil,nil got=%v,%v", got, err)
	}
}

func TestListGrandPrixSweepsFirst(t *testing.T) {
	f := newFixture(t)
	due, _ := f.grandPrix("Due", f.now.Add(-time.Hour), 1)
	f.grandPrix("Future", f.now.Add(time.Hour), 1)

	active, err := f.svc.Lifecycle.ListGrandPrix(f.ctx, models.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != due.ID {
		t.Fatalf("active: want=[%s] got=%+v", due.ID, active)
	}

	all, err := f.svc.Lifecycle.ListGrandPrix(f.ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Future" {
		t.Fatalf("all: want Future first of 2, got %+v", all)
	}

	if _, err := f.svc.Lifecycle.ListGrandPrix(f.ctx, "paused"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad status: want=validation got=%v", err)
	}
}

func TestListGrandPrixSurvivesSweepFailure(t *testing.T) {
	f := newFixture(t)
	f.grandPrix("Due", f.now.Add(-time.Hour), 1)

	f.st.FailNext("DueGrandPrix", apperr.Store("DueGrandPrix", errors.New("timeout")))
	all, err := f.svc.Lifecycle.ListGrandPrix(f.ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != models.StatusUpcoming {
		t.Fatalf("listing: %+v", all)
	}
}

func TestDeleteGrandPrixGuard(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Singapore", 2)
	alice := f.user("alice")
	f.predict(alice, ev[0].ID, "Lando Norris")
	f.result(ev[0].ID, "Lando Norris")
	if got := f.status(gp.ID); got != models.StatusCompleted {
		t.Fatalf("status: want=completed got=%s", got)
	}

	err := f.svc.Lifecycle.DeleteGrandPrix(f.ctx, admin, gp.ID)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("delete completed: want=validation got=%v", err)
	}
	if _, err := f.st.GrandPrixByID(f.ctx, gp.ID); err != nil {
		t.Fatalf("grand prix gone after rejected delete: %v", err)
	}
	if got := f.score(gp.ID, alice); got != 2 {
		t.Fatalf("leaderboard row after rejected delete: want=2 got=%d", got)
	}

	active, _ := f.activeGrandPrix("Qatar", 1)
	if err := f.svc.Lifecycle.DeleteGrandPrix(f.ctx, admin, active.ID); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("delete active: want=validation got=%v", err)
	}
}

func TestDeleteUpcomingCascades(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Abu Dhabi", 5, 1)
	alice := f.user("alice")
	f.predict(alice, ev[0].ID, "Max Verstappen")
	f.result(ev[0].ID, "Max Verstappen")
	if got := f.total(alice); got != 5 {
		t.Fatalf("total: want=5 got=%d", got)
	}

	// demote by activating another Grand Prix, then delete
	other, _ := f.grandPrix("Next", f.now, 1)
	if _, err := f.svc.Lifecycle.Activate(f.ctx, admin, other.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Lifecycle.DeleteGrandPrix(f.ctx, admin, gp.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.st.GrandPrixByID(f.ctx, gp.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("grand prix: want=not_found got=%v", err)
	}
	for _, e := range ev {
		if _, err := f.st.EventByID(f.ctx, e.ID); apperr.KindOf(err) != apperr.KindNotFound {
			t.Fatalf("event %s: want=not_found got=%v", e.Name, err)
		}
		if preds, _ := f.st.PredictionsByEvent(f.ctx, e.ID); len(preds) != 0 {
			t.Fatalf("predictions left for %s: %d", e.Name, len(preds))
		}
		if _, err := f.st.ResultByEvent(f.ctx, e.ID); apperr.KindOf(err) != apperr.KindNotFound {
			t.Fatalf("result for %s: want=not_found got=%v", e.Name, err)
		}
	}
	if got := f.score(gp.ID, alice); got != -1 {
		t.Fatalf("leaderboard row left: %d", got)
	}
	if got := f.total(alice); got != 0 {
		t.Fatalf("total after delete: want=0 got=%d", got)
	}
}

func TestDeleteEventRescoresAndCompletes(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Interlagos", 2, 3)
	alice := f.user("alice")
	f.predict(alice, ev[0].ID, "Max Verstappen")
	f.predict(alice, ev[1].ID, "Lando Norris")
	f.result(ev[1].ID, "Lando Norris")
	if got := f.score(gp.ID, alice); got != 3 {
		t.Fatalf("score: want=3 got=%d", got)
	}

	// deleting the scored event drops its points
	if err := f.svc.Lifecycle.DeleteEvent(f.ctx, admin, ev[1].ID); err != nil {
		t.Fatal(err)
	}
	if got := f.score(gp.ID, alice); got != 0 {
		t.Fatalf("score after delete: want=0 got=%d", got)
	}
	if got := f.total(alice); got != 0 {
		t.Fatalf("total after delete: want=0 got=%d", got)
	}

	// scoring the remaining event completes the Grand Prix and freezes its events
	f.result(ev[0].ID, "Max Verstappen")
	if got := f.status(gp.ID); got != models.StatusCompleted {
		t.Fatalf("status: want=completed got=%s", got)
	}
	if err := f.svc.Lifecycle.DeleteEvent(f.ctx, admin, ev[0].ID); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("delete from completed: want=validation got=%v", err)
	}
}

func TestDeleteLastUnscoredEventCompletes(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Mexico City", 1, 1)
	f.result(ev[0].ID, "Max Verstappen")

	if err := f.svc.Lifecycle.DeleteEvent(f.ctx, admin, ev[1].ID); err != nil {
		t.Fatal(err)
	}
	if got := f.status(gp.ID); got != models.StatusCompleted {
		t.Fatalf("status: want=completed got=%s", got)
	}
}

func TestCreateGrandPrixValidation(t *testing.T) {
	f := newFixture(t)
	start := f.now
	tests := []struct {
		name string
		in   scoring.GrandPrixInput
	}{
		{"no name", scoring.GrandPrixInput{StartDate: start, EndDate: start}},
		{"no dates", scoring.GrandPrixInput{Name: "Monaco"}},
		{"end before start", scoring.GrandPrixInput{Name: "Monaco", StartDate: start, EndDate: start.Add(-time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Lifecycle.CreateGrandPrix(f.ctx, admin, tt.in); apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("want=validation got=%v", err)
			}
		})
	}

	gp, err := f.svc.Lifecycle.CreateGrandPrix(f.ctx, admin, scoring.GrandPrixInput{
		Name:        "São Paulo Grand Prix",
		StartDate:   start,
		EndDate:     start.Add(48 * time.Hour),
		CountryCode: "br",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gp.Slug != "sao-paulo-grand-prix" {
		t.Fatalf("slug: want=%q got=%q", "sao-paulo-grand-prix", gp.Slug)
	}
	if gp.Status != models.StatusUpcoming {
		t.Fatalf("status: want=upcoming got=%s", gp.Status)
	}
	if gp.CountryCode == nil || *gp.CountryCode != "BR" {
		t.Fatalf("country code: %v", gp.CountryCode)
	}

	if _, err := f.svc.Lifecycle.AddEvent(f.ctx, admin, gp.ID, scoring.EventInput{Name: "Pole", Points: 0}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("zero points: want=validation got=%v", err)
	}
	if _, err := f.svc.Lifecycle.AddEvent(f.ctx, admin, "missing", scoring.EventInput{Name: "Pole", Points: 1}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing grand prix: want=not_found got=%v", err)
	}
}
