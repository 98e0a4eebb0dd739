package scoring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/scoring"
)

// Writes that read results or scores of a Grand Prix must hold its row lock,
// otherwise concurrent writers on Postgres each miss the other's rows.
func TestWritesLockGrandPrix(t *testing.T) {
	errLock := apperr.Store("LockGrandPrix", errors.New("lock timeout"))

	// each setup builds its rows and returns the write under test
	tests := []struct {
		name   string
		faults int
		setup  func(f *fixture) func() error
	}{
		{"RecordResult", 1, func(f *fixture) func() error {
			_, ev := f.activeGrandPrix("Spa", 1)
			return func() error {
				_, err := f.svc.Engine.RecordResult(f.ctx, admin, ev[0].ID, "Max Verstappen")
				return err
			}
		}},
		{"SubmitPrediction", 1, func(f *fixture) func() error {
			_, ev := f.activeGrandPrix("Spa", 1)
			alice := f.user("alice")
			return func() error {
				_, err := f.svc.Engine.SubmitPrediction(f.ctx, scoring.Player(alice), ev[0].ID, "Max Verstappen")
				return err
			}
		}},
		{"SubmitPredictions", 1, func(f *fixture) func() error {
			gp, ev := f.activeGrandPrix("Spa", 1)
			alice := f.user("alice")
			return func() error {
				_, err := f.svc.Engine.SubmitPredictions(f.ctx, scoring.Player(alice), gp.ID, map[string]string{ev[0].ID: "Max Verstappen"})
				return err
			}
		}},
		{"RecomputeGrandPrixScore", 1, func(f *fixture) func() error {
			gp, _ := f.activeGrandPrix("Spa", 1)
			alice := f.user("alice")
			return func() error {
				_, err := f.svc.Leaderboard.RecomputeGrandPrixScore(f.ctx, gp.ID, alice)
				return err
			}
		}},
		{"RecomputeGrandPrix", 1, func(f *fixture) func() error {
			gp, _ := f.activeGrandPrix("Spa", 1)
			return func() error {
				_, err := f.svc.Leaderboard.RecomputeGrandPrix(f.ctx, admin, gp.ID)
				return err
			}
		}},
		{"AddEvent", 1, func(f *fixture) func() error {
			gp, _ := f.activeGrandPrix("Spa", 1)
			return func() error {
				_, err := f.svc.Lifecycle.AddEvent(f.ctx, admin, gp.ID, scoring.EventInput{Name: "Late", Points: 1})
				return err
			}
		}},
		{"DeleteEvent", 1, func(f *fixture) func() error {
			_, ev := f.activeGrandPrix("Spa", 1, 2)
			return func() error { return f.svc.Lifecycle.DeleteEvent(f.ctx, admin, ev[0].ID) }
		}},
		{"DeleteGrandPrix", 1, func(f *fixture) func() error {
			gp, _ := f.grandPrix("Spa", f.now.Add(24*time.Hour), 1)
			return func() error { return f.svc.Lifecycle.DeleteGrandPrix(f.ctx, admin, gp.ID) }
		}},
		// Activate retries store errors, so every attempt must fail
		{"Activate", 4, func(f *fixture) func() error {
			gp, _ := f.grandPrix("Spa", f.now, 1)
			return func() error {
				_, err := f.svc.Lifecycle.Activate(f.ctx, admin, gp.ID)
				return err
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			write := tt.setup(f)
			for range tt.faults {
				f.st.FailNext("LockGrandPrix", errLock)
			}
			if err := write(); !errors.Is(err, errLock) {
				t.Fatalf("err: want=%v got=%v", errLock, err)
			}
		})
	}
}

func TestRecomputeLocksProfile(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Spa", 2)
	alice := f.user("alice")
	f.predict(alice, ev[0].ID, "Max Verstappen")

	errLock := apperr.Store("LockProfile", errors.New("lock timeout"))
	f.st.FailNext("LockProfile", errLock)
	if _, err := f.svc.Engine.RecordResult(f.ctx, admin, ev[0].ID, "Max Verstappen"); !errors.Is(err, errLock) {
		t.Fatalf("err: want=%v got=%v", errLock, err)
	}
	if got := f.score(gp.ID, alice); got != -1 {
		t.Fatalf("leaderboard row after failed write: got=%d", got)
	}
}
