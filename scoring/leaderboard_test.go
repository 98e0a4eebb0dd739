package scoring_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
	"github.com/padraicbc/gridpicks/store/memstore"
)

func TestGrandPrixLeaderboardRanks(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Hungaroring", 3, 1)
	alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")
	f.predict(alice, ev[0].ID, "Lando Norris")
	f.predict(bob, ev[0].ID, "Lando Norris")
	f.predict(carol, ev[0].ID, "Max Verstappen")
	f.predict(carol, ev[1].ID, "Max Verstappen")
	f.result(ev[0].ID, "Lando Norris")
	f.result(ev[1].ID, "Max Verstappen")

	rows, err := f.svc.Leaderboard.GrandPrixLeaderboard(f.ctx, gp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: want=3 got=%d", len(rows))
	}
	if rows[0].Score != 3 || rows[1].Score != 3 || rows[2].Score != 1 {
		t.Fatalf("scores: %+v", rows)
	}
	if rows[0].Rank != 1 || rows[1].Rank != 1 || rows[2].Rank != 3 {
		t.Fatalf("ranks: %+v", rows)
	}
	if rows[0].UserID > rows[1].UserID {
		t.Fatalf("ties not ordered by user id: %s > %s", rows[0].UserID, rows[1].UserID)
	}
	if rows[2].Nickname != "carol" {
		t.Fatalf("nickname: want=carol got=%q", rows[2].Nickname)
	}

	if _, err := f.svc.Leaderboard.GrandPrixLeaderboard(f.ctx, "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing: want=not_found got=%v", err)
	}
}

func TestGlobalLeaderboardAndStanding(t *testing.T) {
	f := newFixture(t)
	_, ev := f.activeGrandPrix("Zandvoort", 5, 2)
	alice, bob := f.user("alice"), f.user("bob")
	f.user("carol")
	f.predict(alice, ev[0].ID, "Max Verstappen")
	f.predict(bob, ev[1].ID, "Lando Norris")
	f.result(ev[0].ID, "Max Verstappen")
	f.result(ev[1].ID, "Lando Norris")

	all, err := f.svc.Leaderboard.GlobalLeaderboard(f.ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].UserID != alice || all[1].UserID != bob {
		t.Fatalf("global: %+v", all)
	}
	top, err := f.svc.Leaderboard.GlobalLeaderboard(f.ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Score != 5 {
		t.Fatalf("limit 1: %+v", top)
	}

	st, err := f.svc.Leaderboard.Standing(f.ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if st.Rank != 2 || st.TotalScore != 2 || st.Players != 3 {
		t.Fatalf("standing: %+v", st)
	}
}

func TestRecomputeGrandPrixRepairs(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Monza", 4)
	alice := f.user("alice")
	f.predict(alice, ev[0].ID, "Charles Leclerc")
	f.result(ev[0].ID, "Charles Leclerc")

	// corrupt the derived rows behind the service's back
	if err := f.st.UpdateTotalScore(f.ctx, alice, 99); err != nil {
		t.Fatal(err)
	}
	n, err := f.svc.Leaderboard.RecomputeGrandPrix(f.ctx, admin, gp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rescored: want=1 got=%d", n)
	}
	if got := f.total(alice); got != 4 {
		t.Fatalf("total: want=4 got=%d", got)
	}
	if _, err := f.svc.Leaderboard.RecomputeGrandPrix(f.ctx, scoring.Player(alice), gp.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("standard user: want=forbidden got=%v", err)
	}
}

func TestConcurrentRecomputeConverges(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Baku", 2, 3)
	users := []string{f.user("alice"), f.user("bob"), f.user("carol"), f.user("dave")}
	for _, u := range users {
		f.predict(u, ev[0].ID, "Max Verstappen")
		f.predict(u, ev[1].ID, "Lando Norris")
	}
	f.result(ev[0].ID, "Max Verstappen")

	var wg sync.WaitGroup
	for range 4 {
		for _, u := range users {
			wg.Go(func() {
				if _, err := f.svc.Leaderboard.RecomputeGrandPrixScore(context.Background(), gp.ID, u); err != nil {
					t.Errorf("recompute: %v", err)
				}
			})
		}
	}
	wg.Go(func() {
		if _, err := f.svc.Engine.RecordResult(context.Background(), admin, ev[0].ID, "Max Verstappen"); err != nil {
			t.Errorf("record: %v", err)
		}
	})
	wg.Wait()

	for _, u := range users {
		if got := f.score(gp.ID, u); got != 2 {
			t.Fatalf("score for %s: want=2 got=%d", u, got)
		}
	}
	f.checkTotals(gp.ID)
}

// countingCache keeps snapshots in memory and honours generations the way
// the Redis cache does.
type countingCache struct {
	mu          sync.Mutex
	gen         int64
	rows        map[int][]scoring.Standing
	invalidated int
}

func newCountingCache() *countingCache {
	return &countingCache{rows: map[int][]scoring.Standing{}}
}

func (c *countingCache) GlobalLeaderboard(_ context.Context, limit int) ([]scoring.Standing, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.rows[limit]
	return rows, c.gen, ok
}

func (c *countingCache) StoreGlobalLeaderboard(_ context.Context, limit int, gen int64, rows []scoring.Standing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.rows[limit] = rows
}

func (c *countingCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.rows = map[int][]scoring.Standing{}
	c.invalidated++
}

func TestGlobalLeaderboardCacheInvalidated(t *testing.T) {
	cache := newCountingCache()
	f := newFixtureWith(t, scoring.Options{Cache: cache})
	svc := f.svc
	alice := f.user("alice")

	if _, err := svc.Leaderboard.GlobalLeaderboard(f.ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := cache.GlobalLeaderboard(f.ctx, 10); !ok {
		t.Fatal("snapshot not stored")
	}

	gp, ev := f.activeGrandPrix("Austin", 1)
	f.predict(alice, ev[0].ID, "Max Verstappen")
	f.result(ev[0].ID, "Max Verstappen")
	if cache.invalidated == 0 {
		t.Fatal("cache not invalidated after result")
	}
	rows, err := svc.Leaderboard.GlobalLeaderboard(f.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Score != 1 {
		t.Fatalf("rows after %s scored: %+v", gp.Name, rows)
	}
}

// slowReadStore runs afterRead once, after the profiles query returned and
// before the caller sees the rows.
type slowReadStore struct {
	*memstore.Store
	afterRead func()
}

func (s *slowReadStore) ProfilesByTotalScore(ctx context.Context, limit int) ([]models.Profile, error) {
	rows, err := s.Store.ProfilesByTotalScore(ctx, limit)
	if fn := s.afterRead; fn != nil {
		s.afterRead = nil
		fn()
	}
	return rows, err
}

func TestGlobalLeaderboardSnapshotNotStoredAfterInvalidate(t *testing.T) {
	cache := newCountingCache()
	f := newFixtureWith(t, scoring.Options{Cache: cache})
	alice := f.user("alice")
	_, ev := f.activeGrandPrix("Suzuka", 3)
	f.predict(alice, ev[0].ID, "Max Verstappen")

	slow := &slowReadStore{Store: f.st}
	reader := scoring.New(slow, scoring.Options{Cache: cache})
	slow.afterRead = func() { f.result(ev[0].ID, "Max Verstappen") }

	// the read overlapping the write may return the old rows
	if _, err := reader.Leaderboard.GlobalLeaderboard(f.ctx, 10); err != nil {
		t.Fatal(err)
	}
	if got := f.total(alice); got != 3 {
		t.Fatalf("total: want=3 got=%d", got)
	}
	rows, err := f.svc.Leaderboard.GlobalLeaderboard(f.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Score != 3 {
		t.Fatalf("stale snapshot served after invalidation: want=3 got=%+v", rows)
	}
}

func TestLeaderboardsDeterministic(t *testing.T) {
	f := newFixture(t)
	gp, ev := f.activeGrandPrix("Silverstone", 2, 2)
	users := []string{f.user("alice"), f.user("bob"), f.user("carol"), f.user("dave")}
	for i, u := range users {
		// everyone ends on 2 points so every row ties
		f.predict(u, ev[i%2].ID, "Lewis Hamilton")
	}
	f.result(ev[0].ID, "Lewis Hamilton")
	f.result(ev[1].ID, "Lewis Hamilton")

	first, err := f.svc.Leaderboard.GrandPrixLeaderboard(f.ctx, gp.ID)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := f.svc.Leaderboard.GrandPrixLeaderboard(f.ctx, gp.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(first, again) {
			t.Fatalf("grand prix leaderboard changed between calls: %+v vs %+v", first, again)
		}
	}
	if !slices.IsSortedFunc(first, func(a, b scoring.Standing) int { return strings.Compare(a.UserID, b.UserID) }) {
		t.Fatalf("tied rows not ordered by user id: %+v", first)
	}

	global, err := f.svc.Leaderboard.GlobalLeaderboard(f.ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := f.svc.Leaderboard.GlobalLeaderboard(f.ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(global, again) {
			t.Fatalf("global leaderboard changed between calls: %+v vs %+v", global, again)
		}
	}
	for _, r := range global {
		if r.Rank != 1 {
			t.Fatalf("tied rank: want=1 got=%+v", r)
		}
	}
}
