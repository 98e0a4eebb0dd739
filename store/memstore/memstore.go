// Package memstore is an in-memory store.Store for tests. Transactions are
// serialised and applied by swapping in a copy of the state on success, so a
// failed callback leaves nothing behind. Foreign keys, cascades and the
// single-active Grand Prix index behave like the PostgreSQL schema.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/store"
)

var _ store.Store = (*Store)(nil)

var errForeignKey = errors.New("foreign key violation")

type state struct {
	grandPrix   map[string]models.GrandPrix
	events      map[string]models.Event
	drivers     map[string]models.Driver              // by name
	predictions map[[2]string]models.Prediction       // user, event
	results     map[string]models.Result              // by event
	leaderboard map[[2]string]models.LeaderboardEntry // grand prix, user
	profiles    map[string]models.Profile
}

func newState() *state {
	return &state{
		grandPrix:   map[string]models.GrandPrix{},
		events:      map[string]models.Event{},
		drivers:     map[string]models.Driver{},
		predictions: map[[2]string]models.Prediction{},
		results:     map[string]models.Result{},
		leaderboard: map[[2]string]models.LeaderboardEntry{},
		profiles:    map[string]models.Profile{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.grandPrix {
		c.grandPrix[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.drivers {
		c.drivers[k] = v
	}
	for k, v := range st.predictions {
		c.predictions[k] = v
	}
	for k, v := range st.results {
		c.results[k] = v
	}
	for k, v := range st.leaderboard {
		c.leaderboard[k] = v
	}
	for k, v := range st.profiles {
		c.profiles[k] = v
	}
	return c
}

type shared struct {
	mu sync.Mutex
	st *state

	faultMu sync.Mutex
	faults  map[string][]error
}

// Store implements store.Store in memory.
type Store struct {
	sh   *shared
	st   *state
	inTx bool
}

// New returns an empty store.
func New() *Store {
	return &Store{sh: &shared{st: newState(), faults: map[string][]error{}}}
}

// FailNext makes the next call to the named method return err. Calls queue up.
func (s *Store) FailNext(method string, err error) {
	s.sh.faultMu.Lock()
	defer s.sh.faultMu.Unlock()
	s.sh.faults[method] = append(s.sh.faults[method], err)
}

func (s *Store) fault(method string) error {
	s.sh.faultMu.Lock()
	defer s.sh.faultMu.Unlock()
	q := s.sh.faults[method]
	if len(q) == 0 {
		return nil
	}
	s.sh.faults[method] = q[1:]
	return q[0]
}

// acquire returns the state to operate on. Outside a transaction it holds the
// store lock until release is called.
func (s *Store) acquire() (*state, func()) {
	if s.inTx {
		return s.st, func() {}
	}
	s.sh.mu.Lock()
	return s.sh.st, s.sh.mu.Unlock
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return apperr.Store("RunInTx", err)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	tx := &Store{sh: s.sh, st: s.sh.st.clone(), inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.fault("Commit"); err != nil {
		return err
	}
	s.sh.st = tx.st
	return nil
}

func (s *Store) GrandPrixByID(_ context.Context, id string) (*models.GrandPrix, error) {
	if err := s.fault("GrandPrixByID"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	gp, ok := st.grandPrix[id]
	if !ok {
		return nil, apperr.NotFound("GrandPrixByID", "grand prix %s not found", id)
	}
	return &gp, nil
}

// LockGrandPrix is GrandPrixByID; transactions here are already serialised.
func (s *Store) LockGrandPrix(ctx context.Context, id string) (*models.GrandPrix, error) {
	if err := s.fault("LockGrandPrix"); err != nil {
		return nil, err
	}
	return s.GrandPrixByID(ctx, id)
}

func (s *Store) ListGrandPrix(_ context.Context, status models.GrandPrixStatus) ([]models.GrandPrix, error) {
	if err := s.fault("ListGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.GrandPrix
	for _, gp := range st.grandPrix {
		if status == "" || gp.Status == status {
			out = append(out, gp)
		}
	}
	slices.SortFunc(out, func(a, b models.GrandPrix) int {
		if c := b.StartDate.Compare(a.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) DueGrandPrix(_ context.Context, now time.Time) ([]models.GrandPrix, error) {
	if err := s.fault("DueGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.GrandPrix
	for _, gp := range st.grandPrix {
		if gp.Status == models.StatusUpcoming && !gp.StartDate.After(now) {
			out = append(out, gp)
		}
	}
	slices.SortFunc(out, func(a, b models.GrandPrix) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (st *state) otherActive(id string) bool {
	for _, gp := range st.grandPrix {
		if gp.Status == models.StatusActive && gp.ID != id {
			return true
		}
	}
	return false
}

func (s *Store) InsertGrandPrix(_ context.Context, gp *models.GrandPrix) error {
	if err := s.fault("InsertGrandPrix"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.grandPrix[gp.ID]; ok {
		return apperr.Conflict("InsertGrandPrix", nil)
	}
	if gp.Status == models.StatusActive && st.otherActive(gp.ID) {
		return apperr.Conflict("InsertGrandPrix", nil)
	}
	st.grandPrix[gp.ID] = *gp
	return nil
}

func (s *Store) UpdateGrandPrixStatus(_ context.Context, id string, status models.GrandPrixStatus) error {
	if err := s.fault("UpdateGrandPrixStatus"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	gp, ok := st.grandPrix[id]
	if !ok {
		return apperr.NotFound("UpdateGrandPrixStatus", "grand prix %s not found", id)
	}
	if status == models.StatusActive && st.otherActive(id) {
		return apperr.Conflict("UpdateGrandPrixStatus", nil)
	}
	gp.Status = status
	gp.UpdatedAt = time.Now().UTC()
	st.grandPrix[id] = gp
	return nil
}

func (s *Store) DemoteActive(_ context.Context, exceptID string) (int, error) {
	if err := s.fault("DemoteActive"); err != nil {
		return 0, err
	}
	st, release := s.acquire()
	defer release()
	n := 0
	for id, gp := range st.grandPrix {
		if gp.Status == models.StatusActive && id != exceptID {
			gp.Status = models.StatusUpcoming
			gp.UpdatedAt = time.Now().UTC()
			st.grandPrix[id] = gp
			n++
		}
	}
	return n, nil
}

func (st *state) deleteEvent(id string) {
	delete(st.events, id)
	delete(st.results, id)
	for k := range st.predictions {
		if k[1] == id {
			delete(st.predictions, k)
		}
	}
}

func (s *Store) DeleteGrandPrix(_ context.Context, id string) error {
	if err := s.fault("DeleteGrandPrix"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.grandPrix[id]; !ok {
		return apperr.NotFound("DeleteGrandPrix", "grand prix %s not found", id)
	}
	for eid, e := range st.events {
		if e.GrandPrixID == id {
			st.deleteEvent(eid)
		}
	}
	for k := range st.leaderboard {
		if k[0] == id {
			delete(st.leaderboard, k)
		}
	}
	delete(st.grandPrix, id)
	return nil
}

func (s *Store) EventByID(_ context.Context, id string) (*models.Event, error) {
	if err := s.fault("EventByID"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	e, ok := st.events[id]
	if !ok {
		return nil, apperr.NotFound("EventByID", "event %s not found", id)
	}
	return &e, nil
}

func (s *Store) EventsByGrandPrix(_ context.Context, grandPrixID string) ([]models.Event, error) {
	if err := s.fault("EventsByGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Event
	for _, e := range st.events {
		if e.GrandPrixID == grandPrixID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.Event) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) InsertEvent(_ context.Context, e *models.Event) error {
	if err := s.fault("InsertEvent"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.grandPrix[e.GrandPrixID]; !ok {
		return apperr.Store("InsertEvent", errForeignKey)
	}
	if _, ok := st.events[e.ID]; ok {
		return apperr.Conflict("InsertEvent", nil)
	}
	st.events[e.ID] = *e
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	if err := s.fault("DeleteEvent"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.events[id]; !ok {
		return apperr.NotFound("DeleteEvent", "event %s not found", id)
	}
	st.deleteEvent(id)
	return nil
}

func (s *Store) ActiveDrivers(_ context.Context) ([]models.Driver, error) {
	if err := s.fault("ActiveDrivers"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Driver
	for _, d := range st.drivers {
		if d.Active {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.Driver) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) UpsertDriver(_ context.Context, d *models.Driver) error {
	if err := s.fault("UpsertDriver"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if cur, ok := st.drivers[d.Name]; ok {
		d.ID = cur.ID
		d.CreatedAt = cur.CreatedAt
	}
	st.drivers[d.Name] = *d
	return nil
}

func (s *Store) PredictionsByEvent(_ context.Context, eventID string) ([]models.Prediction, error) {
	if err := s.fault("PredictionsByEvent"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Prediction
	for k, p := range st.predictions {
		if k[1] == eventID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Prediction) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (s *Store) PredictionsByUserAndGrandPrix(_ context.Context, userID, grandPrixID string) ([]models.Prediction, error) {
	if err := s.fault("PredictionsByUserAndGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Prediction
	for k, p := range st.predictions {
		if k[0] != userID {
			continue
		}
		if e, ok := st.events[k[1]]; ok && e.GrandPrixID == grandPrixID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Prediction) int { return cmp.Compare(a.EventID, b.EventID) })
	return out, nil
}

func (s *Store) PredictionByUserAndEvent(_ context.Context, userID, eventID string) (*models.Prediction, error) {
	if err := s.fault("PredictionByUserAndEvent"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	p, ok := st.predictions[[2]string{userID, eventID}]
	if !ok {
		return nil, apperr.NotFound("PredictionByUserAndEvent", "prediction for event %s not found", eventID)
	}
	return &p, nil
}

func (s *Store) UpsertPrediction(_ context.Context, p *models.Prediction) error {
	if err := s.fault("UpsertPrediction"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.events[p.EventID]; !ok {
		return apperr.Store("UpsertPrediction", errForeignKey)
	}
	if _, ok := st.profiles[p.UserID]; !ok {
		return apperr.Store("UpsertPrediction", errForeignKey)
	}
	key := [2]string{p.UserID, p.EventID}
	if cur, ok := st.predictions[key]; ok {
		p.ID = cur.ID
		p.CreatedAt = cur.CreatedAt
	}
	st.predictions[key] = *p
	return nil
}

func (s *Store) PredictingUsers(_ context.Context, grandPrixID string) ([]string, error) {
	if err := s.fault("PredictingUsers"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	seen := map[string]bool{}
	var out []string
	for k := range st.predictions {
		if e, ok := st.events[k[1]]; ok && e.GrandPrixID == grandPrixID && !seen[k[0]] {
			seen[k[0]] = true
			out = append(out, k[0])
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) ResultByEvent(_ context.Context, eventID string) (*models.Result, error) {
	if err := s.fault("ResultByEvent"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	r, ok := st.results[eventID]
	if !ok {
		return nil, apperr.NotFound("ResultByEvent", "result for event %s not found", eventID)
	}
	return &r, nil
}

func (s *Store) ResultsByGrandPrix(_ context.Context, grandPrixID string) ([]models.Result, error) {
	if err := s.fault("ResultsByGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Result
	for eid, r := range st.results {
		if e, ok := st.events[eid]; ok && e.GrandPrixID == grandPrixID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Result) int { return cmp.Compare(a.EventID, b.EventID) })
	return out, nil
}

func (s *Store) UpsertResult(_ context.Context, r *models.Result) error {
	if err := s.fault("UpsertResult"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.events[r.EventID]; !ok {
		return apperr.Store("UpsertResult", errForeignKey)
	}
	if cur, ok := st.results[r.EventID]; ok {
		r.ID = cur.ID
		r.CreatedAt = cur.CreatedAt
	}
	st.results[r.EventID] = *r
	return nil
}

func (s *Store) LeaderboardByGrandPrix(_ context.Context, grandPrixID string) ([]models.LeaderboardEntry, error) {
	if err := s.fault("LeaderboardByGrandPrix"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.LeaderboardEntry
	for k, e := range st.leaderboard {
		if k[0] == grandPrixID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (s *Store) UpsertLeaderboardEntry(_ context.Context, e *models.LeaderboardEntry) error {
	if err := s.fault("UpsertLeaderboardEntry"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.grandPrix[e.GrandPrixID]; !ok {
		return apperr.Store("UpsertLeaderboardEntry", errForeignKey)
	}
	if _, ok := st.profiles[e.UserID]; !ok {
		return apperr.Store("UpsertLeaderboardEntry", errForeignKey)
	}
	key := [2]string{e.GrandPrixID, e.UserID}
	if cur, ok := st.leaderboard[key]; ok {
		e.ID = cur.ID
		e.CreatedAt = cur.CreatedAt
	}
	st.leaderboard[key] = *e
	return nil
}

func (s *Store) SumLeaderboardScores(_ context.Context, userID string) (int, error) {
	if err := s.fault("SumLeaderboardScores"); err != nil {
		return 0, err
	}
	st, release := s.acquire()
	defer release()
	total := 0
	for k, e := range st.leaderboard {
		if k[1] == userID {
			total += e.Score
		}
	}
	return total, nil
}

func (s *Store) ProfileByID(_ context.Context, id string) (*models.Profile, error) {
	if err := s.fault("ProfileByID"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	p, ok := st.profiles[id]
	if !ok {
		return nil, apperr.NotFound("ProfileByID", "profile %s not found", id)
	}
	return &p, nil
}

// LockProfile is ProfileByID; transactions here are already serialised.
func (s *Store) LockProfile(ctx context.Context, id string) (*models.Profile, error) {
	if err := s.fault("LockProfile"); err != nil {
		return nil, err
	}
	return s.ProfileByID(ctx, id)
}

func (s *Store) ProfileByUsername(_ context.Context, username string) (*models.Profile, error) {
	if err := s.fault("ProfileByUsername"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	for _, p := range st.profiles {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("ProfileByUsername", "profile %s not found", username)
}

func (s *Store) ProfilesByIDs(_ context.Context, ids []string) ([]models.Profile, error) {
	if err := s.fault("ProfilesByIDs"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	var out []models.Profile
	for _, id := range ids {
		if p, ok := st.profiles[id]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Profile) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) InsertProfile(_ context.Context, p *models.Profile) error {
	if err := s.fault("InsertProfile"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	if _, ok := st.profiles[p.ID]; ok {
		return apperr.Conflict("InsertProfile", nil)
	}
	for _, cur := range st.profiles {
		if cur.Username == p.Username {
			return apperr.Conflict("InsertProfile", nil)
		}
	}
	st.profiles[p.ID] = *p
	return nil
}

func (s *Store) UpsertProfile(_ context.Context, p *models.Profile) error {
	if err := s.fault("UpsertProfile"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	for id, cur := range st.profiles {
		if cur.Username != p.Username {
			continue
		}
		cur.Password = p.Password
		cur.Role = p.Role
		if p.Nickname != nil {
			cur.Nickname = p.Nickname
		}
		cur.UpdatedAt = p.UpdatedAt
		st.profiles[id] = cur
		*p = cur
		return nil
	}
	if _, ok := st.profiles[p.ID]; ok {
		return apperr.Conflict("UpsertProfile", nil)
	}
	st.profiles[p.ID] = *p
	return nil
}

func (s *Store) UpdateTotalScore(_ context.Context, userID string, total int) error {
	if err := s.fault("UpdateTotalScore"); err != nil {
		return err
	}
	st, release := s.acquire()
	defer release()
	p, ok := st.profiles[userID]
	if !ok {
		return apperr.NotFound("UpdateTotalScore", "profile %s not found", userID)
	}
	p.TotalScore = total
	p.UpdatedAt = time.Now().UTC()
	st.profiles[userID] = p
	return nil
}

func (s *Store) ProfilesByTotalScore(_ context.Context, limit int) ([]models.Profile, error) {
	if err := s.fault("ProfilesByTotalScore"); err != nil {
		return nil, err
	}
	st, release := s.acquire()
	defer release()
	out := make([]models.Profile, 0, len(st.profiles))
	for _, p := range st.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.Profile) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountProfiles(_ context.Context, score int) (int, int, error) {
	if err := s.fault("CountProfiles"); err != nil {
		return 0, 0, err
	}
	st, release := s.acquire()
	defer release()
	above := 0
	for _, p := range st.profiles {
		if p.TotalScore > score {
			above++
		}
	}
	return above, len(st.profiles), nil
}
