package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
)

// SQLSTATE codes mapped to apperr Conflict.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

var _ Store = (*Bun)(nil)

// Bun is the PostgreSQL Store.
type Bun struct {
	db   *bun.DB
	idb  bun.IDB
	inTx bool
}

// NewBun wraps an open bun connection.
func NewBun(db *bun.DB) *Bun {
	return &Bun{db: db, idb: db}
}

func (s *Bun) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Bun{db: s.db, idb: tx, inTx: true})
	})
}

// classify maps driver errors onto the apperr taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return apperr.Conflict(op, err)
		}
	}
	return apperr.Store(op, err)
}

func notFoundOr(op string, err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, "%s %s not found", what, id)
	}
	return classify(op, err)
}

func requireRow(op string, res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, "%s %s not found", what, id)
	}
	return nil
}

func (s *Bun) GrandPrixByID(ctx context.Context, id string) (*models.GrandPrix, error) {
	gp := new(models.GrandPrix)
	if err := s.idb.NewSelect().Model(gp).Where("gp.id = ?", id).Scan(ctx); err != nil {
		return nil, notFoundOr("GrandPrixByID", err, "grand prix", id)
	}
	return gp, nil
}

func (s *Bun) LockGrandPrix(ctx context.Context, id string) (*models.GrandPrix, error) {
	gp := new(models.GrandPrix)
	if err := s.idb.NewSelect().Model(gp).Where("gp.id = ?", id).For("UPDATE").Scan(ctx); err != nil {
		return nil, notFoundOr("LockGrandPrix", err, "grand prix", id)
	}
	return gp, nil
}

func (s *Bun) ListGrandPrix(ctx context.Context, status models.GrandPrixStatus) ([]models.GrandPrix, error) {
	var out []models.GrandPrix
	q := s.idb.NewSelect().Model(&out).OrderExpr("gp.start_date DESC, gp.id ASC")
	if status != "" {
		q = q.Where("gp.status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, classify("ListGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) DueGrandPrix(ctx context.Context, now time.Time) ([]models.GrandPrix, error) {
	var out []models.GrandPrix
	err := s.idb.NewSelect().Model(&out).
		Where("gp.status = ?", models.StatusUpcoming).
		Where("gp.start_date <= ?", now).
		OrderExpr("gp.start_date ASC, gp.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("DueGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) InsertGrandPrix(ctx context.Context, gp *models.GrandPrix) error {
	_, err := s.idb.NewInsert().Model(gp).Exec(ctx)
	return classify("InsertGrandPrix", err)
}

func (s *Bun) UpdateGrandPrixStatus(ctx context.Context, id string, status models.GrandPrixStatus) error {
	res, err := s.idb.NewUpdate().Model((*models.GrandPrix)(nil)).
		Set("status = ?", status).
		Set("updated_at = current_timestamp").
		Where("gp.id = ?", id).
		Exec(ctx)
	if err != nil {
		return classify("UpdateGrandPrixStatus", err)
	}
	return requireRow("UpdateGrandPrixStatus", res, "grand prix", id)
}

func (s *Bun) DemoteActive(ctx context.Context, exceptID string) (int, error) {
	res, err := s.idb.NewUpdate().Model((*models.GrandPrix)(nil)).
		Set("status = ?", models.StatusUpcoming).
		Set("updated_at = current_timestamp").
		Where("gp.status = ?", models.StatusActive).
		Where("gp.id <> ?", exceptID).
		Exec(ctx)
	if err != nil {
		return 0, classify("DemoteActive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("DemoteActive", err)
	}
	return int(n), nil
}

// DeleteGrandPrix relies on ON DELETE CASCADE for the child tables.
func (s *Bun) DeleteGrandPrix(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*models.GrandPrix)(nil)).Where("gp.id = ?", id).Exec(ctx)
	if err != nil {
		return classify("DeleteGrandPrix", err)
	}
	return requireRow("DeleteGrandPrix", res, "grand prix", id)
}

func (s *Bun) EventByID(ctx context.Context, id string) (*models.Event, error) {
	e := new(models.Event)
	if err := s.idb.NewSelect().Model(e).Where("e.id = ?", id).Scan(ctx); err != nil {
		return nil, notFoundOr("EventByID", err, "event", id)
	}
	return e, nil
}

func (s *Bun) EventsByGrandPrix(ctx context.Context, grandPrixID string) ([]models.Event, error) {
	var out []models.Event
	err := s.idb.NewSelect().Model(&out).
		Where("e.grand_prix_id = ?", grandPrixID).
		OrderExpr("e.name ASC, e.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("EventsByGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) InsertEvent(ctx context.Context, e *models.Event) error {
	_, err := s.idb.NewInsert().Model(e).Exec(ctx)
	return classify("InsertEvent", err)
}

func (s *Bun) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*models.Event)(nil)).Where("e.id = ?", id).Exec(ctx)
	if err != nil {
		return classify("DeleteEvent", err)
	}
	return requireRow("DeleteEvent", res, "event", id)
}

func (s *Bun) ActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	var out []models.Driver
	err := s.idb.NewSelect().Model(&out).
		Where("d.active = true").
		OrderExpr("d.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("ActiveDrivers", err)
	}
	return out, nil
}

func (s *Bun) UpsertDriver(ctx context.Context, d *models.Driver) error {
	_, err := s.idb.NewInsert().Model(d).
		On("CONFLICT (name) DO UPDATE").
		Set("team = EXCLUDED.team").
		Set("number = EXCLUDED.number").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	return classify("UpsertDriver", err)
}

func (s *Bun) PredictionsByEvent(ctx context.Context, eventID string) ([]models.Prediction, error) {
	var out []models.Prediction
	err := s.idb.NewSelect().Model(&out).
		Where("p.event_id = ?", eventID).
		OrderExpr("p.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("PredictionsByEvent", err)
	}
	return out, nil
}

func (s *Bun) PredictionsByUserAndGrandPrix(ctx context.Context, userID, grandPrixID string) ([]models.Prediction, error) {
	var out []models.Prediction
	err := s.idb.NewSelect().Model(&out).
		Join("JOIN events AS e ON e.id = p.event_id").
		Where("p.user_id = ?", userID).
		Where("e.grand_prix_id = ?", grandPrixID).
		OrderExpr("p.event_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("PredictionsByUserAndGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) PredictionByUserAndEvent(ctx context.Context, userID, eventID string) (*models.Prediction, error) {
	p := new(models.Prediction)
	err := s.idb.NewSelect().Model(p).
		Where("p.user_id = ?", userID).
		Where("p.event_id = ?", eventID).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("PredictionByUserAndEvent", err, "prediction for event", eventID)
	}
	return p, nil
}

func (s *Bun) UpsertPrediction(ctx context.Context, p *models.Prediction) error {
	_, err := s.idb.NewInsert().Model(p).
		On("CONFLICT (user_id, event_id) DO UPDATE").
		Set("prediction = EXCLUDED.prediction").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	return classify("UpsertPrediction", err)
}

func (s *Bun) PredictingUsers(ctx context.Context, grandPrixID string) ([]string, error) {
	var ids []string
	err := s.idb.NewSelect().
		TableExpr("predictions AS p").
		ColumnExpr("DISTINCT p.user_id::text").
		Join("JOIN events AS e ON e.id = p.event_id").
		Where("e.grand_prix_id = ?", grandPrixID).
		OrderExpr("1").
		Scan(ctx, &ids)
	if err != nil {
		return nil, classify("PredictingUsers", err)
	}
	return ids, nil
}

func (s *Bun) ResultByEvent(ctx context.Context, eventID string) (*models.Result, error) {
	r := new(models.Result)
	if err := s.idb.NewSelect().Model(r).Where("r.event_id = ?", eventID).Scan(ctx); err != nil {
		return nil, notFoundOr("ResultByEvent", err, "result for event", eventID)
	}
	return r, nil
}

func (s *Bun) ResultsByGrandPrix(ctx context.Context, grandPrixID string) ([]models.Result, error) {
	var out []models.Result
	err := s.idb.NewSelect().Model(&out).
		Join("JOIN events AS e ON e.id = r.event_id").
		Where("e.grand_prix_id = ?", grandPrixID).
		OrderExpr("r.event_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("ResultsByGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) UpsertResult(ctx context.Context, r *models.Result) error {
	_, err := s.idb.NewInsert().Model(r).
		On("CONFLICT (event_id) DO UPDATE").
		Set("actual_result = EXCLUDED.actual_result").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	return classify("UpsertResult", err)
}

func (s *Bun) LeaderboardByGrandPrix(ctx context.Context, grandPrixID string) ([]models.LeaderboardEntry, error) {
	var out []models.LeaderboardEntry
	err := s.idb.NewSelect().Model(&out).
		Where("lb.grand_prix_id = ?", grandPrixID).
		OrderExpr("lb.score DESC, lb.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("LeaderboardByGrandPrix", err)
	}
	return out, nil
}

func (s *Bun) UpsertLeaderboardEntry(ctx context.Context, e *models.LeaderboardEntry) error {
	_, err := s.idb.NewInsert().Model(e).
		On("CONFLICT (grand_prix_id, user_id) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	return classify("UpsertLeaderboardEntry", err)
}

func (s *Bun) SumLeaderboardScores(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.idb.NewSelect().Model((*models.LeaderboardEntry)(nil)).
		ColumnExpr("COALESCE(SUM(lb.score), 0)").
		Where("lb.user_id = ?", userID).
		Scan(ctx, &total)
	if err != nil {
		return 0, classify("SumLeaderboardScores", err)
	}
	return total, nil
}

func (s *Bun) ProfileByID(ctx context.Context, id string) (*models.Profile, error) {
	p := new(models.Profile)
	if err := s.idb.NewSelect().Model(p).Where("pf.id = ?", id).Scan(ctx); err != nil {
		return nil, notFoundOr("ProfileByID", err, "profile", id)
	}
	return p, nil
}

func (s *Bun) LockProfile(ctx context.Context, id string) (*models.Profile, error) {
	p := new(models.Profile)
	if err := s.idb.NewSelect().Model(p).Where("pf.id = ?", id).For("UPDATE").Scan(ctx); err != nil {
		return nil, notFoundOr("LockProfile", err, "profile", id)
	}
	return p, nil
}

func (s *Bun) ProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	p := new(models.Profile)
	if err := s.idb.NewSelect().Model(p).Where("pf.username = ?", username).Scan(ctx); err != nil {
		return nil, notFoundOr("ProfileByUsername", err, "profile", username)
	}
	return p, nil
}

func (s *Bun) ProfilesByIDs(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Profile
	err := s.idb.NewSelect().Model(&out).
		Where("pf.id IN (?)", bun.In(ids)).
		OrderExpr("pf.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify("ProfilesByIDs", err)
	}
	return out, nil
}

func (s *Bun) InsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.idb.NewInsert().Model(p).Returning("*").Exec(ctx)
	return classify("InsertProfile", err)
}

func (s *Bun) UpsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.idb.NewInsert().Model(p).
		On("CONFLICT (username) DO UPDATE").
		Set("password = EXCLUDED.password").
		Set("role = EXCLUDED.role").
		Set("nickname = COALESCE(EXCLUDED.nickname, pf.nickname)").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	return classify("UpsertProfile", err)
}

func (s *Bun) UpdateTotalScore(ctx context.Context, userID string, total int) error {
	res, err := s.idb.NewUpdate().Model((*models.Profile)(nil)).
		Set("total_score = ?", total).
		Set("updated_at = current_timestamp").
		Where("pf.id = ?", userID).
		Exec(ctx)
	if err != nil {
		return classify("UpdateTotalScore", err)
	}
	return requireRow("UpdateTotalScore", res, "profile", userID)
}

func (s *Bun) ProfilesByTotalScore(ctx context.Context, limit int) ([]models.Profile, error) {
	var out []models.Profile
	q := s.idb.NewSelect().Model(&out).OrderExpr("pf.total_score DESC, pf.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, classify("ProfilesByTotalScore", err)
	}
	return out, nil
}

func (s *Bun) CountProfiles(ctx context.Context, score int) (int, int, error) {
	above, err := s.idb.NewSelect().Model((*models.Profile)(nil)).
		Where("pf.total_score > ?", score).
		Count(ctx)
	if err != nil {
		return 0, 0, classify("CountProfiles", err)
	}
	total, err := s.idb.NewSelect().Model((*models.Profile)(nil)).Count(ctx)
	if err != nil {
		return 0, 0, classify("CountProfiles", err)
	}
	return above, total, nil
}
