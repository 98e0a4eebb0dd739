package scoring

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/store"
)

// Standing is one ranked leaderboard row. Equal scores share a rank.
type Standing struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"userID"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

// UserStanding is a user's place on the global leaderboard.
type UserStanding struct {
	UserID     string `json:"userID"`
	TotalScore int    `json:"totalScore"`
	Rank       int    `json:"rank"`
	Players    int    `json:"players"`
}

// Aggregator maintains per-Grand-Prix leaderboard rows and profile totals.
type Aggregator struct {
	base
}

// RecomputeGrandPrixScore rebuilds one user's score for one Grand Prix from
// source rows, overwrites the leaderboard row and refreshes the user's total.
func (a *Aggregator) RecomputeGrandPrixScore(ctx context.Context, grandPrixID, userID string) (int, error) {
	var score int
	err := a.inTx(ctx, "RecomputeGrandPrixScore", func(ctx context.Context, tx store.Store) error {
		if _, err := tx.LockGrandPrix(ctx, grandPrixID); err != nil {
			return err
		}
		if _, err := tx.ProfileByID(ctx, userID); err != nil {
			return err
		}
		var err error
		score, _, err = a.recompute(ctx, tx, grandPrixID, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	a.scoresChanged(ctx)
	return score, nil
}

// RecomputeGrandPrix rebuilds every score in a Grand Prix. It repairs rows
// after manual data fixes; normal writes never need it.
func (a *Aggregator) RecomputeGrandPrix(ctx context.Context, who Identity, grandPrixID string) (int, error) {
	const op = "RecomputeGrandPrix"
	if !who.IsAdmin() {
		return 0, apperr.Forbidden(op)
	}
	var n int
	err := a.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		n = 0
		if _, err := tx.LockGrandPrix(ctx, grandPrixID); err != nil {
			return err
		}
		users, err := affectedUsers(ctx, tx, grandPrixID)
		if err != nil {
			return err
		}
		for _, uid := range users {
			_, ok, err := a.recompute(ctx, tx, grandPrixID, uid)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.scoresChanged(ctx)
	a.log.Info("grand prix rescored", zap.String("grand_prix_id", grandPrixID), zap.Int("users", n))
	return n, nil
}

// recompute reports ok=false when the user has no profile; such rows are skipped.
// The caller must hold the Grand Prix lock.
func (a *Aggregator) recompute(ctx context.Context, tx store.Store, grandPrixID, userID string) (score int, ok bool, err error) {
	if _, err := tx.LockProfile(ctx, userID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			a.log.Debug("skipping prediction without profile", zap.String("user_id", userID))
			return 0, false, nil
		}
		return 0, false, err
	}

	events, err := tx.EventsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return 0, false, err
	}
	results, err := tx.ResultsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return 0, false, err
	}
	preds, err := tx.PredictionsByUserAndGrandPrix(ctx, userID, grandPrixID)
	if err != nil {
		return 0, false, err
	}
	score = ScoreGrandPrix(events, results, preds)

	now := a.utcNow()
	entry := &models.LeaderboardEntry{
		ID:          uuid.NewString(),
		GrandPrixID: grandPrixID,
		UserID:      userID,
		Score:       score,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.UpsertLeaderboardEntry(ctx, entry); err != nil {
		return 0, false, err
	}
	if err := a.refreshTotal(ctx, tx, userID); err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// refreshTotal locks the profile before summing so a concurrent write to
// another Grand Prix of the same user is included once it commits.
func (a *Aggregator) refreshTotal(ctx context.Context, tx store.Store, userID string) error {
	if _, err := tx.LockProfile(ctx, userID); err != nil {
		return err
	}
	total, err := tx.SumLeaderboardScores(ctx, userID)
	if err != nil {
		return err
	}
	return tx.UpdateTotalScore(ctx, userID, total)
}

// affectedUsers lists users with a prediction or a leaderboard row in the
// Grand Prix, sorted so profile locks are always taken in the same order.
func affectedUsers(ctx context.Context, tx store.Store, grandPrixID string) ([]string, error) {
	users, err := tx.PredictingUsers(ctx, grandPrixID)
	if err != nil {
		return nil, err
	}
	entries, err := tx.LeaderboardByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		seen[u] = true
	}
	for _, e := range entries {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	slices.Sort(users)
	return users, nil
}

// GrandPrixLeaderboard returns the Grand Prix rows by score descending, ties by user id.
func (a *Aggregator) GrandPrixLeaderboard(ctx context.Context, grandPrixID string) (rows []Standing, err error) {
	ctx, done := a.begin(ctx, "GrandPrixLeaderboard")
	defer func() { done(err) }()

	if _, err := a.store.GrandPrixByID(ctx, grandPrixID); err != nil {
		return nil, err
	}
	entries, err := a.store.LeaderboardByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	names, err := a.nicknames(ctx, ids)
	if err != nil {
		return nil, err
	}

	rows = make([]Standing, len(entries))
	for i, e := range entries {
		rows[i] = Standing{UserID: e.UserID, Nickname: names[e.UserID], Score: e.Score}
	}
	rank(rows)
	return rows, nil
}

// GlobalLeaderboard returns profiles by total score descending, ties by id.
// limit <= 0 returns everyone.
func (a *Aggregator) GlobalLeaderboard(ctx context.Context, limit int) (rows []Standing, err error) {
	if limit < 0 {
		limit = 0
	}
	var gen int64
	if a.cache != nil {
		cached, g, ok := a.cache.GlobalLeaderboard(ctx, limit)
		if ok {
			return cached, nil
		}
		gen = g
	}

	ctx, done := a.begin(ctx, "GlobalLeaderboard")
	defer func() { done(err) }()

	profiles, err := a.store.ProfilesByTotalScore(ctx, limit)
	if err != nil {
		return nil, err
	}
	rows = make([]Standing, len(profiles))
	for i := range profiles {
		rows[i] = Standing{UserID: profiles[i].ID, Nickname: profiles[i].DisplayName(), Score: profiles[i].TotalScore}
	}
	rank(rows)
	if a.cache != nil {
		a.cache.StoreGlobalLeaderboard(ctx, limit, gen, rows)
	}
	return rows, nil
}

// Invalidate drops cached leaderboards. Score writes do this themselves;
// callers that add profiles outside the scoring service call it directly.
func (a *Aggregator) Invalidate(ctx context.Context) { a.scoresChanged(ctx) }

// Standing reports the user's total, rank and the number of ranked players.
func (a *Aggregator) Standing(ctx context.Context, userID string) (out *UserStanding, err error) {
	ctx, done := a.begin(ctx, "Standing")
	defer func() { done(err) }()

	p, err := a.store.ProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	above, total, err := a.store.CountProfiles(ctx, p.TotalScore)
	if err != nil {
		return nil, err
	}
	return &UserStanding{UserID: p.ID, TotalScore: p.TotalScore, Rank: above + 1, Players: total}, nil
}

func (a *Aggregator) nicknames(ctx context.Context, ids []string) (map[string]string, error) {
	profiles, err := a.store.ProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(profiles))
	for i := range profiles {
		out[profiles[i].ID] = profiles[i].DisplayName()
	}
	return out, nil
}

// rank assigns competition ranks (1, 1, 3) to rows already sorted by score.
func rank(rows []Standing) {
	for i := range rows {
		if i > 0 && rows[i].Score == rows[i-1].Score {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
