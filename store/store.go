// Package store defines the persistence operations the scoring core consumes.
//
// Lookups of a single row return an apperr NotFound error when the row does
// not exist. Uniqueness violations outside the upsert paths surface as
// apperr Conflict and every other failure as apperr Store.
package store

import (
	"context"
	"time"

	"github.com/padraicbc/gridpicks/models"
)

// Store is a handle on the relational store. The handle passed to RunInTx's
// callback is bound to the transaction; RunInTx on that handle joins it.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	GrandPrixByID(ctx context.Context, id string) (*models.GrandPrix, error)
	// LockGrandPrix reads the row and holds a row lock on it until the
	// transaction ends. Every write that reads scores or results of a Grand
	// Prix takes this lock first so concurrent writers see each other's rows.
	LockGrandPrix(ctx context.Context, id string) (*models.GrandPrix, error)
	// ListGrandPrix orders by start_date descending. An empty status lists all.
	ListGrandPrix(ctx context.Context, status models.GrandPrixStatus) ([]models.GrandPrix, error)
	// DueGrandPrix returns upcoming rows with start_date <= now, earliest first.
	DueGrandPrix(ctx context.Context, now time.Time) ([]models.GrandPrix, error)
	InsertGrandPrix(ctx context.Context, gp *models.GrandPrix) error
	UpdateGrandPrixStatus(ctx context.Context, id string, status models.GrandPrixStatus) error
	// DemoteActive sets every active row except exceptID back to upcoming.
	DemoteActive(ctx context.Context, exceptID string) (int, error)
	// DeleteGrandPrix removes the row and its events, predictions, results and leaderboard rows.
	DeleteGrandPrix(ctx context.Context, id string) error

	EventByID(ctx context.Context, id string) (*models.Event, error)
	// EventsByGrandPrix orders by name, then id.
	EventsByGrandPrix(ctx context.Context, grandPrixID string) ([]models.Event, error)
	InsertEvent(ctx context.Context, e *models.Event) error
	// DeleteEvent removes the event with its predictions and result.
	DeleteEvent(ctx context.Context, id string) error

	// ActiveDrivers orders by name.
	ActiveDrivers(ctx context.Context) ([]models.Driver, error)
	UpsertDriver(ctx context.Context, d *models.Driver) error

	PredictionsByEvent(ctx context.Context, eventID string) ([]models.Prediction, error)
	PredictionsByUserAndGrandPrix(ctx context.Context, userID, grandPrixID string) ([]models.Prediction, error)
	PredictionByUserAndEvent(ctx context.Context, userID, eventID string) (*models.Prediction, error)
	// UpsertPrediction is keyed on (user_id, event_id) and refreshes p from the stored row.
	UpsertPrediction(ctx context.Context, p *models.Prediction) error
	// PredictingUsers returns the distinct users with a prediction on any event of the Grand Prix.
	PredictingUsers(ctx context.Context, grandPrixID string) ([]string, error)

	ResultByEvent(ctx context.Context, eventID string) (*models.Result, error)
	ResultsByGrandPrix(ctx context.Context, grandPrixID string) ([]models.Result, error)
	// UpsertResult is keyed on event_id and refreshes r from the stored row.
	UpsertResult(ctx context.Context, r *models.Result) error

	// LeaderboardByGrandPrix orders by score descending, then user id.
	LeaderboardByGrandPrix(ctx context.Context, grandPrixID string) ([]models.LeaderboardEntry, error)
	// UpsertLeaderboardEntry is keyed on (grand_prix_id, user_id) and overwrites the score.
	UpsertLeaderboardEntry(ctx context.Context, e *models.LeaderboardEntry) error
	SumLeaderboardScores(ctx context.Context, userID string) (int, error)

	ProfileByID(ctx context.Context, id string) (*models.Profile, error)
	// LockProfile reads the row and holds a row lock on it until the
	// transaction ends. Taken before a total is summed and written.
	LockProfile(ctx context.Context, id string) (*models.Profile, error)
	ProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
	ProfilesByIDs(ctx context.Context, ids []string) ([]models.Profile, error)
	// InsertProfile fails with Conflict when the username is taken.
	InsertProfile(ctx context.Context, p *models.Profile) error
	// UpsertProfile is keyed on username and refreshes p from the stored row.
	UpsertProfile(ctx context.Context, p *models.Profile) error
	UpdateTotalScore(ctx context.Context, userID string, total int) error
	// ProfilesByTotalScore orders by total_score descending, then id. limit <= 0 means no limit.
	ProfilesByTotalScore(ctx context.Context, limit int) ([]models.Profile, error)
	// CountProfiles returns how many profiles score above score, and how many exist.
	CountProfiles(ctx context.Context, score int) (above, total int, err error)
}
