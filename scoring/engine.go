package scoring

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/store"
)

// ErrPredictionsClosed is returned when a prediction targets a Grand Prix
// that is not active or has passed its end date. Match it with errors.Is.
var ErrPredictionsClosed = &apperr.Error{Kind: apperr.KindValidation, Msg: "predictions are closed"}

// Engine records results and predictions and keeps the affected scores current.
type Engine struct {
	base
	agg *Aggregator
	lc  *Lifecycle
}

// RecordOutcome describes what a result write changed.
type RecordOutcome struct {
	Result        models.Result `json:"result"`
	RescoredUsers int           `json:"rescoredUsers"`
	Completed     bool          `json:"completed"`
}

// RecordResult stores the official result of an event and rescores every
// user who predicted it. Writing the same value again changes nothing.
func (e *Engine) RecordResult(ctx context.Context, who Identity, eventID, value string) (*RecordOutcome, error) {
	const op = "RecordResult"
	if !who.IsAdmin() {
		return nil, apperr.Forbidden(op)
	}
	if strings.TrimSpace(value) == "" {
		return nil, apperr.Validation(op, "result is required")
	}

	var out RecordOutcome
	var grandPrixID string
	err := e.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		out = RecordOutcome{}
		ev, err := tx.EventByID(ctx, eventID)
		if err != nil {
			return err
		}
		grandPrixID = ev.GrandPrixID
		gp, err := tx.LockGrandPrix(ctx, ev.GrandPrixID)
		if err != nil {
			return err
		}
		if gp.Status == models.StatusUpcoming {
			return apperr.Validation(op, "grand prix %s has not started", gp.ID)
		}

		now := e.utcNow()
		res := &models.Result{
			ID:           uuid.NewString(),
			EventID:      ev.ID,
			ActualResult: value,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.UpsertResult(ctx, res); err != nil {
			return err
		}
		out.Result = *res

		preds, err := tx.PredictionsByEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(preds))
		for _, p := range preds {
			if seen[p.UserID] {
				continue
			}
			seen[p.UserID] = true
			_, ok, err := e.agg.recompute(ctx, tx, gp.ID, p.UserID)
			if err != nil {
				return err
			}
			if ok {
				out.RescoredUsers++
			}
		}

		out.Completed, err = e.lc.completeIfScored(ctx, tx, gp.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.scoresChanged(ctx)
	e.log.Info("result recorded",
		zap.String("grand_prix_id", grandPrixID),
		zap.String("event_id", eventID),
		zap.Int("rescored_users", out.RescoredUsers),
		zap.Bool("completed", out.Completed),
	)
	return &out, nil
}

func (e *Engine) checkOpen(op string, gp *models.GrandPrix) error {
	if gp.Status != models.StatusActive || e.utcNow().After(gp.EndDate) {
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: ErrPredictionsClosed.Msg}
	}
	return nil
}

func activeDriverNames(ctx context.Context, tx store.Store) (map[string]bool, error) {
	drivers, err := tx.ActiveDrivers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(drivers))
	for _, d := range drivers {
		names[d.Name] = true
	}
	return names, nil
}

// SubmitPrediction creates or replaces the caller's prediction for an event.
// When the event already has a result the caller's score follows immediately.
func (e *Engine) SubmitPrediction(ctx context.Context, who Identity, eventID, value string) (*models.Prediction, error) {
	const op = "SubmitPrediction"
	if who.UserID == "" {
		return nil, apperr.Validation(op, "user is required")
	}
	if strings.TrimSpace(value) == "" {
		return nil, apperr.Validation(op, "prediction is required")
	}

	var p *models.Prediction
	err := e.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		ev, err := tx.EventByID(ctx, eventID)
		if err != nil {
			return err
		}
		gp, err := tx.LockGrandPrix(ctx, ev.GrandPrixID)
		if err != nil {
			return err
		}
		if err := e.checkOpen(op, gp); err != nil {
			return err
		}
		drivers, err := activeDriverNames(ctx, tx)
		if err != nil {
			return err
		}
		if !drivers[value] {
			return apperr.Validation(op, "%q is not an active driver", value)
		}

		p, err = e.upsertPrediction(ctx, tx, who.UserID, ev.ID, value)
		if err != nil {
			return err
		}
		if _, err := tx.ResultByEvent(ctx, ev.ID); err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil
			}
			return err
		}
		_, _, err = e.agg.recompute(ctx, tx, gp.ID, who.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.scoresChanged(ctx)
	e.log.Debug("prediction saved", zap.String("user_id", who.UserID), zap.String("event_id", eventID))
	return p, nil
}

// SubmitPredictions saves a batch of predictions for one Grand Prix keyed by
// event id. Either all of them are stored or none.
func (e *Engine) SubmitPredictions(ctx context.Context, who Identity, grandPrixID string, picks map[string]string) ([]models.Prediction, error) {
	const op = "SubmitPredictions"
	if who.UserID == "" {
		return nil, apperr.Validation(op, "user is required")
	}
	if len(picks) == 0 {
		return nil, apperr.Validation(op, "no predictions given")
	}
	eventIDs := make([]string, 0, len(picks))
	for id, v := range picks {
		if strings.TrimSpace(v) == "" {
			return nil, apperr.Validation(op, "prediction for event %s is required", id)
		}
		eventIDs = append(eventIDs, id)
	}
	slices.Sort(eventIDs)

	var saved []models.Prediction
	err := e.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		saved = saved[:0]
		gp, err := tx.LockGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		if err := e.checkOpen(op, gp); err != nil {
			return err
		}
		events, err := tx.EventsByGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		inGP := make(map[string]bool, len(events))
		for _, ev := range events {
			inGP[ev.ID] = true
		}
		drivers, err := activeDriverNames(ctx, tx)
		if err != nil {
			return err
		}

		for _, id := range eventIDs {
			if !inGP[id] {
				return apperr.Validation(op, "event %s is not part of grand prix %s", id, grandPrixID)
			}
			if !drivers[picks[id]] {
				return apperr.Validation(op, "%q is not an active driver", picks[id])
			}
			p, err := e.upsertPrediction(ctx, tx, who.UserID, id, picks[id])
			if err != nil {
				return err
			}
			saved = append(saved, *p)
		}

		results, err := tx.ResultsByGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		_, _, err = e.agg.recompute(ctx, tx, grandPrixID, who.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.scoresChanged(ctx)
	e.log.Debug("predictions saved", zap.String("user_id", who.UserID), zap.String("grand_prix_id", grandPrixID), zap.Int("count", len(saved)))
	return saved, nil
}

func (e *Engine) upsertPrediction(ctx context.Context, tx store.Store, userID, eventID, value string) (*models.Prediction, error) {
	now := e.utcNow()
	p := &models.Prediction{
		ID:         uuid.NewString(),
		UserID:     userID,
		EventID:    eventID,
		Prediction: value,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.UpsertPrediction(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PredictionView is one event of a Grand Prix seen from one user.
type PredictionView struct {
	Event      models.Event `json:"event"`
	Prediction *string      `json:"prediction"`
	Result     *string      `json:"result"`
	Outcome    Outcome      `json:"outcome"`
	Points     int          `json:"points"`
}

// UserPredictions lists every event of the Grand Prix with the user's pick,
// the result and the points the pick earned.
func (e *Engine) UserPredictions(ctx context.Context, userID, grandPrixID string) (out []PredictionView, err error) {
	ctx, done := e.begin(ctx, "UserPredictions")
	defer func() { done(err) }()

	if _, err := e.store.GrandPrixByID(ctx, grandPrixID); err != nil {
		return nil, err
	}
	events, err := e.store.EventsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return nil, err
	}
	results, err := e.store.ResultsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return nil, err
	}
	preds, err := e.store.PredictionsByUserAndGrandPrix(ctx, userID, grandPrixID)
	if err != nil {
		return nil, err
	}
	resultByEvent := make(map[string]*models.Result, len(results))
	for i := range results {
		resultByEvent[results[i].EventID] = &results[i]
	}
	predByEvent := make(map[string]*models.Prediction, len(preds))
	for i := range preds {
		predByEvent[preds[i].EventID] = &preds[i]
	}

	out = make([]PredictionView, 0, len(events))
	for _, ev := range events {
		v := PredictionView{Event: ev}
		p, r := predByEvent[ev.ID], resultByEvent[ev.ID]
		if p != nil {
			v.Prediction = &p.Prediction
		}
		if r != nil {
			v.Result = &r.ActualResult
		}
		v.Outcome = EvaluatePrediction(p, r)
		if v.Outcome == Correct {
			v.Points = ev.Points
		}
		out = append(out, v)
	}
	return out, nil
}
