package scoring

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/apperr"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/store"
)

// Lifecycle moves Grand Prix through upcoming, active and completed and
// guards the writes that depend on that state.
type Lifecycle struct {
	base
	agg *Aggregator

	retryInitial  time.Duration
	retryMaxTries uint
}

// GrandPrixInput is the admin form for a new Grand Prix.
type GrandPrixInput struct {
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	Location    string
	CountryCode string
}

// EventInput is the admin form for a new Event.
type EventInput struct {
	Name        string
	Description string
	Points      int
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (l *Lifecycle) CreateGrandPrix(ctx context.Context, who Identity, in GrandPrixInput) (*models.GrandPrix, error) {
	const op = "CreateGrandPrix"
	if !who.IsAdmin() {
		return nil, apperr.Forbidden(op)
	}
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, apperr.Validation(op, "name is required")
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return nil, apperr.Validation(op, "start and end dates are required")
	case in.EndDate.Before(in.StartDate):
		return nil, apperr.Validation(op, "end date is before start date")
	}

	now := l.utcNow()
	gp := &models.GrandPrix{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slug.Make(name),
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		Status:      models.StatusUpcoming,
		Location:    optional(in.Location),
		CountryCode: optional(strings.ToUpper(in.CountryCode)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		return tx.InsertGrandPrix(ctx, gp)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("grand prix created", zap.String("grand_prix_id", gp.ID), zap.String("slug", gp.Slug))
	return gp, nil
}

func (l *Lifecycle) AddEvent(ctx context.Context, who Identity, grandPrixID string, in EventInput) (*models.Event, error) {
	const op = "AddEvent"
	if !who.IsAdmin() {
		return nil, apperr.Forbidden(op)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if in.Points <= 0 {
		return nil, apperr.Validation(op, "points must be positive, got %d", in.Points)
	}

	now := l.utcNow()
	ev := &models.Event{
		ID:          uuid.NewString(),
		GrandPrixID: grandPrixID,
		Name:        name,
		Description: optional(in.Description),
		Points:      in.Points,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		gp, err := tx.LockGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		if gp.Status == models.StatusCompleted {
			return apperr.Validation(op, "grand prix %s is completed", gp.ID)
		}
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("event added", zap.String("grand_prix_id", grandPrixID), zap.String("event_id", ev.ID), zap.Int("points", ev.Points))
	return ev, nil
}

// DeleteEvent removes the event with its predictions and result, then
// rescores everyone who had a stake in the Grand Prix. Removing the last
// unscored event can complete an active Grand Prix.
func (l *Lifecycle) DeleteEvent(ctx context.Context, who Identity, eventID string) error {
	const op = "DeleteEvent"
	if !who.IsAdmin() {
		return apperr.Forbidden(op)
	}
	var (
		grandPrixID string
		rescored    int
		completed   bool
	)
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		rescored, completed = 0, false
		ev, err := tx.EventByID(ctx, eventID)
		if err != nil {
			return err
		}
		grandPrixID = ev.GrandPrixID
		gp, err := tx.LockGrandPrix(ctx, ev.GrandPrixID)
		if err != nil {
			return err
		}
		if gp.Status == models.StatusCompleted {
			return apperr.Validation(op, "grand prix %s is completed", gp.ID)
		}
		users, err := affectedUsers(ctx, tx, gp.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteEvent(ctx, eventID); err != nil {
			return err
		}
		for _, uid := range users {
			_, ok, err := l.agg.recompute(ctx, tx, gp.ID, uid)
			if err != nil {
				return err
			}
			if ok {
				rescored++
			}
		}
		completed, err = l.completeIfScored(ctx, tx, gp.ID)
		return err
	})
	if err != nil {
		return err
	}
	l.scoresChanged(ctx)
	l.log.Info("event deleted",
		zap.String("grand_prix_id", grandPrixID),
		zap.String("event_id", eventID),
		zap.Int("rescored_users", rescored),
		zap.Bool("completed", completed),
	)
	return nil
}

// Activate makes grandPrixID the only active Grand Prix. Demotion and
// promotion commit together; transient failures and lost races with another
// activation are retried.
func (l *Lifecycle) Activate(ctx context.Context, who Identity, grandPrixID string) (*models.GrandPrix, error) {
	const op = "Activate"
	if !who.IsAdmin() {
		return nil, apperr.Forbidden(op)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryInitial

	attempt := 0
	gp, err := backoff.Retry(ctx, func() (*models.GrandPrix, error) {
		attempt++
		gp, err := l.activateOnce(ctx, grandPrixID)
		if err != nil && !apperr.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return gp, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(l.retryMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.log.Warn("activate retry",
				zap.String("grand_prix_id", grandPrixID),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	return gp, nil
}

func (l *Lifecycle) activateOnce(ctx context.Context, grandPrixID string) (*models.GrandPrix, error) {
	const op = "Activate"
	var (
		gp      *models.GrandPrix
		demoted int
		changed bool
	)
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		var err error
		gp, err = tx.LockGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		switch gp.Status {
		case models.StatusCompleted:
			return apperr.Validation(op, "grand prix %s is completed", gp.ID)
		case models.StatusActive:
			changed = false
			return nil
		}
		if demoted, err = tx.DemoteActive(ctx, gp.ID); err != nil {
			return err
		}
		if err := tx.UpdateGrandPrixStatus(ctx, gp.ID, models.StatusActive); err != nil {
			return err
		}
		gp.Status = models.StatusActive
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.log.Info("grand prix activated", zap.String("grand_prix_id", gp.ID), zap.Int("demoted", demoted))
	}
	return gp, nil
}

// Sweep promotes the earliest due upcoming Grand Prix when none is active.
// It returns nil when nothing was promoted, including when a concurrent
// activation won the race.
func (l *Lifecycle) Sweep(ctx context.Context) (*models.GrandPrix, error) {
	const op = "Sweep"
	var promoted *models.GrandPrix
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		promoted = nil
		active, err := tx.ListGrandPrix(ctx, models.StatusActive)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return nil
		}
		due, err := tx.DueGrandPrix(ctx, l.utcNow())
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		gp := due[0]
		if err := tx.UpdateGrandPrixStatus(ctx, gp.ID, models.StatusActive); err != nil {
			return err
		}
		gp.Status = models.StatusActive
		promoted = &gp
		return nil
	})
	if apperr.KindOf(err) == apperr.KindConflict {
		l.log.Debug("sweep lost activation race", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if promoted != nil {
		l.log.Info("grand prix auto-activated", zap.String("grand_prix_id", promoted.ID), zap.Time("start_date", promoted.StartDate))
	}
	return promoted, nil
}

// completeIfScored marks an active Grand Prix completed once it has events
// and every one of them has a result.
func (l *Lifecycle) completeIfScored(ctx context.Context, tx store.Store, grandPrixID string) (bool, error) {
	gp, err := tx.GrandPrixByID(ctx, grandPrixID)
	if err != nil {
		return false, err
	}
	if gp.Status != models.StatusActive {
		return false, nil
	}
	events, err := tx.EventsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	results, err := tx.ResultsByGrandPrix(ctx, grandPrixID)
	if err != nil {
		return false, err
	}
	scored := make(map[string]bool, len(results))
	for _, r := range results {
		scored[r.EventID] = true
	}
	for _, ev := range events {
		if !scored[ev.ID] {
			return false, nil
		}
	}
	if err := tx.UpdateGrandPrixStatus(ctx, grandPrixID, models.StatusCompleted); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteGrandPrix removes an upcoming Grand Prix with everything under it
// and refreshes the totals of users who had leaderboard rows in it.
func (l *Lifecycle) DeleteGrandPrix(ctx context.Context, who Identity, grandPrixID string) error {
	const op = "DeleteGrandPrix"
	if !who.IsAdmin() {
		return apperr.Forbidden(op)
	}
	err := l.inTx(ctx, op, func(ctx context.Context, tx store.Store) error {
		gp, err := tx.LockGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		if gp.Status != models.StatusUpcoming {
			return apperr.Validation(op, "only upcoming grand prix can be deleted, %s is %s", gp.ID, gp.Status)
		}
		entries, err := tx.LeaderboardByGrandPrix(ctx, grandPrixID)
		if err != nil {
			return err
		}
		users := make([]string, len(entries))
		for i, e := range entries {
			users[i] = e.UserID
		}
		slices.Sort(users)
		if err := tx.DeleteGrandPrix(ctx, grandPrixID); err != nil {
			return err
		}
		for _, uid := range users {
			if err := l.agg.refreshTotal(ctx, tx, uid); err != nil {
				if apperr.KindOf(err) == apperr.KindNotFound {
					continue
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.scoresChanged(ctx)
	l.log.Info("grand prix deleted", zap.String("grand_prix_id", grandPrixID))
	return nil
}

// ListGrandPrix runs a sweep first so a due Grand Prix shows as active. A
// failed sweep is logged and the listing still answers.
func (l *Lifecycle) ListGrandPrix(ctx context.Context, status models.GrandPrixStatus) (out []models.GrandPrix, err error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("ListGrandPrix", "unknown status %q", status)
	}
	if _, err := l.Sweep(ctx); err != nil {
		l.log.Warn("sweep before listing failed", zap.Error(err))
	}

	ctx, done := l.begin(ctx, "ListGrandPrix")
	defer func() { done(err) }()
	return l.store.ListGrandPrix(ctx, status)
}

func (l *Lifecycle) GrandPrix(ctx context.Context, id string) (gp *models.GrandPrix, err error) {
	ctx, done := l.begin(ctx, "GrandPrix")
	defer func() { done(err) }()
	return l.store.GrandPrixByID(ctx, id)
}

// Events lists the Grand Prix's events by name.
func (l *Lifecycle) Events(ctx context.Context, grandPrixID string) (out []models.Event, err error) {
	ctx, done := l.begin(ctx, "Events")
	defer func() { done(err) }()
	if _, err := l.store.GrandPrixByID(ctx, grandPrixID); err != nil {
		return nil, err
	}
	return l.store.EventsByGrandPrix(ctx, grandPrixID)
}

func (l *Lifecycle) ActiveDrivers(ctx context.Context) (out []models.Driver, err error) {
	ctx, done := l.begin(ctx, "ActiveDrivers")
	defer func() { done(err) }()
	return l.store.ActiveDrivers(ctx)
}
