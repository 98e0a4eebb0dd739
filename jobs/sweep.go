// Package jobs runs background work on a schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/models"
)

// Sweeper promotes a due Grand Prix when none is active.
type Sweeper interface {
	Sweep(ctx context.Context) (*models.GrandPrix, error)
}

// StartSweep runs s.Sweep every interval, starting now. Runs never overlap.
// The caller owns the returned scheduler and must Shutdown it.
func StartSweep(ctx context.Context, s Sweeper, every time.Duration, log *zap.Logger) (gocron.Scheduler, error) {
	if every <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", every)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			gp, err := s.Sweep(ctx)
			if err != nil {
				log.Warn("scheduled sweep failed", zap.Error(err))
				return
			}
			if gp != nil {
				log.Info("scheduled sweep activated grand prix", zap.String("grand_prix_id", gp.ID), zap.String("name", gp.Name))
			}
		}),
		gocron.WithName("grand-prix-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("sweep job: %w", err)
	}

	sched.Start()
	return sched, nil
}
