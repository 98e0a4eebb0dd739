// Package scoring reconciles predictions against results, keeps leaderboards
// and profile totals consistent, and drives the Grand Prix lifecycle.
//
// Every derived score is rebuilt from source rows inside the same transaction
// as the write that triggered it, so replays and concurrent writers converge
// on the same value.
package scoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/store"
)

const (
	defaultStoreTimeout  = 5 * time.Second
	defaultRetryInitial  = 100 * time.Millisecond
	defaultRetryMaxTries = 4
)

// Cache holds snapshots of the global leaderboard. It is never read for
// correctness; a miss falls through to the store.
//
// GlobalLeaderboard reports the cache generation even on a miss. The reader
// passes it back to StoreGlobalLeaderboard, which must drop the rows when an
// Invalidate has happened since.
type Cache interface {
	GlobalLeaderboard(ctx context.Context, limit int) (rows []Standing, gen int64, ok bool)
	StoreGlobalLeaderboard(ctx context.Context, limit int, gen int64, rows []Standing)
	Invalidate(ctx context.Context)
}

// Options configures a Service. Zero values pick defaults.
type Options struct {
	Logger        *zap.Logger
	Now           func() time.Time
	StoreTimeout  time.Duration
	Cache         Cache
	RetryInitial  time.Duration
	RetryMaxTries uint
}

// Service groups the three scoring components over one store.
type Service struct {
	Engine      *Engine
	Leaderboard *Aggregator
	Lifecycle   *Lifecycle
}

// New wires the components. st is the only shared mutable resource.
func New(st store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMaxTries == 0 {
		opts.RetryMaxTries = defaultRetryMaxTries
	}

	mk := func(name string) base {
		return base{
			store:   st,
			log:     opts.Logger.Named(name),
			now:     opts.Now,
			timeout: opts.StoreTimeout,
			cache:   opts.Cache,
			tracer:  otel.Tracer("github.com/padraicbc/gridpicks/scoring"),
		}
	}

	agg := &Aggregator{base: mk("leaderboard")}
	lc := &Lifecycle{
		base:          mk("lifecycle"),
		agg:           agg,
		retryInitial:  opts.RetryInitial,
		retryMaxTries: opts.RetryMaxTries,
	}
	eng := &Engine{base: mk("engine"), agg: agg, lc: lc}
	return &Service{Engine: eng, Leaderboard: agg, Lifecycle: lc}
}

type base struct {
	store   store.Store
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
	cache   Cache
	tracer  trace.Tracer
}

// inTx runs fn in one store transaction bounded by the store timeout.
func (b *base) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Store) error) error {
	ctx, done := b.begin(ctx, op)
	err := b.store.RunInTx(ctx, fn)
	done(err)
	return err
}

// begin opens a span and applies the store timeout. done must be called with
// the operation's error.
func (b *base) begin(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := b.tracer.Start(ctx, "scoring."+op)
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		cancel()
		span.End()
	}
}

func (b *base) utcNow() time.Time { return b.now().UTC() }

// scoresChanged drops cached leaderboards after a committed score change.
func (b *base) scoresChanged(ctx context.Context) {
	if b.cache != nil {
		b.cache.Invalidate(ctx)
	}
}
