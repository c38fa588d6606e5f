package session

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/afsalb/deep-researcher/internal/telemetry"
)

// Sweeper periodically removes expired sessions on a cron schedule and drops
// their cost tracking state.
type Sweeper struct {
	store     Store
	telemetry *telemetry.Telemetry
	expr      *cronexpr.Expression
	logger    *log.Logger
}

func NewSweeper(store Store, tel *telemetry.Telemetry, schedule string) (*Sweeper, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		store:     store,
		telemetry: tel,
		expr:      expr,
		logger:    log.New(log.Writer(), "[SWEEPER] ", log.LstdFlags),
	}, nil
}

// Run blocks until ctx is done, sweeping at each scheduled tick.
func (w *Sweeper) Run(ctx context.Context) {
	for {
		next := w.expr.Next(time.Now())
		if next.IsZero() {
			w.logger.Printf("schedule has no future ticks, sweeper stopping")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass.
func (w *Sweeper) SweepOnce(ctx context.Context) {
	ids, err := w.store.Sweep(ctx)
	if err != nil {
		w.logger.Printf("sweep error: %v", err)
	}
	for _, id := range ids {
		w.telemetry.ForgetSession(id)
	}
}
