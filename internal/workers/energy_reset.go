package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tapgame-backend/internal/common/logger"
)

type EnergyResetter interface {
	ResetEnergyForAll(ctx context.Context) (int64, error)
}

// LeaseFunc tries to take the sweep lease. acquired is false when another
// replica holds it.
type LeaseFunc func(ctx context.Context) (release func(context.Context) error, acquired bool, err error)

// EnergyResetWorker refills energy for every account on a fixed interval.
type EnergyResetWorker struct {
	resetter EnergyResetter
	interval time.Duration
	lease    LeaseFunc
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEnergyResetWorker creates the worker. A nil lease runs every tick locally.
func NewEnergyResetWorker(resetter EnergyResetter, interval time.Duration, lease LeaseFunc) *EnergyResetWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &EnergyResetWorker{
		resetter: resetter,
		interval: interval,
		lease:    lease,
		log:      logger.With("energy-reset-worker"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *EnergyResetWorker) Start() {
	w.log.Info().Dur("interval", w.interval).Msg("Starting energy reset worker")
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(w.ctx); err != nil {
					w.log.Error().Err(err).Msg("Energy reset sweep failed")
				}
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels a running sweep and waits for the loop to exit.
func (w *EnergyResetWorker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.log.Info().Msg("Energy reset worker stopped")
}

// RunOnce performs one sweep if the lease is available. It returns the number
// of refilled accounts.
func (w *EnergyResetWorker) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	if w.lease != nil {
		release, acquired, err := w.lease(ctx)
		if err != nil {
			return 0, err
		}
		if !acquired {
			w.log.Debug().Msg("Sweep lease held elsewhere, skipping tick")
			return 0, nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				w.log.Warn().Err(err).Msg("Failed to release sweep lease")
			}
		}()
	}

	start := time.Now()
	n, err := w.resetter.ResetEnergyForAll(ctx)
	if err != nil {
		return n, err
	}
	w.log.Info().Int64("accounts", n).Dur("took", time.Since(start)).Msg("Energy reset sweep finished")
	return n, nil
}
