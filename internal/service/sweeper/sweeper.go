package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Expirer is the sweep entry point exposed by the reservation engine.
type Expirer interface {
	ExpireStale(ctx context.Context) ([]int, error)
}

// Sweeper is the single background task that reclaims tickets reserved
// past their TTL. The engine's conditional release makes the sweep safe
// against reservations that move on between scan and action; the sweeper
// itself only owns the schedule.
type Sweeper struct {
	expirer  Expirer
	logger   *slog.Logger
	interval time.Duration
}

func New(expirer Expirer, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Sweeper{
		expirer:  expirer,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until the context is canceled. A failed
// sweep is logged and the loop keeps going; it never takes the process
// down.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	released, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("expiry sweep finished with errors",
			"released", len(released), "error", err)
		return
	}

	if len(released) > 0 {
		s.logger.Info("released expired reservations", "tickets", released)
	}
}
