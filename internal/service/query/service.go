package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinxlo/rpv3/internal/domain"
	"github.com/jinxlo/rpv3/internal/repository"
	postgresrepo "github.com/jinxlo/rpv3/internal/repository/postgres"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
)

type Config struct {
	TicketListTTL   time.Duration
	ActiveRaffleTTL time.Duration
}

// Service is the read side: full ticket list for page load / resync and
// the active raffle with its derived counters. Reads go through the Redis
// cache; the reservation engine invalidates it after every mutation.
type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.TicketListTTL <= 0 {
		cfg.TicketListTTL = 5 * time.Second
	}

	if cfg.ActiveRaffleTTL <= 0 {
		cfg.ActiveRaffleTTL = 15 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// ListTickets returns every ticket of the active pool, cached briefly.
func (s *Service) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	const op = "service.query.ListTickets"

	if s.cache == nil {
		tickets, err := s.store.Tickets().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return tickets, nil
	}

	tickets, err := redisrepo.GetOrSetJSON(
		ctx, s.cache, redisrepo.KeyTicketList(), s.cfg.TicketListTTL,
		func(ctx context.Context) ([]domain.Ticket, error) {
			return s.store.Tickets().List(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tickets, nil
}

// ActiveRaffle returns the active raffle together with counts derived from
// the ticket rows, so available + reserved + sold always equals the total.
//
// Returns:
//   - error: query.ErrNoActiveRaffle when no raffle is active.
func (s *Service) ActiveRaffle(ctx context.Context) (*domain.RaffleWithCounts, error) {
	const op = "service.query.ActiveRaffle"

	load := func(ctx context.Context) (*domain.RaffleWithCounts, error) {
		raffle, err := s.store.Raffles().Active(ctx)
		if err != nil {
			return nil, err
		}

		counts, err := s.store.Tickets().CountsByStatus(ctx)
		if err != nil {
			return nil, err
		}

		return &domain.RaffleWithCounts{Raffle: *raffle, Counts: *counts}, nil
	}

	var out *domain.RaffleWithCounts
	var err error

	if s.cache == nil {
		out, err = load(ctx)
	} else {
		out, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisrepo.KeyRaffleActive(), s.cfg.ActiveRaffleTTL, load,
		)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrNoActiveRaffle)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
