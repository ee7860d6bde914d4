package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinxlo/rpv3/internal/domain"
	"github.com/jinxlo/rpv3/internal/repository"
	postgresrepo "github.com/jinxlo/rpv3/internal/repository/postgres"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
	"github.com/jinxlo/rpv3/internal/uow"
)

// maxTicketPool bounds raffle creation; the engine is designed for pools
// of hundreds to thousands of tickets.
const maxTicketPool = 100_000

// Service owns the raffle lifecycle. Creating a raffle supersedes the
// previous one: every other raffle is deactivated and the old ticket pool
// is dropped before the new one is enumerated, all in one transaction.
type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	uow   *uow.UoW
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache) *Service {
	return &Service{
		store: store,
		cache: cache,
		uow:   uow.NewUoW(store),
	}
}

// CreateRaffle activates a new raffle and enumerates its ticket pool
// (numbers 1..totalTickets, all available).
//
// Returns:
//   - *domain.Raffle: the created raffle.
//   - error: admin.ErrInvalidRaffle for bad parameters,
//     admin.ErrRaffleConflict on a concurrent creation.
func (s *Service) CreateRaffle(
	ctx context.Context,
	productName string,
	priceCents int64,
	totalTickets int,
) (*domain.Raffle, error) {
	const op = "service.admin.CreateRaffle"

	if productName == "" || priceCents < 0 || totalTickets < 1 || totalTickets > maxTicketPool {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidRaffle)
	}

	raffle := domain.Raffle{
		ID:           uuid.New(),
		ProductName:  productName,
		PriceCents:   priceCents,
		TotalTickets: totalTickets,
		Active:       true,
		CreatedAt:    time.Now(),
	}

	tickets := make([]domain.Ticket, 0, totalTickets)
	for n := 1; n <= totalTickets; n++ {
		tickets = append(tickets, domain.Ticket{
			Number: n,
			Status: domain.TicketAvailable,
		})
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.store.Raffles().With(tx).DeactivateAll(ctx); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.store.Tickets().With(tx).DeleteAll(ctx); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.store.Raffles().With(tx).Insert(ctx, raffle); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrRaffleConflict)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.store.Tickets().With(tx).BulkInsert(ctx, tickets); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateTickets(ctx)
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &raffle, nil
}

func (s *Service) ListRaffles(ctx context.Context) ([]domain.Raffle, error) {
	const op = "service.admin.ListRaffles"

	raffles, err := s.store.Raffles().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return raffles, nil
}

// CloseRaffle deactivates a raffle. The ticket pool stays in place until
// the next raffle supersedes it, so past buyers can still see the board.
//
// Returns:
//   - error: admin.ErrRaffleNotFound when no raffle has the given id.
func (s *Service) CloseRaffle(ctx context.Context, id uuid.UUID) error {
	const op = "service.admin.CloseRaffle"

	if err := s.store.Raffles().Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrRaffleNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if s.cache != nil {
		_ = s.cache.InvalidateTickets(ctx)
	}

	return nil
}
