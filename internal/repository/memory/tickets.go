package memoryrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jinxlo/rpv3/internal/domain"
)

// TicketStore is a mutex-guarded in-memory implementation of the ticket
// store contract. It mirrors the conditional-transition semantics of the
// postgres repository and backs unit tests and local development without
// a database.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[int]domain.Ticket

	// Now is the clock used for reserved_at stamps. Overridable in tests.
	Now func() time.Time
}

func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[int]domain.Ticket),
		Now:     time.Now,
	}
}

func (s *TicketStore) TryTransition(
	_ context.Context,
	number int,
	expected, next domain.TicketStatus,
	owner string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tryTransitionLocked(number, expected, next, owner), nil
}

func (s *TicketStore) BulkTransition(
	_ context.Context,
	numbers []int,
	expected, next domain.TicketStatus,
	owner string,
) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved []int
	for _, n := range numbers {
		if s.tryTransitionLocked(n, expected, next, owner) {
			moved = append(moved, n)
		}
	}

	return moved, nil
}

func (s *TicketStore) tryTransitionLocked(
	number int,
	expected, next domain.TicketStatus,
	owner string,
) bool {
	t, ok := s.tickets[number]
	if !ok || t.Status != expected {
		return false
	}

	if expected == domain.TicketReserved && owner != "" && t.OwnerID != owner {
		return false
	}

	t.Status = next
	if next == domain.TicketReserved {
		now := s.Now()
		t.ReservedAt = &now
		t.OwnerID = owner
	} else {
		t.ReservedAt = nil
		t.OwnerID = ""
	}

	s.tickets[number] = t

	return true
}

func (s *TicketStore) FindByNumbers(_ context.Context, numbers []int) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, n := range numbers {
		if t, ok := s.tickets[n]; ok {
			out = append(out, t)
		}
	}

	sortTickets(out)

	return out, nil
}

func (s *TicketStore) FindByStatus(_ context.Context, status domain.TicketStatus) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.Status == status {
			out = append(out, t)
		}
	}

	sortTickets(out)

	return out, nil
}

func (s *TicketStore) FindReservedBefore(_ context.Context, cutoff time.Time) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.Status == domain.TicketReserved && t.ReservedAt != nil && t.ReservedAt.Before(cutoff) {
			out = append(out, t)
		}
	}

	sortTickets(out)

	return out, nil
}

func (s *TicketStore) List(_ context.Context) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}

	sortTickets(out)

	return out, nil
}

func (s *TicketStore) BulkInsert(_ context.Context, tickets []domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tickets {
		s.tickets[t.Number] = t
	}

	return nil
}

func sortTickets(ts []domain.Ticket) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Number < ts[j].Number })
}
