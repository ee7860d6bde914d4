package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinxlo/rpv3/internal/domain"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
)

// TicketStore is the durable keyed store the engine runs against. The only
// write primitive is the conditional transition: the store guarantees the
// check-and-set is atomic per ticket with respect to all other callers, so
// the engine never takes a lock of its own.
//
// The owner argument is the new owner when next is reserved, and the
// required current owner (empty string means any) when expected is reserved.
// Losing a conditional transition is reported as false / absence from the
// result slice, never as an error.
type TicketStore interface {
	TryTransition(ctx context.Context, number int, expected, next domain.TicketStatus, owner string) (bool, error)
	BulkTransition(ctx context.Context, numbers []int, expected, next domain.TicketStatus, owner string) ([]int, error)
	FindByNumbers(ctx context.Context, numbers []int) ([]domain.Ticket, error)
	FindByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error)
	FindReservedBefore(ctx context.Context, cutoff time.Time) ([]domain.Ticket, error)
	List(ctx context.Context) ([]domain.Ticket, error)
}

// Notifier fans a ticket state change out to all currently subscribed
// observers. Best-effort: a publish failure never rolls back the mutation
// that preceded it.
type Notifier interface {
	Publish(ctx context.Context, ev domain.TicketEvent) error
}

// RateLimiter gates reserve attempts per caller key. Optional: a nil
// limiter admits everything.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type Config struct {
	ReservationTTL time.Duration
}

// Service is the reservation engine: it owns the ticket state machine
// (available -> reserved -> sold | available) and broadcasts every
// successful transition batch. All contention is resolved by the store's
// atomic conditional updates, per ticket, with no global lock.
type Service struct {
	store    TicketStore
	notifier Notifier
	cache    *redisrepo.Cache
	limiter  RateLimiter
	cfg      Config

	now func() time.Time
}

func New(
	store TicketStore,
	notifier Notifier,
	cache *redisrepo.Cache,
	limiter RateLimiter,
	cfg Config,
) *Service {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 24 * time.Hour
	}

	return &Service{
		store:    store,
		notifier: notifier,
		cache:    cache,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Reserve atomically claims every requested ticket for ownerID.
//
// All-or-nothing: if any requested ticket is not currently available the
// whole request fails, every ticket provisionally claimed by this attempt
// is rolled back, and the numbers that could not be claimed are returned.
// The rollback is conditional on this attempt's ownership, so it can never
// undo a reservation some other caller landed in the meantime.
//
// Returns:
//   - []int: the unavailable numbers when the claim fails.
//   - error: reservation.ErrTicketsUnavailable on contention,
//     reservation.ErrTicketNotFound for numbers outside the pool,
//     reservation.ErrRateLimited when the caller is over quota.
func (s *Service) Reserve(
	ctx context.Context,
	ownerID string,
	numbers []int,
	rlKey string,
) ([]int, error) {
	const op = "service.reservation.Reserve"

	numbers = uniqueInts(numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoTicketsSelected)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%s: missing owner id", op)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, _, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w", op, ErrRateLimited)
		}
	}

	if err := s.ensureExist(ctx, op, numbers); err != nil {
		return nil, err
	}

	claimed, err := s.store.BulkTransition(
		ctx, numbers, domain.TicketAvailable, domain.TicketReserved, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(claimed) != len(numbers) {
		// Unwind this attempt's partial claims. Conditional on our own
		// ownership: a ticket that already expired and was re-reserved by
		// someone else stays with its new owner.
		if _, rbErr := s.store.BulkTransition(
			ctx, claimed, domain.TicketReserved, domain.TicketAvailable, ownerID,
		); rbErr != nil {
			return nil, fmt.Errorf("%s: rollback: %w", op, rbErr)
		}

		return diffInts(numbers, claimed), fmt.Errorf("%s:%w", op, ErrTicketsUnavailable)
	}

	s.afterMutation(ctx, domain.EventReserved, claimed)

	return nil, nil
}

// Confirm transitions tickets reserved by ownerID to sold.
//
// The reserved-by-owner check and the transition are one conditional
// update per ticket; a ticket that expired or was never held by ownerID is
// reported in the rejected slice with status unchanged. Tickets that do
// transition are final: sold is a terminal state and is never rolled back.
//
// Returns:
//   - []int: the numbers that could not be confirmed, when any.
//   - error: reservation.ErrConfirmRejected alongside a non-empty rejected
//     slice, reservation.ErrTicketNotFound for unknown numbers.
func (s *Service) Confirm(
	ctx context.Context,
	ownerID string,
	numbers []int,
) ([]int, error) {
	const op = "service.reservation.Confirm"

	numbers = uniqueInts(numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoTicketsSelected)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%s: missing owner id", op)
	}

	// Cheap pre-check so the common failure (someone else holds a ticket,
	// or the reservation expired) rejects the request before anything is
	// sold. A race between this check and the update below still surfaces
	// precisely in the rejected slice.
	current, err := s.store.FindByNumbers(ctx, numbers)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(current) != len(numbers) {
		found := make([]int, 0, len(current))
		for _, t := range current {
			found = append(found, t.Number)
		}
		return nil, fmt.Errorf("%s:%w", op, TicketsNotFoundError{Numbers: diffInts(numbers, found)})
	}

	var rejected []int
	for _, t := range current {
		if t.Status != domain.TicketReserved || t.OwnerID != ownerID {
			rejected = append(rejected, t.Number)
		}
	}
	if len(rejected) > 0 {
		return rejected, fmt.Errorf("%s:%w", op, ErrConfirmRejected)
	}

	confirmed, err := s.store.BulkTransition(
		ctx, numbers, domain.TicketReserved, domain.TicketSold, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(confirmed) > 0 {
		s.afterMutation(ctx, domain.EventSold, confirmed)
	}

	if len(confirmed) != len(numbers) {
		return diffInts(numbers, confirmed), fmt.Errorf("%s:%w", op, ErrConfirmRejected)
	}

	return nil, nil
}

// Release transitions reserved tickets back to available. Used by explicit
// cancellation and by the expiry sweep.
//
// When expectedOwner is non-empty only tickets currently held by that owner
// are released, which protects a newer reservation from being undone by a
// stale release. Releasing an already-available ticket is a no-op: no
// error, no event.
//
// Returns:
//   - []int: the numbers actually released.
func (s *Service) Release(
	ctx context.Context,
	numbers []int,
	expectedOwner string,
) ([]int, error) {
	const op = "service.reservation.Release"

	numbers = uniqueInts(numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoTicketsSelected)
	}

	if err := s.ensureExist(ctx, op, numbers); err != nil {
		return nil, err
	}

	released, err := s.store.BulkTransition(
		ctx, numbers, domain.TicketReserved, domain.TicketAvailable, expectedOwner,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(released) > 0 {
		s.afterMutation(ctx, domain.EventReleased, released)
	}

	return released, nil
}

// CheckAvailability returns the current ticket records for the given
// numbers. Read-only, used to pre-validate a selection before prompting
// for payment details.
func (s *Service) CheckAvailability(ctx context.Context, numbers []int) ([]domain.Ticket, error) {
	const op = "service.reservation.CheckAvailability"

	numbers = uniqueInts(numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoTicketsSelected)
	}

	tickets, err := s.store.FindByNumbers(ctx, numbers)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(tickets) != len(numbers) {
		found := make([]int, 0, len(tickets))
		for _, t := range tickets {
			found = append(found, t.Number)
		}
		return nil, fmt.Errorf("%s:%w", op, TicketsNotFoundError{Numbers: diffInts(numbers, found)})
	}

	return tickets, nil
}

// ListTickets returns the full ticket pool for initial page load and
// observer resync.
func (s *Service) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	const op = "service.reservation.ListTickets"

	tickets, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tickets, nil
}

// ExpireStale releases every ticket whose reservation is older than the
// configured TTL. Each release is conditional on the owner observed at
// scan time, so a reservation that raced in between scan and release is
// left alone. One released event is emitted for the numbers that actually
// moved; a failure on one ticket is collected and the sweep continues.
func (s *Service) ExpireStale(ctx context.Context) ([]int, error) {
	const op = "service.reservation.ExpireStale"

	cutoff := s.now().Add(-s.cfg.ReservationTTL)

	stale, err := s.store.FindReservedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var released []int
	var errs []error
	for _, t := range stale {
		ok, err := s.store.TryTransition(
			ctx, t.Number, domain.TicketReserved, domain.TicketAvailable, t.OwnerID,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %d: %w", t.Number, err))
			continue
		}
		if ok {
			released = append(released, t.Number)
		}
	}

	if len(released) > 0 {
		s.afterMutation(ctx, domain.EventReleased, released)
	}

	if len(errs) > 0 {
		return released, fmt.Errorf("%s:%w", op, errors.Join(errs...))
	}

	return released, nil
}

func (s *Service) afterMutation(ctx context.Context, typ domain.EventType, numbers []int) {
	if s.cache != nil {
		_ = s.cache.InvalidateTickets(ctx)
	}

	_ = s.notifier.Publish(ctx, domain.TicketEvent{
		Type:    typ,
		Tickets: numbers,
		TsUnix:  s.now().Unix(),
	})
}

func (s *Service) ensureExist(ctx context.Context, op string, numbers []int) error {
	existing, err := s.store.FindByNumbers(ctx, numbers)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if len(existing) != len(numbers) {
		found := make([]int, 0, len(existing))
		for _, t := range existing {
			found = append(found, t.Number)
		}
		return fmt.Errorf("%s:%w", op, TicketsNotFoundError{Numbers: diffInts(numbers, found)})
	}

	return nil
}

func uniqueInts(in []int) []int {
	if len(in) < 2 {
		return in
	}

	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	return out
}

func diffInts(all, subset []int) []int {
	in := make(map[int]struct{}, len(subset))
	for _, n := range subset {
		in[n] = struct{}{}
	}

	var out []int
	for _, n := range all {
		if _, ok := in[n]; !ok {
			out = append(out, n)
		}
	}

	return out
}
