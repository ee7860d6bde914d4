package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinxlo/rpv3/internal/domain"
	memoryrepo "github.com/jinxlo/rpv3/internal/repository/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.TicketEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev domain.TicketEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []domain.TicketEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.TicketEvent, len(n.events))
	copy(out, n.events)
	return out
}

func (n *recordingNotifier) ByType(typ domain.EventType) []domain.TicketEvent {
	var out []domain.TicketEvent
	for _, ev := range n.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService(t *testing.T, totalTickets int) (*Service, *memoryrepo.TicketStore, *recordingNotifier) {
	t.Helper()

	store := memoryrepo.NewTicketStore()

	tickets := make([]domain.Ticket, 0, totalTickets)
	for n := 1; n <= totalTickets; n++ {
		tickets = append(tickets, domain.Ticket{Number: n, Status: domain.TicketAvailable})
	}
	require.NoError(t, store.BulkInsert(context.Background(), tickets))

	notifier := &recordingNotifier{}
	svc := New(store, notifier, nil, nil, Config{ReservationTTL: 24 * time.Hour})

	return svc, store, notifier
}

// hookedStore runs a one-shot hook right before the next BulkTransition,
// opening the window between a read and the conditional update.
type hookedStore struct {
	*memoryrepo.TicketStore
	beforeBulk func()
}

func (h *hookedStore) BulkTransition(
	ctx context.Context,
	numbers []int,
	expected, next domain.TicketStatus,
	owner string,
) ([]int, error) {
	if h.beforeBulk != nil {
		hook := h.beforeBulk
		h.beforeBulk = nil
		hook()
	}
	return h.TicketStore.BulkTransition(ctx, numbers, expected, next, owner)
}

// denyLimiter rejects every keyed attempt.
type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, int64, time.Duration, error) {
	return false, 11, 30 * time.Second, nil
}

// faultyStore fails TryTransition for one ticket number.
type faultyStore struct {
	*memoryrepo.TicketStore
	failNumber int
}

func (f *faultyStore) TryTransition(
	ctx context.Context,
	number int,
	expected, next domain.TicketStatus,
	owner string,
) (bool, error) {
	if number == f.failNumber {
		return false, errors.New("connection reset by peer")
	}
	return f.TicketStore.TryTransition(ctx, number, expected, next, owner)
}

func statusOf(t *testing.T, store *memoryrepo.TicketStore, number int) domain.Ticket {
	t.Helper()

	tickets, err := store.FindByNumbers(context.Background(), []int{number})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	return tickets[0]
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("claims all requested tickets", func(t *testing.T) {
		svc, store, notifier := newTestService(t, 5)

		unavailable, err := svc.Reserve(ctx, "alice", []int{1, 2, 3}, "")
		require.NoError(t, err)
		assert.Empty(t, unavailable)

		for _, n := range []int{1, 2, 3} {
			tk := statusOf(t, store, n)
			assert.Equal(t, domain.TicketReserved, tk.Status)
			assert.Equal(t, "alice", tk.OwnerID)
			assert.NotNil(t, tk.ReservedAt)
		}

		events := notifier.ByType(domain.EventReserved)
		require.Len(t, events, 1)
		assert.Equal(t, []int{1, 2, 3}, events[0].Tickets)
	})

	t.Run("all-or-nothing with full rollback", func(t *testing.T) {
		svc, store, notifier := newTestService(t, 6)

		_, err := svc.Reserve(ctx, "alice", []int{6}, "")
		require.NoError(t, err)

		unavailable, err := svc.Reserve(ctx, "bob", []int{5, 6}, "")
		require.ErrorIs(t, err, ErrTicketsUnavailable)
		assert.Equal(t, []int{6}, unavailable)

		// 5 was provisionally claimed and must be rolled back
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 5).Status)
		assert.Equal(t, "alice", statusOf(t, store, 6).OwnerID)

		// the failed attempt publishes nothing
		require.Len(t, notifier.ByType(domain.EventReserved), 1)
	})

	t.Run("unknown ticket number", func(t *testing.T) {
		svc, _, _ := newTestService(t, 3)

		_, err := svc.Reserve(ctx, "alice", []int{2, 99}, "")
		require.ErrorIs(t, err, ErrTicketNotFound)

		var notFound TicketsNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, []int{99}, notFound.Numbers)
	})

	t.Run("empty selection", func(t *testing.T) {
		svc, _, _ := newTestService(t, 3)

		_, err := svc.Reserve(ctx, "alice", nil, "")
		require.ErrorIs(t, err, ErrNoTicketsSelected)
	})

	t.Run("over quota", func(t *testing.T) {
		svc, store, notifier := newTestService(t, 3)
		svc.limiter = denyLimiter{}

		_, err := svc.Reserve(ctx, "alice", []int{1}, "ip:203.0.113.7")
		require.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)
		assert.Empty(t, notifier.Events())

		// internal callers pass no key and bypass the limiter
		_, err = svc.Reserve(ctx, "alice", []int{1}, "")
		require.NoError(t, err)
	})
}

func TestReserveConcurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("disjoint sets never contend", func(t *testing.T) {
		const buyers = 10
		const perBuyer = 5

		svc, _, _ := newTestService(t, buyers*perBuyer)

		var wg sync.WaitGroup
		errs := make([]error, buyers)

		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				numbers := make([]int, 0, perBuyer)
				for n := i*perBuyer + 1; n <= (i+1)*perBuyer; n++ {
					numbers = append(numbers, n)
				}
				_, errs[i] = svc.Reserve(ctx, string(rune('a'+i)), numbers, "")
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			assert.NoError(t, err, "buyer %d", i)
		}
	})

	t.Run("overlapping sets produce one winner", func(t *testing.T) {
		const buyers = 16

		svc, store, _ := newTestService(t, 10)

		var wg sync.WaitGroup
		errs := make([]error, buyers)

		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Reserve(ctx, string(rune('a'+i)), []int{7}, "")
			}(i)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
			} else {
				require.ErrorIs(t, err, ErrTicketsUnavailable)
			}
		}
		assert.Equal(t, 1, won)

		tk := statusOf(t, store, 7)
		assert.Equal(t, domain.TicketReserved, tk.Status)
		assert.NotEmpty(t, tk.OwnerID)
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("sold clears owner and reservation time", func(t *testing.T) {
		svc, store, notifier := newTestService(t, 3)

		_, err := svc.Reserve(ctx, "alice", []int{1, 2}, "")
		require.NoError(t, err)

		rejected, err := svc.Confirm(ctx, "alice", []int{1, 2})
		require.NoError(t, err)
		assert.Empty(t, rejected)

		for _, n := range []int{1, 2} {
			tk := statusOf(t, store, n)
			assert.Equal(t, domain.TicketSold, tk.Status)
			assert.Empty(t, tk.OwnerID)
			assert.Nil(t, tk.ReservedAt)
		}

		events := notifier.ByType(domain.EventSold)
		require.Len(t, events, 1)
		assert.Equal(t, []int{1, 2}, events[0].Tickets)
	})

	t.Run("rejected for a different owner", func(t *testing.T) {
		svc, store, _ := newTestService(t, 3)

		_, err := svc.Reserve(ctx, "alice", []int{1}, "")
		require.NoError(t, err)

		rejected, err := svc.Confirm(ctx, "bob", []int{1})
		require.ErrorIs(t, err, ErrConfirmRejected)
		assert.Equal(t, []int{1}, rejected)

		tk := statusOf(t, store, 1)
		assert.Equal(t, domain.TicketReserved, tk.Status)
		assert.Equal(t, "alice", tk.OwnerID)
	})

	t.Run("rejected when never reserved", func(t *testing.T) {
		svc, store, _ := newTestService(t, 3)

		rejected, err := svc.Confirm(ctx, "alice", []int{1})
		require.ErrorIs(t, err, ErrConfirmRejected)
		assert.Equal(t, []int{1}, rejected)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)
	})

	t.Run("reservation lost between check and update", func(t *testing.T) {
		store := memoryrepo.NewTicketStore()
		tickets := make([]domain.Ticket, 0, 3)
		for n := 1; n <= 3; n++ {
			tickets = append(tickets, domain.Ticket{Number: n, Status: domain.TicketAvailable})
		}
		require.NoError(t, store.BulkInsert(ctx, tickets))

		hooked := &hookedStore{TicketStore: store}
		notifier := &recordingNotifier{}
		svc := New(hooked, notifier, nil, nil, Config{ReservationTTL: 24 * time.Hour})

		_, err := svc.Reserve(ctx, "alice", []int{1, 2, 3}, "")
		require.NoError(t, err)

		// ticket 2 expires and is re-reserved by bob after the pre-check
		// has already seen it as alice's
		hooked.beforeBulk = func() {
			ok, err := store.TryTransition(ctx, 2, domain.TicketReserved, domain.TicketAvailable, "alice")
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = store.TryTransition(ctx, 2, domain.TicketAvailable, domain.TicketReserved, "bob")
			require.NoError(t, err)
			require.True(t, ok)
		}

		rejected, err := svc.Confirm(ctx, "alice", []int{1, 2, 3})
		require.ErrorIs(t, err, ErrConfirmRejected)
		assert.Equal(t, []int{2}, rejected)

		// the confirmed subset is final, the lost ticket stays with bob
		assert.Equal(t, domain.TicketSold, statusOf(t, store, 1).Status)
		assert.Equal(t, domain.TicketSold, statusOf(t, store, 3).Status)
		tk := statusOf(t, store, 2)
		assert.Equal(t, domain.TicketReserved, tk.Status)
		assert.Equal(t, "bob", tk.OwnerID)

		events := notifier.ByType(domain.EventSold)
		require.Len(t, events, 1)
		assert.Equal(t, []int{1, 3}, events[0].Tickets)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("releasing an available ticket is a no-op", func(t *testing.T) {
		svc, store, notifier := newTestService(t, 3)

		released, err := svc.Release(ctx, []int{1}, "")
		require.NoError(t, err)
		assert.Empty(t, released)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)
		assert.Empty(t, notifier.Events())
	})

	t.Run("expected owner guards newer reservations", func(t *testing.T) {
		svc, store, _ := newTestService(t, 3)

		_, err := svc.Reserve(ctx, "alice", []int{1}, "")
		require.NoError(t, err)

		released, err := svc.Release(ctx, []int{1}, "bob")
		require.NoError(t, err)
		assert.Empty(t, released)
		assert.Equal(t, "alice", statusOf(t, store, 1).OwnerID)

		released, err = svc.Release(ctx, []int{1}, "alice")
		require.NoError(t, err)
		assert.Equal(t, []int{1}, released)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)
	})
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (*Service, *memoryrepo.TicketStore, *recordingNotifier) {
		svc, store, notifier := newTestService(t, 5)
		store.Now = func() time.Time { return base }
		return svc, store, notifier
	}

	t.Run("keeps reservations younger than the TTL", func(t *testing.T) {
		svc, store, _ := setup(t)

		_, err := svc.Reserve(ctx, "alice", []int{1}, "")
		require.NoError(t, err)

		svc.now = func() time.Time { return base.Add(23*time.Hour + 59*time.Minute) }

		released, err := svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Empty(t, released)
		assert.Equal(t, domain.TicketReserved, statusOf(t, store, 1).Status)
	})

	t.Run("releases past the TTL exactly once", func(t *testing.T) {
		svc, store, notifier := setup(t)

		_, err := svc.Reserve(ctx, "alice", []int{1, 2}, "")
		require.NoError(t, err)

		svc.now = func() time.Time { return base.Add(24*time.Hour + time.Minute) }

		released, err := svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, released)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)

		// one batch event listing only what was actually released
		events := notifier.ByType(domain.EventReleased)
		require.Len(t, events, 1)
		assert.Equal(t, []int{1, 2}, events[0].Tickets)

		// a second sweep finds nothing
		released, err = svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Empty(t, released)
		require.Len(t, notifier.ByType(domain.EventReleased), 1)
	})

	t.Run("one failing ticket does not abort the sweep", func(t *testing.T) {
		store := memoryrepo.NewTicketStore()
		store.Now = func() time.Time { return base }
		tickets := make([]domain.Ticket, 0, 3)
		for n := 1; n <= 3; n++ {
			tickets = append(tickets, domain.Ticket{Number: n, Status: domain.TicketAvailable})
		}
		require.NoError(t, store.BulkInsert(ctx, tickets))

		faulty := &faultyStore{TicketStore: store, failNumber: 2}
		notifier := &recordingNotifier{}
		svc := New(faulty, notifier, nil, nil, Config{ReservationTTL: 24 * time.Hour})

		_, err := svc.Reserve(ctx, "alice", []int{1, 2, 3}, "")
		require.NoError(t, err)

		svc.now = func() time.Time { return base.Add(24*time.Hour + time.Minute) }

		released, err := svc.ExpireStale(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "ticket 2")

		// the healthy tickets are still released and announced
		assert.Equal(t, []int{1, 3}, released)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 1).Status)
		assert.Equal(t, domain.TicketAvailable, statusOf(t, store, 3).Status)
		assert.Equal(t, domain.TicketReserved, statusOf(t, store, 2).Status)

		events := notifier.ByType(domain.EventReleased)
		require.Len(t, events, 1)
		assert.Equal(t, []int{1, 3}, events[0].Tickets)
	})

	t.Run("skips tickets re-reserved after the scan window", func(t *testing.T) {
		svc, store, _ := setup(t)

		_, err := svc.Reserve(ctx, "alice", []int{1}, "")
		require.NoError(t, err)

		// bob re-reserves inside the window: fresh reservation, new owner
		store.Now = func() time.Time { return base.Add(24 * time.Hour) }
		_, err = svc.Release(ctx, []int{1}, "alice")
		require.NoError(t, err)
		_, err = svc.Reserve(ctx, "bob", []int{1}, "")
		require.NoError(t, err)

		svc.now = func() time.Time { return base.Add(24*time.Hour + time.Minute) }

		released, err := svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Empty(t, released)
		assert.Equal(t, "bob", statusOf(t, store, 1).OwnerID)
	})
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestService(t, 3)

	_, err := svc.Reserve(ctx, "alice", []int{1, 2}, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "alice", []int{1, 2})
	require.NoError(t, err)

	tickets, err := svc.CheckAvailability(ctx, []int{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, domain.TicketSold, tickets[0].Status)
	assert.Equal(t, domain.TicketSold, tickets[1].Status)
	assert.Equal(t, domain.TicketAvailable, tickets[2].Status)

	_, err = svc.CheckAvailability(ctx, []int{4})
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()

	svc, _, notifier := newTestService(t, 3)

	unavailable, err := svc.Reserve(ctx, "alice", []int{1, 2}, "")
	require.NoError(t, err)
	assert.Empty(t, unavailable)

	unavailable, err = svc.Reserve(ctx, "bob", []int{2, 3}, "")
	require.ErrorIs(t, err, ErrTicketsUnavailable)
	assert.Equal(t, []int{2}, unavailable)

	rejected, err := svc.Confirm(ctx, "alice", []int{1, 2})
	require.NoError(t, err)
	assert.Empty(t, rejected)

	tickets, err := svc.CheckAvailability(ctx, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketSold, tickets[0].Status)
	assert.Equal(t, domain.TicketSold, tickets[1].Status)
	assert.Equal(t, domain.TicketAvailable, tickets[2].Status)

	// ticket 3 never left available, so bob's failed attempt left no trace
	require.Len(t, notifier.ByType(domain.EventReserved), 1)
	require.Len(t, notifier.ByType(domain.EventSold), 1)
}
