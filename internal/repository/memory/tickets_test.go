package memoryrepo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinxlo/rpv3/internal/domain"
)

func seedStore(t *testing.T, total int) *TicketStore {
	t.Helper()

	store := NewTicketStore()

	tickets := make([]domain.Ticket, 0, total)
	for n := 1; n <= total; n++ {
		tickets = append(tickets, domain.Ticket{Number: n, Status: domain.TicketAvailable})
	}
	require.NoError(t, store.BulkInsert(context.Background(), tickets))

	return store
}

func TestTryTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("moves a matching ticket and stamps the reservation", func(t *testing.T) {
		store := seedStore(t, 3)

		ok, err := store.TryTransition(ctx, 1, domain.TicketAvailable, domain.TicketReserved, "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		tickets, err := store.FindByNumbers(ctx, []int{1})
		require.NoError(t, err)
		require.Len(t, tickets, 1)
		assert.Equal(t, domain.TicketReserved, tickets[0].Status)
		assert.Equal(t, "alice", tickets[0].OwnerID)
		assert.NotNil(t, tickets[0].ReservedAt)
	})

	t.Run("fails a stale precondition without error", func(t *testing.T) {
		store := seedStore(t, 3)

		ok, err := store.TryTransition(ctx, 1, domain.TicketReserved, domain.TicketSold, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("enforces the expected owner on reserved tickets", func(t *testing.T) {
		store := seedStore(t, 3)

		_, err := store.TryTransition(ctx, 1, domain.TicketAvailable, domain.TicketReserved, "alice")
		require.NoError(t, err)

		ok, err := store.TryTransition(ctx, 1, domain.TicketReserved, domain.TicketSold, "bob")
		require.NoError(t, err)
		assert.False(t, ok)

		// empty owner matches any holder
		ok, err = store.TryTransition(ctx, 1, domain.TicketReserved, domain.TicketAvailable, "")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown ticket is a failed precondition", func(t *testing.T) {
		store := seedStore(t, 3)

		ok, err := store.TryTransition(ctx, 42, domain.TicketAvailable, domain.TicketReserved, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exactly one concurrent claimer wins", func(t *testing.T) {
		store := seedStore(t, 1)

		const claimers = 32

		var wg sync.WaitGroup
		wins := make([]bool, claimers)

		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := store.TryTransition(
					ctx, 1, domain.TicketAvailable, domain.TicketReserved, string(rune('a'+i)),
				)
				require.NoError(t, err)
				wins[i] = ok
			}(i)
		}
		wg.Wait()

		won := 0
		for _, ok := range wins {
			if ok {
				won++
			}
		}
		assert.Equal(t, 1, won)
	})
}

func TestBulkTransition(t *testing.T) {
	ctx := context.Background()

	store := seedStore(t, 5)

	_, err := store.TryTransition(ctx, 3, domain.TicketAvailable, domain.TicketReserved, "alice")
	require.NoError(t, err)

	moved, err := store.BulkTransition(
		ctx, []int{1, 2, 3}, domain.TicketAvailable, domain.TicketReserved, "bob",
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, moved)
}

func TestFindReservedBefore(t *testing.T) {
	ctx := context.Background()

	store := seedStore(t, 3)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return base }

	_, err := store.TryTransition(ctx, 1, domain.TicketAvailable, domain.TicketReserved, "alice")
	require.NoError(t, err)

	store.Now = func() time.Time { return base.Add(time.Hour) }
	_, err = store.TryTransition(ctx, 2, domain.TicketAvailable, domain.TicketReserved, "bob")
	require.NoError(t, err)

	stale, err := store.FindReservedBefore(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, 1, stale[0].Number)
}

func TestFindByStatus(t *testing.T) {
	ctx := context.Background()

	store := seedStore(t, 4)

	_, err := store.TryTransition(ctx, 2, domain.TicketAvailable, domain.TicketReserved, "alice")
	require.NoError(t, err)
	_, err = store.TryTransition(ctx, 4, domain.TicketAvailable, domain.TicketReserved, "alice")
	require.NoError(t, err)
	_, err = store.TryTransition(ctx, 4, domain.TicketReserved, domain.TicketSold, "alice")
	require.NoError(t, err)

	reserved, err := store.FindByStatus(ctx, domain.TicketReserved)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	assert.Equal(t, 2, reserved[0].Number)

	available, err := store.FindByStatus(ctx, domain.TicketAvailable)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, 1, available[0].Number)
	assert.Equal(t, 3, available[1].Number)
}

func TestList(t *testing.T) {
	ctx := context.Background()

	store := seedStore(t, 4)

	tickets, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 4)
	for i, tk := range tickets {
		assert.Equal(t, i+1, tk.Number)
		assert.Equal(t, domain.TicketAvailable, tk.Status)
	}
}
