package postgresrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jinxlo/rpv3/internal/domain"
)

// TicketRepo persists the ticket pool of the active raffle. Every mutation
// goes through a conditional UPDATE whose WHERE clause carries the expected
// status (and owner, when relevant), so concurrent writers serialize per
// ticket row without any engine-level locking. A loser of such a race sees
// a zero rows-affected result, never an error.
type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// TryTransition atomically moves a single ticket from expected to next.
//
// The owner argument plays both roles of the transition contract: when next
// is reserved it becomes the new owner of the ticket; when expected is
// reserved and owner is non-empty, the update only applies if the ticket is
// currently held by that owner.
//
// Returns:
//   - bool: true when the transition landed, false when another caller won.
//   - error: infrastructure failures only; losing the race is not an error.
func (r *TicketRepo) TryTransition(
	ctx context.Context,
	number int,
	expected, next domain.TicketStatus,
	owner string,
) (bool, error) {
	const op = "postgresrepo.TicketRepo.TryTransition"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE tickets
            SET status = $3,
                owner_id = CASE WHEN $3 = 'reserved' THEN $4 ELSE NULL END,
                reserved_at = CASE WHEN $3 = 'reserved' THEN now() ELSE NULL END
          WHERE ticket_number = $1
            AND status = $2
            AND ($2 <> 'reserved' OR $4 = '' OR owner_id = $4)`,
		number, expected, next, owner,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// BulkTransition applies the same conditional transition to every number in
// one statement and reports which tickets actually moved. Best-effort: rows
// that fail the precondition are simply absent from the result.
func (r *TicketRepo) BulkTransition(
	ctx context.Context,
	numbers []int,
	expected, next domain.TicketStatus,
	owner string,
) ([]int, error) {
	const op = "postgresrepo.TicketRepo.BulkTransition"

	if len(numbers) == 0 {
		return nil, nil
	}

	db := r.handle()

	rows, err := db.Query(ctx,
		`UPDATE tickets
            SET status = $3,
                owner_id = CASE WHEN $3 = 'reserved' THEN $4 ELSE NULL END,
                reserved_at = CASE WHEN $3 = 'reserved' THEN now() ELSE NULL END
          WHERE ticket_number = ANY($1)
            AND status = $2
            AND ($2 <> 'reserved' OR $4 = '' OR owner_id = $4)
          RETURNING ticket_number`,
		numbers, expected, next, owner,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var moved []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, wrapDBErr(op, err)
		}
		moved = append(moved, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return moved, nil
}

// FindByNumbers returns the tickets for the given numbers, in ticket order.
// Missing numbers are simply absent; the caller decides whether that is a
// NotFound condition.
func (r *TicketRepo) FindByNumbers(ctx context.Context, numbers []int) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindByNumbers"

	if len(numbers) == 0 {
		return nil, nil
	}

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT ticket_number, status, reserved_at, owner_id
           FROM tickets
          WHERE ticket_number = ANY($1)
          ORDER BY ticket_number`,
		numbers,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return scanTickets(op, rows)
}

func (r *TicketRepo) FindByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindByStatus"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT ticket_number, status, reserved_at, owner_id
           FROM tickets
          WHERE status = $1
          ORDER BY ticket_number`,
		status,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return scanTickets(op, rows)
}

// FindReservedBefore returns reserved tickets whose reservation is older
// than the cutoff. Used only by the expiry sweep.
func (r *TicketRepo) FindReservedBefore(ctx context.Context, cutoff time.Time) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindReservedBefore"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT ticket_number, status, reserved_at, owner_id
           FROM tickets
          WHERE status = 'reserved' AND reserved_at < $1
          ORDER BY ticket_number`,
		cutoff,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return scanTickets(op, rows)
}

func (r *TicketRepo) List(ctx context.Context) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT ticket_number, status, reserved_at, owner_id
           FROM tickets
          ORDER BY ticket_number`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return scanTickets(op, rows)
}

// BulkInsert creates the ticket pool rows. Called once per raffle, inside
// the raffle-creation transaction.
func (r *TicketRepo) BulkInsert(ctx context.Context, tickets []domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.BulkInsert"

	db := r.handle()

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(ticket_number, status)
             VALUES ($1, $2)`,
			t.Number, t.Status,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// CountsByStatus aggregates the pool in one query so the raffle invariant
// (available + reserved + sold == total) holds for the snapshot returned.
func (r *TicketRepo) CountsByStatus(ctx context.Context) (*domain.TicketCounts, error) {
	const op = "postgresrepo.TicketRepo.CountsByStatus"

	db := r.handle()

	var tc domain.TicketCounts
	err := db.QueryRow(ctx,
		`SELECT
            COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'reserved' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'sold' THEN 1 ELSE 0 END), 0)
          FROM tickets`,
	).Scan(&tc.Available, &tc.Reserved, &tc.Sold)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	tc.Total = tc.Available + tc.Reserved + tc.Sold

	return &tc, nil
}

// DeleteAll drops the superseded ticket pool when a new raffle is activated.
func (r *TicketRepo) DeleteAll(ctx context.Context) error {
	const op = "postgresrepo.TicketRepo.DeleteAll"

	db := r.handle()

	if _, err := db.Exec(ctx, `DELETE FROM tickets`); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func scanTickets(op string, rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var owner *string

		if err := rows.Scan(&t.Number, &t.Status, &t.ReservedAt, &owner); err != nil {
			return nil, wrapDBErr(op, err)
		}

		if owner != nil {
			t.OwnerID = *owner
		}

		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
