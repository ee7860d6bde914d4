package postgresrepo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jinxlo/rpv3/internal/domain"
)

type RaffleRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RaffleRepo) With(db DB) *RaffleRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RaffleRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *RaffleRepo) Insert(ctx context.Context, raffle domain.Raffle) error {
	const op = "postgresrepo.RaffleRepo.Insert"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO raffles(id, product_name, price_cents, total_tickets, active)
         VALUES ($1, $2, $3, $4, $5)`,
		raffle.ID, raffle.ProductName, raffle.PriceCents, raffle.TotalTickets, raffle.Active,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// DeactivateAll clears the active flag on every raffle. At most one raffle
// is active, enforced by running this before activating a new one in the
// same transaction.
func (r *RaffleRepo) DeactivateAll(ctx context.Context) error {
	const op = "postgresrepo.RaffleRepo.DeactivateAll"

	db := r.handle()

	if _, err := db.Exec(ctx, `UPDATE raffles SET active = FALSE WHERE active`); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *RaffleRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	const op = "postgresrepo.RaffleRepo.Deactivate"

	db := r.handle()

	tag, err := db.Exec(ctx, `UPDATE raffles SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	return nil
}

// Active returns the currently active raffle.
//
// Returns:
//   - *domain.Raffle: the active raffle when one exists.
//   - error: repository.ErrNotFound when no raffle is active.
func (r *RaffleRepo) Active(ctx context.Context) (*domain.Raffle, error) {
	const op = "postgresrepo.RaffleRepo.Active"

	db := r.handle()

	var rf domain.Raffle
	err := db.QueryRow(ctx,
		`SELECT id, product_name, price_cents, total_tickets, active, created_at
           FROM raffles
          WHERE active
          ORDER BY created_at DESC
          LIMIT 1`,
	).Scan(&rf.ID, &rf.ProductName, &rf.PriceCents, &rf.TotalTickets, &rf.Active, &rf.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &rf, nil
}

func (r *RaffleRepo) List(ctx context.Context) ([]domain.Raffle, error) {
	const op = "postgresrepo.RaffleRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, product_name, price_cents, total_tickets, active, created_at
           FROM raffles
          ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Raffle
	for rows.Next() {
		var rf domain.Raffle
		if err := rows.Scan(
			&rf.ID,
			&rf.ProductName,
			&rf.PriceCents,
			&rf.TotalTickets,
			&rf.Active,
			&rf.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
