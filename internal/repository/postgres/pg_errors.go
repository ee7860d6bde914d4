package postgresrepo

import (
	"errors"

	"github.com/jackc/pgconn"
)

// IsRetryable reports whether the error is a transient serialization or
// deadlock failure worth retrying at the call site.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}
