package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrNoTicketsSelected  = errors.New("no tickets selected")
	ErrTicketsUnavailable = errors.New("some tickets are unavailable")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrConfirmRejected    = errors.New("some tickets are not reserved by this owner")
	ErrRateLimited        = errors.New("rate limited")
)

type TicketsNotFoundError struct {
	Numbers []int
}

func (e TicketsNotFoundError) Error() string {
	return fmt.Sprintf("tickets not found: %v", e.Numbers)
}

func (e TicketsNotFoundError) Unwrap() error {
	return ErrTicketNotFound
}
