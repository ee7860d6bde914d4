package repository

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrTicketsUnavailable = errors.New("some tickets unavailable")
	ErrNoActiveRaffle     = errors.New("no active raffle")
)
