package admin

import "errors"

var (
	ErrInvalidRaffle  = errors.New("invalid raffle parameters")
	ErrRaffleNotFound = errors.New("raffle not found")
	ErrRaffleConflict = errors.New("conflict creating raffle")
)
