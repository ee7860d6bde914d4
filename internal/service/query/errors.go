package query

import "errors"

var (
	ErrNoActiveRaffle = errors.New("no active raffle")
)
