package service

import (
	postgresrepo "github.com/jinxlo/rpv3/internal/repository/postgres"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
	"github.com/jinxlo/rpv3/internal/service/admin"
	"github.com/jinxlo/rpv3/internal/service/query"
	"github.com/jinxlo/rpv3/internal/service/reservation"
)

type Services struct {
	Reservation *reservation.Service
	Query       *query.Service
	Admin       *admin.Service
}

type Config struct {
	Reservation reservation.Config
	Query       query.Config
}

func NewServices(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.TicketEventsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Services {
	var rl reservation.RateLimiter
	if limiter != nil {
		rl = limiter
	}

	return &Services{
		Reservation: reservation.New(store.Tickets(), pubsub, cache, rl, cfg.Reservation),
		Query:       query.New(store, cache, cfg.Query),
		Admin:       admin.New(store, cache),
	}
}
