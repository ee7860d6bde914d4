package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
	"github.com/jinxlo/rpv3/internal/service"
	"github.com/jinxlo/rpv3/internal/service/admin"
	"github.com/jinxlo/rpv3/internal/service/query"
	"github.com/jinxlo/rpv3/internal/service/reservation"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// IdempotencyStore replays a stored reserve response for a retried
// Idempotency-Key and serializes concurrent first attempts behind a short
// lock. Optional: a nil store disables the whole flow.
type IdempotencyStore interface {
	GetResult(ctx context.Context, key string) (string, bool, error)
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	Release(ctx context.Context, key string) error
}

func NewRouter(
	svcs *service.Services,
	idem IdempotencyStore,
	pubsub *redisrepo.TicketEventsPubSub,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/tickets", handleListTickets(svcs))
	r.POST("/tickets/reserve", handleReserve(svcs, idem))
	r.POST("/tickets/confirm", handleConfirm(svcs))
	r.POST("/tickets/release", handleRelease(svcs))
	r.POST("/tickets/check", handleCheck(svcs))

	r.GET("/raffle", handleActiveRaffle(svcs))

	if pubsub != nil {
		r.GET("/events", handleEvents(pubsub))
	}

	// Admin API
	// TODO: add admin auth middleware once the auth collaborator lands
	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/raffles", handleCreateRaffle(svcs))
		adminGroup.GET("/raffles", handleListRaffles(svcs))
		adminGroup.POST("/raffles/:id/close", handleCloseRaffle(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List all tickets of the active pool
// @Success  200  {array}  domain.Ticket
// @Router   /tickets [get]
func handleListTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tickets, err := svcs.Query.ListTickets(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, tickets, "public, max-age=5")
	}
}

// @Summary  Reserve tickets (all-or-nothing, idempotent)
// @Param    req body  ReserveRequest true "payload"
// @Success  201 {object} ReserveResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "unknown ticket number"
// @Failure  409 {object} UnavailableResponse "some tickets unavailable"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /tickets/reserve [post]
func handleReserve(
	svcs *service.Services,
	idem IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemReserve(idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		unavailable, err := svcs.Reservation.Reserve(
			c.Request.Context(),
			req.UserID,
			req.Tickets,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if errors.Is(err, reservation.ErrTicketsUnavailable) {
				c.JSON(http.StatusConflict, UnavailableResponse{
					Error:       "some tickets are unavailable",
					Unavailable: unavailable,
				})
				return
			}
			respondErr(c, err)
			return
		}

		resp := ReserveResponse{Success: true, Tickets: req.Tickets}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Confirm reserved tickets as sold
// @Param    req body  ConfirmRequest true "payload"
// @Success  200 {object} ConfirmResponse
// @Failure  409 {object} RejectedResponse "tickets not reserved by this owner"
// @Router   /tickets/confirm [post]
func handleConfirm(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		rejected, err := svcs.Reservation.Confirm(
			c.Request.Context(),
			req.UserID,
			req.Tickets,
		)
		if err != nil {
			if errors.Is(err, reservation.ErrConfirmRejected) {
				c.JSON(http.StatusConflict, RejectedResponse{
					Error:    "some tickets are not reserved by this user",
					Rejected: rejected,
				})
				return
			}
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ConfirmResponse{Success: true, Tickets: req.Tickets})
	}
}

// @Summary  Release reserved tickets
// @Param    req body  ReleaseRequest true "payload"
// @Success  200 {object} ReleaseResponse
// @Router   /tickets/release [post]
func handleRelease(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReleaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		released, err := svcs.Reservation.Release(
			c.Request.Context(),
			req.Tickets,
			req.UserID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ReleaseResponse{Released: released})
	}
}

// @Summary  Check availability of a ticket selection
// @Param    req body  CheckRequest true "payload"
// @Success  200 {object} CheckResponse
// @Failure  404 {object} ErrorResponse "unknown ticket number"
// @Router   /tickets/check [post]
func handleCheck(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		tickets, err := svcs.Reservation.CheckAvailability(c.Request.Context(), req.Tickets)
		if err != nil {
			respondErr(c, err)
			return
		}

		out := CheckResponse{Tickets: make([]TicketStatusEntry, 0, len(tickets))}
		for _, t := range tickets {
			out.Tickets = append(out.Tickets, TicketStatusEntry{
				TicketNumber: t.Number,
				Status:       string(t.Status),
			})
		}

		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get the active raffle with ticket counters
// @Success  200 {object} domain.RaffleWithCounts
// @Failure  404 {object} ErrorResponse
// @Router   /raffle [get]
func handleActiveRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffle, err := svcs.Query.ActiveRaffle(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, raffle, "public, max-age=15")
	}
}

// @Summary  Create a raffle and enumerate its ticket pool
// @Param    req body  CreateRaffleRequest true "payload"
// @Success  201 {object} domain.Raffle
// @Failure  409 {object} ErrorResponse
// @Router   /admin/raffles [post]
func handleCreateRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRaffleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		raffle, err := svcs.Admin.CreateRaffle(
			c.Request.Context(),
			req.ProductName,
			req.PriceCents,
			req.TotalTickets,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, raffle)
	}
}

// @Summary  List all raffles
// @Success  200 {array} domain.Raffle
// @Router   /admin/raffles [get]
func handleListRaffles(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffles, err := svcs.Admin.ListRaffles(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, raffles)
	}
}

// @Summary  Close (deactivate) a raffle
// @Param    id  path  string  true  "Raffle ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Router   /admin/raffles/{id}/close [post]
func handleCloseRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid raffle id")
			return
		}

		if err := svcs.Admin.CloseRaffle(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// reservation service
	case errors.Is(err, reservation.ErrNoTicketsSelected):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no tickets selected"})
		return
	case errors.Is(err, reservation.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
		return
	case errors.Is(err, reservation.ErrTicketsUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "some tickets are unavailable"})
		return
	case errors.Is(err, reservation.ErrConfirmRejected):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "some tickets are not reserved by this user"})
		return
	case errors.Is(err, reservation.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	// query service
	case errors.Is(err, query.ErrNoActiveRaffle):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no active raffle"})
		return
	// admin service
	case errors.Is(err, admin.ErrInvalidRaffle):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid raffle parameters"})
		return
	case errors.Is(err, admin.ErrRaffleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "raffle not found"})
		return
	case errors.Is(err, admin.ErrRaffleConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "raffle conflict"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
