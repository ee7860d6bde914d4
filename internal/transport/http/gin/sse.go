package httpgin

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jinxlo/rpv3/internal/domain"
	redisrepo "github.com/jinxlo/rpv3/internal/repository/redis"
)

// handleEvents streams ticket state changes to the client as server-sent
// events. Delivery is best-effort: a slow client drops events and is
// expected to resync via GET /tickets, same as any observer that
// reconnects.
//
// @Summary  Subscribe to ticket state-change events (SSE)
// @Produce  text/event-stream
// @Router   /events [get]
func handleEvents(pubsub *redisrepo.TicketEventsPubSub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		events := make(chan domain.TicketEvent, 16)
		go func() {
			defer close(events)
			_ = pubsub.Subscribe(ctx, func(_ context.Context, ev domain.TicketEvent) {
				select {
				case events <- ev:
				default:
					// slow client, drop and let it resync
				}
			})
		}()

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case ev, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent(string(ev.Type), ev)
				return true
			}
		})
	}
}
