package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jinxlo/rpv3/internal/domain"
	"github.com/redis/go-redis/v9"
)

// TicketEventsPubSub broadcasts ticket state changes to every subscribed
// observer. It holds no state of its own: delivery is best-effort,
// at-most-once, and a disconnected observer catches up with a full ticket
// list on reconnect.
type TicketEventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketEventsPubSub(rdb *redis.Client) *TicketEventsPubSub {
	return &TicketEventsPubSub{
		rdb:     rdb,
		channel: ChannelTicketEvents(),
	}
}

func (p *TicketEventsPubSub) Publish(ctx context.Context, ev domain.TicketEvent) error {
	if ev.TsUnix == 0 {
		ev.TsUnix = time.Now().Unix()
	}

	b, _ := json.Marshal(ev)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *TicketEventsPubSub) Subscribe(
	ctx context.Context,
	handler func(ctx context.Context, ev domain.TicketEvent),
) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.TicketEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.Type != "" && len(ev.Tickets) > 0 {
				handler(ctx, ev)
			}
		}
	}
}
