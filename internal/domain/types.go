package domain

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketReserved  TicketStatus = "reserved"
	TicketSold      TicketStatus = "sold"
)

// Ticket is one sellable unit of the active raffle. ReservedAt and
// OwnerID are set only while Status is reserved; a sold ticket carries
// neither (purchase history lives with the payment collaborator).
type Ticket struct {
	Number     int          `json:"ticket_number"`
	Status     TicketStatus `json:"status"`
	ReservedAt *time.Time   `json:"reserved_at,omitempty"`
	OwnerID    string       `json:"owner_id,omitempty"`
}

type Raffle struct {
	ID           uuid.UUID `json:"id"`
	ProductName  string    `json:"product_name"`
	PriceCents   int64     `json:"price_cents"`
	TotalTickets int       `json:"total_tickets"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// TicketCounts is derived from ticket rows, never stored denormalized.
// Available + Reserved + Sold == Total for a consistent snapshot.
type TicketCounts struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Sold      int64 `json:"sold"`
	Total     int64 `json:"total"`
}

type RaffleWithCounts struct {
	Raffle
	Counts TicketCounts `json:"counts"`
}

type EventType string

const (
	EventReserved EventType = "reserved"
	EventReleased EventType = "released"
	EventSold     EventType = "sold"
)

// TicketEvent is broadcast to all subscribed observers after a successful
// store mutation. Delivery is best-effort; observers resync with a full
// ticket list on (re)connect.
type TicketEvent struct {
	Type    EventType `json:"type"`
	Tickets []int     `json:"tickets"`
	TsUnix  int64     `json:"ts_unix"`
}
