package httpgin

type ReserveRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Tickets []int  `json:"tickets" binding:"required,min=1,dive,gt=0"`
}

type ConfirmRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Tickets []int  `json:"tickets" binding:"required,min=1,dive,gt=0"`
}

type ReleaseRequest struct {
	// UserID is optional: when set, only tickets still held by this user
	// are released.
	UserID  string `json:"user_id"`
	Tickets []int  `json:"tickets" binding:"required,min=1,dive,gt=0"`
}

type CheckRequest struct {
	Tickets []int `json:"tickets" binding:"required,min=1,dive,gt=0"`
}

type CreateRaffleRequest struct {
	ProductName  string `json:"product_name" binding:"required"`
	PriceCents   int64  `json:"price_cents" binding:"min=0"`
	TotalTickets int    `json:"total_tickets" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ReserveResponse struct {
	Success bool  `json:"success"`
	Tickets []int `json:"tickets"`
}

type UnavailableResponse struct {
	Error       string `json:"error"`
	Unavailable []int  `json:"unavailable"`
}

type ConfirmResponse struct {
	Success bool  `json:"success"`
	Tickets []int `json:"tickets"`
}

type RejectedResponse struct {
	Error    string `json:"error"`
	Rejected []int  `json:"rejected"`
}

type ReleaseResponse struct {
	Released []int `json:"released"`
}

type TicketStatusEntry struct {
	TicketNumber int    `json:"ticket_number"`
	Status       string `json:"status"`
}

type CheckResponse struct {
	Tickets []TicketStatusEntry `json:"tickets"`
}
