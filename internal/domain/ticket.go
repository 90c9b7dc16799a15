package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// Valid reports whether the status is a known variant.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Title and description length bounds enforced at creation.
const (
	TitleMinLen       = 3
	TitleMaxLen       = 200
	DescriptionMinLen = 10
	DescriptionMaxLen = 2000
)

// Ticket is the aggregate for support requests. Reads hydrate the
// subcategory chain and the user projections; AssignedTo stays nil
// until the ticket is assigned.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	SubcategoryID string
	CreatedByID   string
	AssignedToID  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Subcategory *Subcategory
	CreatedBy   *UserRef
	AssignedTo  *UserRef
}

// CategoryID resolves the owning category through the subcategory
// chain; empty when the ticket is not hydrated.
func (t *Ticket) CategoryID() string {
	if t.Subcategory == nil {
		return ""
	}
	return t.Subcategory.CategoryID
}
