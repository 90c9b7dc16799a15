package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tickflow/tickflow/internal/access"
	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/events"
	"github.com/tickflow/tickflow/internal/repository"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// TicketService is the only component that mutates ticket state. It
// applies the access rules and state invariants before every write.
type TicketService struct {
	tickets    repository.TicketRepository
	categories repository.CategoryRepository
	resolver   *access.Resolver
	dispatcher events.Dispatcher
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	CategoryRepo repository.CategoryRepository
	Dispatcher   events.Dispatcher
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:    deps.TicketRepo,
		categories: deps.CategoryRepo,
		resolver:   access.NewResolver(deps.CategoryRepo),
		dispatcher: deps.Dispatcher,
	}
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title         string
	Description   string
	SubcategoryID string
}

// TicketListInput describes listing filters and paging.
type TicketListInput struct {
	Status       *domain.TicketStatus
	AssignedToMe bool
	Page         int
	Limit        int
	SortBy       string
	SortOrder    string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
	HasMore    bool
}

// TicketPage bundles a listing result.
type TicketPage struct {
	Tickets    []domain.Ticket
	Pagination Pagination
}

// TicketStats aggregates scoped ticket counts.
type TicketStats struct {
	OpenCount     int
	ResolvedCount int
}

const maxPageLimit = 100

// CreateTicket validates input, inserts the ticket as OPEN and
// unassigned, and rereads it hydrated. The create-then-reread keeps
// the insert shape decoupled from the join shape.
func (s *TicketService) CreateTicket(ctx context.Context, creatorID string, role domain.Role, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)

	// Bounds are in characters, so multibyte input is counted by rune.
	if n := utf8.RuneCountInString(title); n < domain.TitleMinLen || n > domain.TitleMaxLen {
		return nil, apperrors.NewValidationError("title must be between 3 and 200 characters", nil)
	}
	if n := utf8.RuneCountInString(description); n < domain.DescriptionMinLen || n > domain.DescriptionMaxLen {
		return nil, apperrors.NewValidationError("description must be between 10 and 2000 characters", nil)
	}
	if input.SubcategoryID == "" {
		return nil, apperrors.NewValidationError("subcategory_id required", nil)
	}

	if _, err := s.categories.GetSubcategoryByID(ctx, input.SubcategoryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewValidationError("subcategory does not exist", nil)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusOpen,
		SubcategoryID: input.SubcategoryID,
		CreatedByID:   creatorID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	hydrated, err := s.tickets.GetByID(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: hydrated.ID,
		Actor:    events.Actor{UserID: creatorID, Role: role},
		Payload: events.TicketCreatedPayload{
			SubcategoryID: hydrated.SubcategoryID,
			CategoryID:    hydrated.CategoryID(),
			Title:         hydrated.Title,
		},
	})
	return hydrated, nil
}

// ListTickets returns the page of tickets visible to the caller.
// Role scoping is applied before any caller-chosen filter.
func (s *TicketService) ListTickets(ctx context.Context, userID string, role domain.Role, input TicketListInput) (*TicketPage, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	limit := input.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	filter := repository.TicketFilter{
		Status:    input.Status,
		SortBy:    input.SortBy,
		SortOrder: input.SortOrder,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}

	switch role {
	case domain.RoleUser:
		filter.CreatedByID = &userID
	case domain.RoleAdmin:
		// unrestricted
	case domain.RoleAgent:
		visible, err := s.resolver.VisibleCategoryIDs(ctx, userID, role)
		if err != nil {
			return nil, apperrors.NewDatabaseError(err)
		}
		if len(visible) == 0 {
			// No assignments means no visible tickets, not full
			// access; return an empty page without querying.
			return &TicketPage{
				Tickets:    []domain.Ticket{},
				Pagination: Pagination{Page: page, Limit: limit},
			}, nil
		}
		ids := make([]string, 0, len(visible))
		for id := range visible {
			ids = append(ids, id)
		}
		filter.CategoryIDs = ids
		if input.AssignedToMe {
			filter.AssignedToID = &userID
		}
	default:
		return nil, apperrors.NewAuthorizationError("unknown role")
	}

	total, err := s.tickets.Count(ctx, filter)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}

	totalPages := (total + limit - 1) / limit
	return &TicketPage{
		Tickets: tickets,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	}, nil
}

// GetTicketByID returns the hydrated ticket after the view check.
func (s *TicketService) GetTicketByID(ctx context.Context, userID string, role domain.Role, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	visible, err := s.resolver.VisibleCategoryIDs(ctx, userID, role)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if !access.CanViewTicket(userID, role, visible, ticket) {
		return nil, apperrors.NewAuthorizationError("you do not have access to this ticket")
	}
	return ticket, nil
}

// AssignTicket claims an unassigned ticket for an agent and moves it
// to IN_PROGRESS in the same write. The repository's conditional
// update is the arbiter when two assignments race.
func (s *TicketService) AssignTicket(ctx context.Context, agentID string, role domain.Role, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	// Role-independent precondition: even admins cannot reassign.
	if ticket.AssignedToID != nil {
		return nil, apperrors.NewValidationError("ticket is already assigned", nil)
	}

	visible, err := s.resolver.VisibleCategoryIDs(ctx, agentID, role)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if !access.CanAssignTicket(agentID, role, visible, ticket) {
		return nil, apperrors.NewAuthorizationError("you cannot assign tickets in this category")
	}

	claimed, err := s.tickets.Assign(ctx, ticketID, agentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if !claimed {
		return nil, apperrors.NewValidationError("ticket is already assigned", nil)
	}

	hydrated, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticketID,
		Actor:    events.Actor{UserID: agentID, Role: role},
		Payload:  events.TicketAssignedPayload{AssignedToID: agentID},
	})
	return hydrated, nil
}

// allowedTransitions makes the lifecycle policy explicit. Every jump
// between states is currently permitted for an authorized actor,
// including backwards moves such as RESOLVED to OPEN; tightening the
// policy means removing entries here.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusOpen},
	domain.TicketStatusInProgress: {domain.TicketStatusOpen, domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusResolved:   {domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusClosed, domain.TicketStatusResolved},
	domain.TicketStatusClosed:     {domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
}

func isAllowedTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// UpdateTicketStatus moves the ticket to newStatus after the
// authorization check.
func (s *TicketService) UpdateTicketStatus(ctx context.Context, agentID string, role domain.Role, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("invalid status value", nil)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	visible, err := s.resolver.VisibleCategoryIDs(ctx, agentID, role)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if !access.CanChangeStatus(agentID, role, visible, ticket) {
		return nil, apperrors.NewAuthorizationError("you cannot change the status of this ticket")
	}
	if !isAllowedTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewValidationError("status transition not allowed", nil)
	}

	if err := s.tickets.UpdateStatus(ctx, ticketID, newStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	hydrated, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticketID,
		Actor:    events.Actor{UserID: agentID, Role: role},
		Payload: events.TicketStatusChangedPayload{
			OldStatus: ticket.Status,
			NewStatus: newStatus,
		},
	})
	return hydrated, nil
}

// GetTicketStats derives scoped counts from three limit-1 listings.
// Correctness rides entirely on ListTickets scoping.
func (s *TicketService) GetTicketStats(ctx context.Context, userID string, role domain.Role) (*TicketStats, error) {
	countFor := func(status domain.TicketStatus) (int, error) {
		page, err := s.ListTickets(ctx, userID, role, TicketListInput{
			Status: &status,
			Page:   1,
			Limit:  1,
		})
		if err != nil {
			return 0, err
		}
		return page.Pagination.Total, nil
	}

	open, err := countFor(domain.TicketStatusOpen)
	if err != nil {
		return nil, err
	}
	resolved, err := countFor(domain.TicketStatusResolved)
	if err != nil {
		return nil, err
	}
	closed, err := countFor(domain.TicketStatusClosed)
	if err != nil {
		return nil, err
	}

	return &TicketStats{
		OpenCount:     open,
		ResolvedCount: resolved + closed,
	}, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
