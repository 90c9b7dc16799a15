package dto

import (
	"time"

	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/service"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	SubcategoryID string `json:"subcategoryId"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// CategoryResponse is the nested category projection.
type CategoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SubcategoryResponse is the nested subcategory projection.
type SubcategoryResponse struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	CategoryID string           `json:"categoryId"`
	Category   CategoryResponse `json:"category"`
}

// UserRefResponse is the nested user projection.
type UserRefResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TicketResponse is the fully hydrated ticket DTO.
type TicketResponse struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      domain.TicketStatus `json:"status"`
	Subcategory SubcategoryResponse `json:"subcategory"`
	CreatedBy   UserRefResponse     `json:"createdBy"`
	AssignedTo  *UserRefResponse    `json:"assignedTo"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// PaginationResponse describes one listing page.
type PaginationResponse struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// TicketListResponse bundles tickets with paging metadata.
type TicketListResponse struct {
	Tickets    []TicketResponse   `json:"tickets"`
	Pagination PaginationResponse `json:"pagination"`
}

// TicketStatsResponse aggregates scoped counts.
type TicketStatsResponse struct {
	OpenCount     int `json:"openCount"`
	ResolvedCount int `json:"resolvedCount"`
}

// FromTicket maps a hydrated domain ticket to its DTO.
func FromTicket(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Subcategory != nil {
		resp.Subcategory = SubcategoryResponse{
			ID:         t.Subcategory.ID,
			Name:       t.Subcategory.Name,
			CategoryID: t.Subcategory.CategoryID,
		}
		if t.Subcategory.Category != nil {
			resp.Subcategory.Category = CategoryResponse{
				ID:   t.Subcategory.Category.ID,
				Name: t.Subcategory.Category.Name,
			}
		}
	}
	if t.CreatedBy != nil {
		resp.CreatedBy = UserRefResponse{ID: t.CreatedBy.ID, Name: t.CreatedBy.Name, Email: t.CreatedBy.Email}
	}
	if t.AssignedTo != nil {
		resp.AssignedTo = &UserRefResponse{ID: t.AssignedTo.ID, Name: t.AssignedTo.Name, Email: t.AssignedTo.Email}
	}
	return resp
}

// FromTicketPage maps a service listing result.
func FromTicketPage(page *service.TicketPage) TicketListResponse {
	tickets := make([]TicketResponse, 0, len(page.Tickets))
	for i := range page.Tickets {
		tickets = append(tickets, FromTicket(&page.Tickets[i]))
	}
	return TicketListResponse{
		Tickets: tickets,
		Pagination: PaginationResponse{
			Page:       page.Pagination.Page,
			Limit:      page.Pagination.Limit,
			Total:      page.Pagination.Total,
			TotalPages: page.Pagination.TotalPages,
			HasMore:    page.Pagination.HasMore,
		},
	}
}
