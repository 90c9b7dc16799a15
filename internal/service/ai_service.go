package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tickflow/tickflow/internal/completion"
	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/repository"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// CompletionClient is the outbound completion surface the AI service
// depends on.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string, params *completion.Params) (string, error)
	CompleteStructured(ctx context.Context, system, user string, params *completion.Params, schemaName string, schema json.RawMessage, out any) error
	Stream(ctx context.Context, system, user string, params *completion.Params) (io.ReadCloser, error)
}

// AIService backs the assist endpoints: classification against the
// routing taxonomy and ticket summarization.
type AIService struct {
	completions CompletionClient
	categories  repository.CategoryRepository
	tickets     *TicketService
	logger      *zap.Logger
}

// NewAIService constructs the service.
func NewAIService(completions CompletionClient, categories repository.CategoryRepository, tickets *TicketService, logger *zap.Logger) *AIService {
	return &AIService{
		completions: completions,
		categories:  categories,
		tickets:     tickets,
		logger:      logger,
	}
}

// TicketClassification is the suggested routing for a draft ticket.
type TicketClassification struct {
	CategoryID      string  `json:"categoryId"`
	CategoryName    string  `json:"category"`
	SubcategoryID   string  `json:"subcategoryId"`
	SubcategoryName string  `json:"subcategory"`
	Confidence      float64 `json:"confidence"`
}

var classificationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"category": {"type": "string"},
		"subcategory": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["category", "subcategory", "confidence"],
	"additionalProperties": false
}`)

const classifySystemPrompt = "You are a helpdesk triage assistant. " +
	"Pick the single best category and subcategory for the ticket from the provided taxonomy. " +
	"Answer only with names that appear in the taxonomy."

// ClassifyTicket asks the completion upstream to place a draft ticket
// in the taxonomy, then maps the suggested names back to ids.
func (s *AIService) ClassifyTicket(ctx context.Context, title, description string) (*TicketClassification, error) {
	subcategories, err := s.categories.ListSubcategories(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if len(subcategories) == 0 {
		return nil, apperrors.NewValidationError("no categories configured", nil)
	}

	var taxonomy strings.Builder
	for _, sub := range subcategories {
		fmt.Fprintf(&taxonomy, "- %s / %s\n", sub.Category.Name, sub.Name)
	}
	prompt := fmt.Sprintf("Taxonomy (category / subcategory):\n%s\nTicket title: %s\nTicket description: %s",
		taxonomy.String(), title, description)

	var suggestion struct {
		Category    string  `json:"category"`
		Subcategory string  `json:"subcategory"`
		Confidence  float64 `json:"confidence"`
	}
	if err := s.completions.CompleteStructured(ctx, classifySystemPrompt, prompt, nil, "ticket_classification", classificationSchema, &suggestion); err != nil {
		return nil, mapCompletionError(err)
	}

	for _, sub := range subcategories {
		if strings.EqualFold(sub.Name, suggestion.Subcategory) && strings.EqualFold(sub.Category.Name, suggestion.Category) {
			return &TicketClassification{
				CategoryID:      sub.CategoryID,
				CategoryName:    sub.Category.Name,
				SubcategoryID:   sub.ID,
				SubcategoryName: sub.Name,
				Confidence:      suggestion.Confidence,
			}, nil
		}
	}

	s.logger.Warn("classification suggested unknown taxonomy entry",
		zap.String("category", suggestion.Category),
		zap.String("subcategory", suggestion.Subcategory),
	)
	return nil, apperrors.NewValidationError("suggested classification does not match the taxonomy", nil)
}

const summarizeSystemPrompt = "You are a helpdesk assistant. " +
	"Summarize the support ticket in two or three sentences for an agent picking it up."

// SummarizeTicket produces a short summary for a ticket the caller is
// allowed to view.
func (s *AIService) SummarizeTicket(ctx context.Context, userID string, role domain.Role, ticketID string) (string, error) {
	ticket, err := s.tickets.GetTicketByID(ctx, userID, role, ticketID)
	if err != nil {
		return "", err
	}
	summary, err := s.completions.Complete(ctx, summarizeSystemPrompt, summaryPrompt(ticket), nil)
	if err != nil {
		return "", mapCompletionError(err)
	}
	return summary, nil
}

// StreamTicketSummary is SummarizeTicket in streaming form; the raw
// upstream body is returned for the transport to forward.
func (s *AIService) StreamTicketSummary(ctx context.Context, userID string, role domain.Role, ticketID string) (io.ReadCloser, error) {
	ticket, err := s.tickets.GetTicketByID(ctx, userID, role, ticketID)
	if err != nil {
		return nil, err
	}
	stream, err := s.completions.Stream(ctx, summarizeSystemPrompt, summaryPrompt(ticket), nil)
	if err != nil {
		return nil, mapCompletionError(err)
	}
	return stream, nil
}

// mapCompletionError translates upstream completion failures into the
// application error taxonomy so the transport envelope carries the
// upstream's status and message instead of a generic 500. Unmatched
// statuses (including timeouts reported as 408) keep their status with
// the internal code.
func mapCompletionError(err error) error {
	var apiErr *completion.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var details map[string]any
	if apiErr.Details != nil {
		details = map[string]any{"upstream": apiErr.Details}
	}

	code := "INTERNAL_ERROR"
	switch apiErr.StatusEquivalent {
	case http.StatusBadRequest:
		code = "VALIDATION_ERROR"
	case http.StatusUnauthorized:
		code = "AUTHENTICATION_ERROR"
	case http.StatusForbidden:
		code = "AUTHORIZATION_ERROR"
	case http.StatusTooManyRequests:
		code = "RATE_LIMIT_EXCEEDED"
	}
	return apperrors.NewDomainError(code, apiErr.Message, apiErr.StatusEquivalent, details)
}

func summaryPrompt(ticket *domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nStatus: %s\n", ticket.Title, ticket.Status)
	if ticket.Subcategory != nil && ticket.Subcategory.Category != nil {
		fmt.Fprintf(&b, "Category: %s / %s\n", ticket.Subcategory.Category.Name, ticket.Subcategory.Name)
	}
	fmt.Fprintf(&b, "Description: %s", ticket.Description)
	return b.String()
}
