package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickflow/tickflow/internal/domain"
)

// TicketFilter captures listing parameters. Scope restrictions
// (creator, category set) are applied by the service before any
// caller-chosen filter.
type TicketFilter struct {
	CreatedByID  *string
	CategoryIDs  []string
	Status       *domain.TicketStatus
	AssignedToID *string
	SortBy       string
	SortOrder    string
	Limit        int
	Offset       int
}

// TicketRepository encapsulates ticket persistence. Reads hydrate the
// subcategory/category chain and user projections via joins.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int, error)
	Assign(ctx context.Context, ticketID, agentID string) (bool, error)
	UpdateStatus(ctx context.Context, ticketID string, status domain.TicketStatus) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

// sortColumns is the allow-list of caller-selectable sort keys.
var sortColumns = map[string]string{
	"created_at": "t.created_at",
	"updated_at": "t.updated_at",
	"status":     "t.status",
	"title":      "t.title",
}

const hydratedColumns = `
        t.id, t.title, t.description, t.status, t.subcategory_id,
        t.created_by_id, t.assigned_to_id, t.created_at, t.updated_at,
        s.id, s.name, s.category_id,
        c.id, c.name,
        cu.id, cu.name, cu.email,
        au.id, au.name, au.email`

// The subcategory/category joins are inner on purpose: a ticket whose
// taxonomy chain does not resolve is excluded rather than returned
// with nulls. The assignee join is left since unassigned is a valid
// state.
const hydratedFrom = `
        FROM tickets t
        JOIN subcategories s ON s.id = t.subcategory_id
        JOIN categories c ON c.id = s.category_id
        JOIN users cu ON cu.id = t.created_by_id
        LEFT JOIN users au ON au.id = t.assigned_to_id`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, subcategory_id, created_by_id, assigned_to_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.SubcategoryID,
		ticket.CreatedByID,
		ticket.AssignedToID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT` + hydratedColumns + hydratedFrom + ` WHERE t.id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	ticket, err := scanHydrated(row)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses, args := buildClauses(filter)

	orderCol, ok := sortColumns[filter.SortBy]
	if !ok {
		orderCol = "t.created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// Secondary t.id key keeps page boundaries stable when the
	// primary sort key has duplicate values.
	query := fmt.Sprintf(`SELECT%s%s WHERE %s ORDER BY %s %s, t.id ASC LIMIT %d OFFSET %d`,
		hydratedColumns, hydratedFrom, strings.Join(clauses, " AND "), orderCol, direction, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	clauses, args := buildClauses(filter)
	query := fmt.Sprintf(`SELECT COUNT(*)%s WHERE %s`, hydratedFrom, strings.Join(clauses, " AND "))

	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Assign conditionally claims an unassigned ticket. The WHERE guard on
// assigned_to_id makes concurrent assignment a single-winner race: the
// loser observes zero affected rows and reports false.
func (r *ticketRepository) Assign(ctx context.Context, ticketID, agentID string) (bool, error) {
	const query = `
        UPDATE tickets SET assigned_to_id=$1, status=$2, updated_at=NOW()
        WHERE id=$3 AND assigned_to_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, agentID, domain.TicketStatusInProgress, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticketID string, status domain.TicketStatus) error {
	const query = `UPDATE tickets SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, ticketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func buildClauses(filter TicketFilter) ([]string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedByID != nil {
		args = append(args, *filter.CreatedByID)
		clauses = append(clauses, fmt.Sprintf("t.created_by_id=$%d", len(args)))
	}
	// Empty category sets never reach the repository; the service
	// short-circuits agent listings with no visible categories.
	if len(filter.CategoryIDs) > 0 {
		placeholders := make([]string, len(filter.CategoryIDs))
		for i, id := range filter.CategoryIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("s.category_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("t.status=$%d", len(args)))
	}
	if filter.AssignedToID != nil {
		args = append(args, *filter.AssignedToID)
		clauses = append(clauses, fmt.Sprintf("t.assigned_to_id=$%d", len(args)))
	}
	return clauses, args
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanHydrated(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHydrated(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var sub domain.Subcategory
	var cat domain.Category
	var creator domain.UserRef
	var assigneeID, assigneeName, assigneeEmail *string

	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.SubcategoryID,
		&ticket.CreatedByID,
		&ticket.AssignedToID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&sub.ID,
		&sub.Name,
		&sub.CategoryID,
		&cat.ID,
		&cat.Name,
		&creator.ID,
		&creator.Name,
		&creator.Email,
		&assigneeID,
		&assigneeName,
		&assigneeEmail,
	); err != nil {
		return nil, err
	}

	sub.Category = &cat
	ticket.Subcategory = &sub
	ticket.CreatedBy = &creator
	if assigneeID != nil {
		ticket.AssignedTo = &domain.UserRef{ID: *assigneeID}
		if assigneeName != nil {
			ticket.AssignedTo.Name = *assigneeName
		}
		if assigneeEmail != nil {
			ticket.AssignedTo.Email = *assigneeEmail
		}
	}
	return &ticket, nil
}
