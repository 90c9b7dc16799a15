package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/repository"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// Taxonomy fixture shared by the fakes: hardware holds the printer
// subcategory, software holds email.
var (
	catHardware = domain.Category{ID: "cat-hw", Name: "Hardware"}
	catSoftware = domain.Category{ID: "cat-sw", Name: "Software"}

	subPrinter = domain.Subcategory{ID: "sub-printer", Name: "Printers", CategoryID: "cat-hw", Category: &catHardware}
	subEmail   = domain.Subcategory{ID: "sub-email", Name: "Email", CategoryID: "cat-sw", Category: &catSoftware}
)

type fakeCategoryRepo struct {
	assignments map[string][]string
}

func (f *fakeCategoryRepo) ListCategories(context.Context) ([]domain.Category, error) {
	return []domain.Category{catHardware, catSoftware}, nil
}

func (f *fakeCategoryRepo) ListCategoryIDs(context.Context) ([]string, error) {
	return []string{catHardware.ID, catSoftware.ID}, nil
}

func (f *fakeCategoryRepo) ListSubcategories(context.Context) ([]domain.Subcategory, error) {
	return []domain.Subcategory{subPrinter, subEmail}, nil
}

func (f *fakeCategoryRepo) GetSubcategoryByID(_ context.Context, id string) (*domain.Subcategory, error) {
	switch id {
	case subPrinter.ID:
		sub := subPrinter
		return &sub, nil
	case subEmail.ID:
		sub := subEmail
		return &sub, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeCategoryRepo) ListAgentCategoryIDs(_ context.Context, agentID string) ([]string, error) {
	return f.assignments[agentID], nil
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	seq     int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (f *fakeTicketRepo) hydrate(t *domain.Ticket) *domain.Ticket {
	clone := *t
	switch t.SubcategoryID {
	case subPrinter.ID:
		sub := subPrinter
		clone.Subcategory = &sub
	case subEmail.ID:
		sub := subEmail
		clone.Subcategory = &sub
	}
	clone.CreatedBy = &domain.UserRef{ID: t.CreatedByID, Name: "user " + t.CreatedByID}
	if t.AssignedToID != nil {
		clone.AssignedTo = &domain.UserRef{ID: *t.AssignedToID}
	}
	return &clone
}

func (f *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ticket.ID = fmt.Sprintf("t-%d", f.seq)
	ticket.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	f.tickets[ticket.ID] = &stored
	return nil
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return f.hydrate(ticket), nil
}

func (f *fakeTicketRepo) matches(t *domain.Ticket, filter repository.TicketFilter) bool {
	if filter.CreatedByID != nil && t.CreatedByID != *filter.CreatedByID {
		return false
	}
	if len(filter.CategoryIDs) > 0 {
		hydrated := f.hydrate(t)
		found := false
		for _, id := range filter.CategoryIDs {
			if hydrated.CategoryID() == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Status != nil && t.Status != *filter.Status {
		return false
	}
	if filter.AssignedToID != nil {
		if t.AssignedToID == nil || *t.AssignedToID != *filter.AssignedToID {
			return false
		}
	}
	return true
}

func (f *fakeTicketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*domain.Ticket
	for _, t := range f.tickets {
		if f.matches(t, filter) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch filter.SortBy {
		case "title":
			less = a.Title < b.Title
		case "updated_at":
			less = a.UpdatedAt.Before(b.UpdatedAt)
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
		}
		if strings.EqualFold(filter.SortOrder, "asc") {
			return less
		}
		return !less
	})

	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + filter.Limit
	if filter.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	result := make([]domain.Ticket, 0, end-offset)
	for _, t := range matched[offset:end] {
		result = append(result, *f.hydrate(t))
	}
	return result, nil
}

func (f *fakeTicketRepo) Count(_ context.Context, filter repository.TicketFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tickets {
		if f.matches(t, filter) {
			count++
		}
	}
	return count, nil
}

func (f *fakeTicketRepo) Assign(_ context.Context, ticketID, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[ticketID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if ticket.AssignedToID != nil {
		return false, nil
	}
	ticket.AssignedToID = &agentID
	ticket.Status = domain.TicketStatusInProgress
	ticket.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeTicketRepo) UpdateStatus(_ context.Context, ticketID string, status domain.TicketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[ticketID]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	ticket.UpdatedAt = time.Now()
	return nil
}

func newTestService(assignments map[string][]string) (*TicketService, *fakeTicketRepo) {
	repo := newFakeTicketRepo()
	svc := NewTicketService(TicketDependencies{
		TicketRepo:   repo,
		CategoryRepo: &fakeCategoryRepo{assignments: assignments},
	})
	return svc, repo
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, code, domainErr.Code)
}

func TestCreateTicket(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	ticket, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "u1", ticket.CreatedByID)
	assert.Nil(t, ticket.AssignedToID)
	assert.Equal(t, "sub-printer", ticket.SubcategoryID)
	require.NotNil(t, ticket.Subcategory)
	assert.Equal(t, "cat-hw", ticket.CategoryID())
}

func TestCreateTicketValidation(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input TicketCreateInput
	}{
		{"short title", TicketCreateInput{Title: "ab", Description: "long enough description", SubcategoryID: "sub-printer"}},
		{"short description", TicketCreateInput{Title: "Printer jam", Description: "short", SubcategoryID: "sub-printer"}},
		{"missing subcategory", TicketCreateInput{Title: "Printer jam", Description: "long enough description", SubcategoryID: ""}},
		{"unknown subcategory", TicketCreateInput{Title: "Printer jam", Description: "long enough description", SubcategoryID: "sub-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, tt.input)
			assertErrorCode(t, err, "VALIDATION_ERROR")
		})
	}
}

func TestCreateTicketCountsCharactersNotBytes(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	// 200 two-byte runes: within the character bound even though the
	// byte length is 400.
	ticket, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         strings.Repeat("é", 200),
		Description:   strings.Repeat("ü", 2000),
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)

	_, err = svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         strings.Repeat("é", 201),
		Description:   "long enough description",
		SubcategoryID: "sub-printer",
	})
	assertErrorCode(t, err, "VALIDATION_ERROR")
}

func TestGetTicketRoundTrip(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	fetched, err := svc.GetTicketByID(ctx, "u1", domain.RoleUser, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, fetched.Title)
	assert.Equal(t, created.Description, fetched.Description)
	assert.Equal(t, created.SubcategoryID, fetched.SubcategoryID)
	assert.Equal(t, domain.TicketStatusOpen, fetched.Status)
	assert.Nil(t, fetched.AssignedToID)
}

func TestGetTicketAccessDenied(t *testing.T) {
	svc, _ := newTestService(map[string][]string{"a-sw": {"cat-sw"}})
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	// Another user is not the creator.
	_, err = svc.GetTicketByID(ctx, "u2", domain.RoleUser, created.ID)
	assertErrorCode(t, err, "AUTHORIZATION_ERROR")

	// An agent scoped to software cannot see a hardware ticket.
	_, err = svc.GetTicketByID(ctx, "a-sw", domain.RoleAgent, created.ID)
	assertErrorCode(t, err, "AUTHORIZATION_ERROR")

	// Admin always can.
	_, err = svc.GetTicketByID(ctx, "boss", domain.RoleAdmin, created.ID)
	assert.NoError(t, err)

	_, err = svc.GetTicketByID(ctx, "u1", domain.RoleUser, "t-missing")
	assertErrorCode(t, err, "NOT_FOUND")
}

func TestAssignTicket(t *testing.T) {
	svc, _ := newTestService(map[string][]string{
		"a1": {"cat-hw"},
		"a2": {"cat-hw"},
	})
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	assigned, err := svc.AssignTicket(ctx, "a1", domain.RoleAgent, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, assigned.Status)
	require.NotNil(t, assigned.AssignedToID)
	assert.Equal(t, "a1", *assigned.AssignedToID)

	// Second assignment fails regardless of who asks, admin included.
	_, err = svc.AssignTicket(ctx, "a2", domain.RoleAgent, created.ID)
	assertErrorCode(t, err, "VALIDATION_ERROR")
	_, err = svc.AssignTicket(ctx, "boss", domain.RoleAdmin, created.ID)
	assertErrorCode(t, err, "VALIDATION_ERROR")

	// The first assignee sticks.
	after, err := svc.GetTicketByID(ctx, "boss", domain.RoleAdmin, created.ID)
	require.NoError(t, err)
	require.NotNil(t, after.AssignedToID)
	assert.Equal(t, "a1", *after.AssignedToID)
}

func TestAssignTicketAuthorization(t *testing.T) {
	svc, _ := newTestService(map[string][]string{"a-sw": {"cat-sw"}})
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	_, err = svc.AssignTicket(ctx, "a-sw", domain.RoleAgent, created.ID)
	assertErrorCode(t, err, "AUTHORIZATION_ERROR")

	_, err = svc.AssignTicket(ctx, "a-sw", domain.RoleAgent, "t-missing")
	assertErrorCode(t, err, "NOT_FOUND")
}

func TestUpdateTicketStatus(t *testing.T) {
	svc, _ := newTestService(map[string][]string{
		"a1":   {"cat-hw"},
		"a2":   {"cat-hw"},
		"a-sw": {"cat-sw"},
	})
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
		Title:         "Printer jam",
		Description:   "The printer on floor 2 is jamming repeatedly",
		SubcategoryID: "sub-printer",
	})
	require.NoError(t, err)

	_, err = svc.AssignTicket(ctx, "a1", domain.RoleAgent, created.ID)
	require.NoError(t, err)

	// Agent outside the category is always denied.
	_, err = svc.UpdateTicketStatus(ctx, "a-sw", domain.RoleAgent, created.ID, domain.TicketStatusResolved)
	assertErrorCode(t, err, "AUTHORIZATION_ERROR")

	// Agent in the category but assigned elsewhere is denied too.
	_, err = svc.UpdateTicketStatus(ctx, "a2", domain.RoleAgent, created.ID, domain.TicketStatusResolved)
	assertErrorCode(t, err, "AUTHORIZATION_ERROR")

	// The assignee succeeds for any target status, backwards included.
	for _, status := range []domain.TicketStatus{
		domain.TicketStatusResolved,
		domain.TicketStatusOpen,
		domain.TicketStatusClosed,
		domain.TicketStatusInProgress,
	} {
		updated, err := svc.UpdateTicketStatus(ctx, "a1", domain.RoleAgent, created.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	_, err = svc.UpdateTicketStatus(ctx, "a1", domain.RoleAgent, created.ID, domain.TicketStatus("BOGUS"))
	assertErrorCode(t, err, "VALIDATION_ERROR")
}

func seedTickets(t *testing.T, svc *TicketService) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateTicket(ctx, "u1", domain.RoleUser, TicketCreateInput{
			Title:         fmt.Sprintf("Printer issue %d", i),
			Description:   "The printer on floor 2 is jamming repeatedly",
			SubcategoryID: "sub-printer",
		})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := svc.CreateTicket(ctx, "u2", domain.RoleUser, TicketCreateInput{
			Title:         fmt.Sprintf("Email issue %d", i),
			Description:   "Mail delivery has been failing since Monday",
			SubcategoryID: "sub-email",
		})
		require.NoError(t, err)
	}
}

func TestListTicketsScoping(t *testing.T) {
	svc, _ := newTestService(map[string][]string{"a-hw": {"cat-hw"}})
	ctx := context.Background()
	seedTickets(t, svc)

	// Users see only their own tickets.
	page, err := svc.ListTickets(ctx, "u1", domain.RoleUser, TicketListInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
	for _, ticket := range page.Tickets {
		assert.Equal(t, "u1", ticket.CreatedByID)
	}

	// Agents see exactly the tickets in their categories.
	page, err = svc.ListTickets(ctx, "a-hw", domain.RoleAgent, TicketListInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
	for _, ticket := range page.Tickets {
		assert.Equal(t, "cat-hw", ticket.CategoryID())
	}

	// Admin sees everything.
	page, err = svc.ListTickets(ctx, "boss", domain.RoleAdmin, TicketListInput{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Pagination.Total)
}

func TestListTicketsEmptyCategoryGuard(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	seedTickets(t, svc)

	status := domain.TicketStatusOpen
	page, err := svc.ListTickets(ctx, "a-none", domain.RoleAgent, TicketListInput{Status: &status})
	require.NoError(t, err)

	assert.Empty(t, page.Tickets)
	assert.Equal(t, 0, page.Pagination.Total)
	assert.Equal(t, 0, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasMore)
}

func TestListTicketsPagination(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	seedTickets(t, svc)

	page, err := svc.ListTickets(ctx, "boss", domain.RoleAdmin, TicketListInput{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Tickets, 2)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasMore)

	last, err := svc.ListTickets(ctx, "boss", domain.RoleAdmin, TicketListInput{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, last.Tickets, 1)
	assert.False(t, last.Pagination.HasMore)

	// Limit is clamped to 100.
	clamped, err := svc.ListTickets(ctx, "boss", domain.RoleAdmin, TicketListInput{Page: 1, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, clamped.Pagination.Limit)
}

func TestListTicketsAssignedToMe(t *testing.T) {
	svc, repo := newTestService(map[string][]string{
		"a1": {"cat-hw"},
		"a2": {"cat-hw"},
	})
	ctx := context.Background()
	seedTickets(t, svc)

	page, err := svc.ListTickets(ctx, "a1", domain.RoleAgent, TicketListInput{})
	require.NoError(t, err)
	require.NotEmpty(t, page.Tickets)

	claimed, err := repo.Assign(ctx, page.Tickets[0].ID, "a1")
	require.NoError(t, err)
	require.True(t, claimed)

	mine, err := svc.ListTickets(ctx, "a1", domain.RoleAgent, TicketListInput{AssignedToMe: true})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.Pagination.Total)

	others, err := svc.ListTickets(ctx, "a2", domain.RoleAgent, TicketListInput{AssignedToMe: true})
	require.NoError(t, err)
	assert.Equal(t, 0, others.Pagination.Total)
}

func TestGetTicketStats(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()
	seedTickets(t, svc)

	page, err := svc.ListTickets(ctx, "boss", domain.RoleAdmin, TicketListInput{})
	require.NoError(t, err)
	require.Len(t, page.Tickets, 5)

	require.NoError(t, repo.UpdateStatus(ctx, page.Tickets[0].ID, domain.TicketStatusResolved))
	require.NoError(t, repo.UpdateStatus(ctx, page.Tickets[1].ID, domain.TicketStatusClosed))

	stats, err := svc.GetTicketStats(ctx, "boss", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.OpenCount)
	assert.Equal(t, 2, stats.ResolvedCount, "resolved combines RESOLVED and CLOSED")

	// A user's stats are scoped to their own tickets.
	userStats, err := svc.GetTicketStats(ctx, "u2", domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, 2, userStats.OpenCount+userStats.ResolvedCount)
}
