// Package access holds the role-scoped ticket visibility rules. The
// decision functions are pure: they take a resolved visible-category
// set and a hydrated ticket and return a boolean, never an error.
// Translating a denial into an authorization failure is the caller's
// job.
package access

import (
	"context"

	"github.com/tickflow/tickflow/internal/domain"
)

// CategorySet is a resolved set of category ids visible to a caller.
type CategorySet map[string]struct{}

// NewCategorySet builds a set from ids.
func NewCategorySet(ids []string) CategorySet {
	set := make(CategorySet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports set membership.
func (s CategorySet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// AssignmentSource resolves the lookups needed to build visible sets.
type AssignmentSource interface {
	ListCategoryIDs(ctx context.Context) ([]string, error)
	ListAgentCategoryIDs(ctx context.Context, agentID string) ([]string, error)
}

// Resolver loads visible-category sets per role.
type Resolver struct {
	source AssignmentSource
}

// NewResolver constructs a resolver over the assignment source.
func NewResolver(source AssignmentSource) *Resolver {
	return &Resolver{source: source}
}

// VisibleCategoryIDs returns every category id for admins and the
// assignment rows for agents. Plain users get an empty set: their
// visibility is scoped by ticket ownership, not category. An agent
// with zero assignments also gets an empty set, which downstream
// callers must treat as "no visible tickets", never as unrestricted.
func (r *Resolver) VisibleCategoryIDs(ctx context.Context, userID string, role domain.Role) (CategorySet, error) {
	switch role {
	case domain.RoleAdmin:
		ids, err := r.source.ListCategoryIDs(ctx)
		if err != nil {
			return nil, err
		}
		return NewCategorySet(ids), nil
	case domain.RoleAgent:
		ids, err := r.source.ListAgentCategoryIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return NewCategorySet(ids), nil
	default:
		return CategorySet{}, nil
	}
}

// CanViewTicket decides read access for a hydrated ticket.
func CanViewTicket(userID string, role domain.Role, visible CategorySet, ticket *domain.Ticket) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleAgent:
		return visible.Contains(ticket.CategoryID())
	case domain.RoleUser:
		return ticket.CreatedByID == userID
	default:
		return false
	}
}

// CanAssignTicket decides whether the caller may claim the ticket.
// The "already assigned" state invariant is enforced separately by the
// lifecycle service; this rule only answers the identity/role question.
func CanAssignTicket(agentID string, role domain.Role, visible CategorySet, ticket *domain.Ticket) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleAgent:
		return ticket.AssignedToID == nil && visible.Contains(ticket.CategoryID())
	default:
		return false
	}
}

// CanChangeStatus decides whether the caller may move the ticket's
// status. An agent assigned elsewhere is denied even with category
// access.
func CanChangeStatus(agentID string, role domain.Role, visible CategorySet, ticket *domain.Ticket) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleAgent:
		if !visible.Contains(ticket.CategoryID()) {
			return false
		}
		return ticket.AssignedToID == nil || *ticket.AssignedToID == agentID
	default:
		return false
	}
}
