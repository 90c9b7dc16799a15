package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickflow/tickflow/internal/domain"
)

// CategoryRepository resolves the two-level routing taxonomy and
// agent category assignments.
type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListCategoryIDs(ctx context.Context) ([]string, error)
	ListSubcategories(ctx context.Context) ([]domain.Subcategory, error)
	GetSubcategoryByID(ctx context.Context, id string) (*domain.Subcategory, error)
	ListAgentCategoryIDs(ctx context.Context, agentID string) ([]string, error)
}

type categoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository instantiates repository.
func NewCategoryRepository(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepository{pool: pool}
}

func (r *categoryRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	const query = `SELECT id, name, description FROM categories ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Category
	for rows.Next() {
		var cat domain.Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Description); err != nil {
			return nil, err
		}
		result = append(result, cat)
	}
	return result, rows.Err()
}

func (r *categoryRepository) ListCategoryIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM categories`
	return r.scanIDs(ctx, query)
}

func (r *categoryRepository) ListSubcategories(ctx context.Context) ([]domain.Subcategory, error) {
	const query = `
        SELECT s.id, s.name, s.category_id, s.description, c.id, c.name, c.description
        FROM subcategories s
        JOIN categories c ON c.id = s.category_id
        ORDER BY c.name, s.name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Subcategory
	for rows.Next() {
		var sub domain.Subcategory
		var cat domain.Category
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.CategoryID, &sub.Description,
			&cat.ID, &cat.Name, &cat.Description); err != nil {
			return nil, err
		}
		sub.Category = &cat
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (r *categoryRepository) GetSubcategoryByID(ctx context.Context, id string) (*domain.Subcategory, error) {
	const query = `
        SELECT s.id, s.name, s.category_id, s.description, c.id, c.name, c.description
        FROM subcategories s
        JOIN categories c ON c.id = s.category_id
        WHERE s.id=$1`
	var sub domain.Subcategory
	var cat domain.Category
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.Name, &sub.CategoryID, &sub.Description,
		&cat.ID, &cat.Name, &cat.Description,
	); err != nil {
		return nil, err
	}
	sub.Category = &cat
	return &sub, nil
}

func (r *categoryRepository) ListAgentCategoryIDs(ctx context.Context, agentID string) ([]string, error) {
	const query = `SELECT category_id FROM agent_categories WHERE agent_id=$1`
	return r.scanIDs(ctx, query, agentID)
}

func (r *categoryRepository) scanIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
