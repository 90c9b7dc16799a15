package domain

// Category is the top level of the two-level routing taxonomy.
type Category struct {
	ID          string
	Name        string
	Description *string
}

// Subcategory belongs to exactly one Category; tickets reference a
// subcategory, which transitively determines their category.
type Subcategory struct {
	ID          string
	Name        string
	CategoryID  string
	Description *string

	Category *Category
}

// AgentCategoryAssignment grants an agent authority over one category.
// Admins are not represented by rows; their access is a role check.
type AgentCategoryAssignment struct {
	AgentID    string
	CategoryID string
}
