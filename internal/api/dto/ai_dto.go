package dto

// ClassifyRequest is a draft ticket to place in the taxonomy.
type ClassifyRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ClassifyResponse is the suggested routing.
type ClassifyResponse struct {
	CategoryID    string  `json:"categoryId"`
	Category      string  `json:"category"`
	SubcategoryID string  `json:"subcategoryId"`
	Subcategory   string  `json:"subcategory"`
	Confidence    float64 `json:"confidence"`
}

// SummaryResponse carries a non-streaming summary.
type SummaryResponse struct {
	Summary string `json:"summary"`
}
