package domain

type ListPage struct {
	PageNumber int      `json:"page_number"` // Current page number
	TotalPages int      `json:"total_pages"` // Total number of pages
	Fragments  []string `json:"fragments"`   // Outer HTML of each list item on this page
}
