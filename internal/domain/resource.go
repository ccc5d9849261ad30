package domain

// UnknownVersionID marks a version whose numeric id is not shown on listing pages.
const UnknownVersionID = 0

type ListedResource struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Tag         string          `json:"tag"`
	Version     ListedVersion   `json:"version"`
	Author      ListedAuthor    `json:"author"`
	Category    *ListedCategory `json:"category,omitempty"` // Absent when the item has no category link
	ReleaseDate int64           `json:"release_date"`       // Unix seconds
	UpdateDate  int64           `json:"update_date"`        // Unix seconds
	Rating      Rating          `json:"rating"`
	Downloads   int             `json:"downloads"`
	Premium     bool            `json:"premium"`
	Price       *Price          `json:"price,omitempty"` // Only set for premium items with a "<amount> <currency>" cost
	Icon        Icon            `json:"icon"`
}

type ListedVersion struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ReleaseDate int64  `json:"release_date"`
}

type ListedAuthor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon *Icon  `json:"icon,omitempty"`
}

type ListedCategory struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Price keeps amount and currency together so one is never set without the other.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Rating struct {
	Count   int     `json:"count"`
	Average float32 `json:"average"`
}

type Icon struct {
	URL  string `json:"url"`
	Data string `json:"data,omitempty"` // Base64 encoded image bytes
}
