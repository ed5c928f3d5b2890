package models

import "time"

type PageMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// CatalogPage is one materialized listing response
type CatalogPage struct {
	Data      []Property `json:"data"`
	Meta      PageMeta   `json:"meta"`
	FetchedAt time.Time  `json:"fetched_at,omitempty"`
}

// LastPage never reports less than 1, so an empty result still has one page
func (p *CatalogPage) LastPage() int {
	if p == nil || p.Meta.LastPage < 1 {
		return 1
	}
	return p.Meta.LastPage
}
