package models

import (
	"math"
	"net/url"
	"strconv"
)

// Filter is the full query state of the catalog listing.
// Every field takes part in the cache key.
type Filter struct {
	Page         int          `json:"page" yaml:"page"`
	PerPage      int          `json:"per_page" yaml:"per_page"`
	City         string       `json:"city,omitempty" yaml:"city"`
	Status       Status       `json:"status,omitempty" yaml:"status"`
	PropertyType PropertyType `json:"property_type,omitempty" yaml:"property_type"`
	MinPrice     *float64     `json:"min_price,omitempty" yaml:"min_price"`
	MaxPrice     *float64     `json:"max_price,omitempty" yaml:"max_price"`
	Sort         SortKey      `json:"sort" yaml:"sort"`
	Order        SortOrder    `json:"order" yaml:"order"`
}

const DefaultPerPage = 10

// DefaultFilter mirrors the initial state of the listing screen
func DefaultFilter(perPage int) Filter {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return Filter{
		Page:    1,
		PerPage: perPage,
		Sort:    SortCreatedAt,
		Order:   OrderDesc,
	}
}

// Validate checks the filter invariants. A min price above the max price is
// rejected rather than swapped.
func (f Filter) Validate() error {
	verr := &ValidationError{}
	if f.Page < 1 {
		verr.Add("page", "must be at least 1")
	}
	if f.PerPage < 1 {
		verr.Add("per_page", "must be at least 1")
	}
	if f.Status != "" && !f.Status.Valid() {
		verr.Add("status", "unknown status "+string(f.Status))
	}
	if f.PropertyType != "" && !f.PropertyType.Valid() {
		verr.Add("property_type", "unknown property type "+string(f.PropertyType))
	}
	switch {
	case f.MinPrice == nil:
	case !finite(*f.MinPrice):
		verr.Add("min_price", "must be a finite number")
	case *f.MinPrice < 0:
		verr.Add("min_price", "must not be negative")
	}
	switch {
	case f.MaxPrice == nil:
	case !finite(*f.MaxPrice):
		verr.Add("max_price", "must be a finite number")
	case *f.MaxPrice < 0:
		verr.Add("max_price", "must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && finite(*f.MinPrice) && finite(*f.MaxPrice) && *f.MinPrice > *f.MaxPrice {
		verr.Add("min_price", "must not exceed max_price")
	}
	if f.Sort != "" && !f.Sort.Valid() {
		verr.Add("sort", "unknown sort key "+string(f.Sort))
	}
	if f.Order != "" && !f.Order.Valid() {
		verr.Add("order", "must be asc or desc")
	}
	return verr.OrNil()
}

// Query builds the listing query string. Empty optional fields are omitted.
func (f Filter) Query() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(f.Page))
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if f.City != "" {
		q.Set("city", f.City)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.PropertyType != "" {
		q.Set("property_type", string(f.PropertyType))
	}
	if f.MinPrice != nil {
		q.Set("min_price", FormatDecimal(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		q.Set("max_price", FormatDecimal(*f.MaxPrice))
	}
	if f.Sort != "" {
		q.Set("sort", string(f.Sort))
	}
	if f.Order != "" {
		q.Set("order", string(f.Order))
	}
	return q
}

// WithPage returns a copy of f positioned on page
func (f Filter) WithPage(page int) Filter {
	f.Page = page
	return f
}

// FilterPatch is a partial filter update. Nil fields are left alone; an empty
// string clears an equality filter and the Clear flags drop a price bound.
type FilterPatch struct {
	Page          *int
	PerPage       *int
	City          *string
	Status        *Status
	PropertyType  *PropertyType
	MinPrice      *float64
	MaxPrice      *float64
	ClearMinPrice bool
	ClearMaxPrice bool
	Sort          *SortKey
	Order         *SortOrder
}

// Apply merges p into f. It reports whether any non-page field actually
// changed; in that case the page is reset to 1 regardless of p.Page.
func (p FilterPatch) Apply(f Filter) (Filter, bool) {
	out := f
	if p.PerPage != nil {
		out.PerPage = *p.PerPage
	}
	if p.City != nil {
		out.City = *p.City
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.PropertyType != nil {
		out.PropertyType = *p.PropertyType
	}
	if p.ClearMinPrice {
		out.MinPrice = nil
	} else if p.MinPrice != nil {
		v := *p.MinPrice
		out.MinPrice = &v
	}
	if p.ClearMaxPrice {
		out.MaxPrice = nil
	} else if p.MaxPrice != nil {
		v := *p.MaxPrice
		out.MaxPrice = &v
	}
	if p.Sort != nil {
		out.Sort = *p.Sort
	}
	if p.Order != nil {
		out.Order = *p.Order
	}

	changed := !SameExceptPage(f, out)
	switch {
	case changed:
		out.Page = 1
	case p.Page != nil:
		out.Page = *p.Page
	}
	return out, changed
}

// SameExceptPage compares every field but the page number
func SameExceptPage(a, b Filter) bool {
	return a.PerPage == b.PerPage &&
		a.City == b.City &&
		a.Status == b.Status &&
		a.PropertyType == b.PropertyType &&
		sameBound(a.MinPrice, b.MinPrice) &&
		sameBound(a.MaxPrice, b.MaxPrice) &&
		a.Sort == b.Sort &&
		a.Order == b.Order
}

func sameBound(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FormatDecimal renders v in plain decimal form, without exponent
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
