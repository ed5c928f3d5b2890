package models

import (
	"time"
)

type PropertyType string

const (
	PropertyTypeApartment PropertyType = "apartment"
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeVilla     PropertyType = "villa"
	PropertyTypeOffice    PropertyType = "office"
	PropertyTypeLand      PropertyType = "land"
)

func (t PropertyType) Valid() bool {
	switch t {
	case PropertyTypeApartment, PropertyTypeHouse, PropertyTypeVilla, PropertyTypeOffice, PropertyTypeLand:
		return true
	}
	return false
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusRented    Status = "rented"
	StatusPending   Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusRented, StatusPending:
		return true
	}
	return false
}

// Property is a listing record as returned by the property API.
// Optional numeric fields are pointers so an absent value is not confused with zero.
type Property struct {
	ID           int64        `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Description  string       `json:"description,omitempty" db:"description"`
	PropertyType PropertyType `json:"property_type" db:"property_type"`
	Status       Status       `json:"status" db:"status"`
	Price        float64      `json:"price" db:"price"`
	Area         float64      `json:"area" db:"area"`
	Bedrooms     *int         `json:"bedrooms,omitempty" db:"bedrooms"`
	Bathrooms    *int         `json:"bathrooms,omitempty" db:"bathrooms"`
	Floors       *int         `json:"floors,omitempty" db:"floors"`
	Address      string       `json:"address" db:"address"`
	City         string       `json:"city" db:"city"`
	District     string       `json:"district" db:"district"`
	PostalCode   string       `json:"postal_code,omitempty" db:"postal_code"`
	Latitude     *float64     `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64     `json:"longitude,omitempty" db:"longitude"`
	YearBuilt    *int         `json:"year_built,omitempty" db:"year_built"`
	Features     []string     `json:"features,omitempty" db:"features"`
	ContactName  string       `json:"contact_name" db:"contact_name"`
	ContactPhone string       `json:"contact_phone" db:"contact_phone"`
	ContactEmail string       `json:"contact_email,omitempty" db:"contact_email"`
	CreatedBy    *int64       `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy    *int64       `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the property carries a soft-delete tombstone.
func (p *Property) IsDeleted() bool {
	return p.DeletedAt != nil
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Sort keys accepted by the listing endpoint
type SortKey string

const (
	SortPrice     SortKey = "price"
	SortArea      SortKey = "area"
	SortCreatedAt SortKey = "created_at"
	SortUpdatedAt SortKey = "updated_at"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortPrice, SortArea, SortCreatedAt, SortUpdatedAt:
		return true
	}
	return false
}

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

func (o SortOrder) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}
