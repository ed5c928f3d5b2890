package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchResetsPageOnAnyRealChange(t *testing.T) {
	base := DefaultFilter(10)
	base.Page = 6
	floor := 100.0
	base.MinPrice = &floor

	city := "Hanoi"
	same := ""
	status := StatusRented
	perPage := 50
	ceiling := 900.0
	sortKey := SortPrice
	page := 2

	tests := []struct {
		name     string
		patch    FilterPatch
		wantPage int
		changed  bool
	}{
		{"city", FilterPatch{City: &city}, 1, true},
		{"status", FilterPatch{Status: &status}, 1, true},
		{"per page", FilterPatch{PerPage: &perPage}, 1, true},
		{"max price", FilterPatch{MaxPrice: &ceiling}, 1, true},
		{"clear min", FilterPatch{ClearMinPrice: true}, 1, true},
		{"sort", FilterPatch{Sort: &sortKey}, 1, true},
		{"page only", FilterPatch{Page: &page}, 2, false},
		{"page and change", FilterPatch{Page: &page, City: &city}, 1, true},
		{"no-op value", FilterPatch{City: &same}, 6, false},
		{"clear absent bound", FilterPatch{ClearMaxPrice: true}, 6, false},
		{"empty", FilterPatch{}, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.patch.Apply(base)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.wantPage, got.Page)
		})
	}
}

func TestPatchCopiesPriceBounds(t *testing.T) {
	v := 500.0
	got, _ := FilterPatch{MinPrice: &v}.Apply(DefaultFilter(10))
	v = 1
	require.NotNil(t, got.MinPrice)
	assert.Equal(t, 500.0, *got.MinPrice)
}

func TestFilterValidate(t *testing.T) {
	lo, hi := 5000000.0, 3000000.0
	f := DefaultFilter(10)
	f.MinPrice, f.MaxPrice = &lo, &hi

	err := f.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must not exceed max_price", verr.Fields["min_price"])

	f.MinPrice = &hi
	assert.NoError(t, f.Validate(), "equal bounds are fine")

	bad := Filter{Page: 0, PerPage: 0, Status: "gone", Sort: "rating", Order: "up"}
	require.ErrorAs(t, bad.Validate(), &verr)
	for _, field := range []string{"page", "per_page", "status", "sort", "order"} {
		assert.Contains(t, verr.Fields, field)
	}
}

func TestFilterValidateRejectsNonFinitePrices(t *testing.T) {
	nan, inf, hi := math.NaN(), math.Inf(1), 3000000.0

	f := DefaultFilter(10)
	f.MinPrice, f.MaxPrice = &nan, &hi
	var verr *ValidationError
	require.ErrorAs(t, f.Validate(), &verr)
	assert.Equal(t, "must be a finite number", verr.Fields["min_price"])

	f = DefaultFilter(10)
	f.MaxPrice = &inf
	require.ErrorAs(t, f.Validate(), &verr)
	assert.Equal(t, "must be a finite number", verr.Fields["max_price"])
}

func TestFilterQuery(t *testing.T) {
	lo := 1500000000.0
	f := DefaultFilter(20)
	f.Page = 3
	f.City = "Ho Chi Minh"
	f.MinPrice = &lo

	q := f.Query()
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "20", q.Get("per_page"))
	assert.Equal(t, "Ho Chi Minh", q.Get("city"))
	assert.Equal(t, "1500000000", q.Get("min_price"))
	assert.Equal(t, "created_at", q.Get("sort"))
	assert.Equal(t, "desc", q.Get("order"))
	assert.False(t, q.Has("max_price"))
	assert.False(t, q.Has("status"))
}

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	assert.NoError(t, verr.OrNil())

	verr.Add("price", "must be positive")
	verr.Add("area", "is required")
	verr.Add("price", "second message is dropped")
	assert.Equal(t, "validation failed: area: is required; price: must be positive", verr.Error())
}
