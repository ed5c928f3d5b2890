package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func completeInput() PropertyInput {
	price, area := 2750000000.0, 65.0
	return PropertyInput{
		Title:        "Riverside studio",
		PropertyType: PropertyTypeApartment,
		Status:       StatusAvailable,
		Price:        &price,
		Area:         &area,
		Address:      "8 Ton Duc Thang",
		City:         "Ho Chi Minh",
		District:     "District 1",
		ContactName:  "Minh",
		ContactPhone: "0907654321",
	}
}

func TestValidateComplete(t *testing.T) {
	in := completeInput()
	assert.NoError(t, in.Validate(testNow))
}

func TestValidateRanges(t *testing.T) {
	neg, zero, year := -1, 0, 1899
	lat, lng := 91.0, -181.0
	price := 0.0
	future := 2027

	in := completeInput()
	in.Bedrooms = &neg
	in.Floors = &zero
	in.YearBuilt = &year
	in.Latitude = &lat
	in.Longitude = &lng
	in.Price = &price
	in.ContactEmail = "not-an-email"
	in.PropertyType = "castle"

	var verr *ValidationError
	require.ErrorAs(t, in.Validate(testNow), &verr)
	for _, field := range []string{"bedrooms", "floors", "year_built", "latitude", "longitude", "price", "contact_email", "property_type"} {
		assert.Contains(t, verr.Fields, field)
	}

	in = completeInput()
	in.YearBuilt = &future
	require.ErrorAs(t, in.Validate(testNow), &verr)
	assert.Equal(t, "must be between 1900 and 2026", verr.Fields["year_built"])
}

func TestValidateRejectsNonFiniteNumbers(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		price, area, lat, lng := v, v, v, v
		in := completeInput()
		in.Price, in.Area = &price, &area
		in.Latitude, in.Longitude = &lat, &lng

		var verr *ValidationError
		require.ErrorAs(t, in.Validate(testNow), &verr, "value %v", v)
		assert.Equal(t, "must be a finite number", verr.Fields["price"])
		assert.Equal(t, "must be a finite number", verr.Fields["area"])
		assert.Contains(t, verr.Fields, "latitude")
		assert.Contains(t, verr.Fields, "longitude")
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, validEmail("lan@example.com"))
	assert.False(t, validEmail("lan@localhost"))
	assert.False(t, validEmail("Lan <lan@example.com>"))
	assert.False(t, validEmail("@example.com"))
}

func TestFieldsSkipsEmptyAndKeepsOrder(t *testing.T) {
	in := completeInput()
	fields := in.Fields()

	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"title", "property_type", "status", "price", "area", "address", "city", "district", "contact_name", "contact_phone"}, names)
	assert.Equal(t, Field{Name: "price", Value: "2750000000"}, fields[3])
}

func TestChangedFields(t *testing.T) {
	beds := 3
	lat := 10.77
	orig := completeInput()
	orig.Bedrooms = &beds
	orig.Latitude = &lat

	in := orig
	newBeds := 4
	in.Bedrooms = &newBeds
	in.Latitude = nil
	in.Description = "  "

	assert.Equal(t, []Field{
		{Name: "bedrooms", Value: "4"},
		{Name: "latitude", Value: ""},
	}, in.ChangedFields(&orig))
}

func TestInputFromPropertyDoesNotAlias(t *testing.T) {
	beds := 2
	p := &Property{Title: "x", Price: 10, Area: 5, Bedrooms: &beds, Features: []string{"pool"}}
	in := InputFromProperty(p)

	*in.Bedrooms = 9
	*in.Price = 11
	in.Features.Add("garage")

	assert.Equal(t, 2, *p.Bedrooms)
	assert.Equal(t, 10.0, p.Price)
	assert.Equal(t, []string{"pool"}, p.Features)
}

func TestFeatureSet(t *testing.T) {
	fs := NewFeatureSet(" pool ", "garden", "", "pool")
	assert.Equal(t, FeatureSet{"pool", "garden"}, fs)

	assert.False(t, fs.Add("garden"))
	assert.False(t, fs.Add("   "))
	assert.True(t, fs.Add("elevator"))
	assert.True(t, fs.Remove("pool"))
	assert.False(t, fs.Remove("pool"))
	assert.Equal(t, FeatureSet{"garden", "elevator"}, fs)

	orig := PropertyInput{Features: NewFeatureSet("a", "b")}
	in := PropertyInput{Features: NewFeatureSet("b", "a")}
	assert.True(t, in.FeaturesChanged(&orig), "order matters")
}
