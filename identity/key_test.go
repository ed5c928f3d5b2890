package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"estate_admin/models"
)

func price(v float64) *float64 { return &v }

func TestFilterKey_CoversEveryField(t *testing.T) {
	base := models.DefaultFilter(10)

	variants := []models.Filter{
		base.WithPage(2),
		func() models.Filter { f := base; f.PerPage = 20; return f }(),
		func() models.Filter { f := base; f.City = "Hanoi"; return f }(),
		func() models.Filter { f := base; f.Status = models.StatusSold; return f }(),
		func() models.Filter { f := base; f.PropertyType = models.PropertyTypeVilla; return f }(),
		func() models.Filter { f := base; f.MinPrice = price(1); return f }(),
		func() models.Filter { f := base; f.MaxPrice = price(1); return f }(),
		func() models.Filter { f := base; f.Sort = models.SortPrice; return f }(),
		func() models.Filter { f := base; f.Order = models.OrderAsc; return f }(),
	}

	seen := map[string]bool{FilterKey(base): true}
	for _, v := range variants {
		key := FilterKey(v)
		assert.False(t, seen[key], "key collision for %+v", v)
		seen[key] = true
	}
}

func TestFilterKey_MinAndMaxDoNotCollide(t *testing.T) {
	a := models.DefaultFilter(10)
	a.MinPrice = price(5)
	b := models.DefaultFilter(10)
	b.MaxPrice = price(5)

	assert.NotEqual(t, FilterKey(a), FilterKey(b))
}

func TestBaseKey_IgnoresPage(t *testing.T) {
	f := models.DefaultFilter(10)
	assert.Equal(t, BaseKey(f), BaseKey(f.WithPage(7)))
	assert.NotEqual(t, FilterKey(f), FilterKey(f.WithPage(7)))
}

func TestFingerprint_Stable(t *testing.T) {
	key := FilterKey(models.DefaultFilter(10))
	assert.Equal(t, Fingerprint(key), Fingerprint(key))
	assert.Len(t, Fingerprint(key), 32)
}

func TestNormalizeCity(t *testing.T) {
	assert.Equal(t, "Ho Chi Minh", NormalizeCity("  Ho   Chi\tMinh "))
	assert.Equal(t, "", NormalizeCity("   "))
}
