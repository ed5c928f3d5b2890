package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"estate_admin/models"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// FilterKey is the canonical cache key of a filter: every field, in a fixed
// order, so two filters share a key exactly when they would issue the same
// request.
func FilterKey(f models.Filter) string {
	return fmt.Sprintf("page=%d|%s", f.Page, BaseKey(f))
}

// BaseKey is FilterKey without the page number. Pages of one result set
// share a base key.
func BaseKey(f models.Filter) string {
	return fmt.Sprintf("per_page=%d|city=%s|status=%s|type=%s|min=%s|max=%s|sort=%s|order=%s",
		f.PerPage,
		f.City,
		f.Status,
		f.PropertyType,
		bound(f.MinPrice),
		bound(f.MaxPrice),
		f.Sort,
		f.Order,
	)
}

// Fingerprint hashes a key into a fixed-width token for external stores
func Fingerprint(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// NormalizeCity trims the value and collapses inner whitespace. Case is kept:
// the server compares cities verbatim.
func NormalizeCity(city string) string {
	city = multiSpaceRegex.ReplaceAllString(city, " ")
	return strings.TrimSpace(city)
}

func bound(v *float64) string {
	if v == nil {
		return "-"
	}
	return models.FormatDecimal(*v)
}
