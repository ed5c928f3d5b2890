package models

import (
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"
)

// PropertyInput is the editable field set of a property, as filled in by an
// operator. Optional numbers are pointers; nil means "not provided".
type PropertyInput struct {
	Title        string       `yaml:"title"`
	Description  string       `yaml:"description"`
	PropertyType PropertyType `yaml:"property_type"`
	Status       Status       `yaml:"status"`
	Price        *float64     `yaml:"price"`
	Area         *float64     `yaml:"area"`
	Bedrooms     *int         `yaml:"bedrooms"`
	Bathrooms    *int         `yaml:"bathrooms"`
	Floors       *int         `yaml:"floors"`
	Address      string       `yaml:"address"`
	City         string       `yaml:"city"`
	District     string       `yaml:"district"`
	PostalCode   string       `yaml:"postal_code"`
	Latitude     *float64     `yaml:"latitude"`
	Longitude    *float64     `yaml:"longitude"`
	YearBuilt    *int         `yaml:"year_built"`
	Features     FeatureSet   `yaml:"features"`
	ContactName  string       `yaml:"contact_name"`
	ContactPhone string       `yaml:"contact_phone"`
	ContactEmail string       `yaml:"contact_email"`
}

// Field is one scalar multipart entry
type Field struct {
	Name  string
	Value string
}

// Scalar field names in the order they are written to the payload
var scalarFields = []string{
	"title", "description", "property_type", "status", "price", "area",
	"bedrooms", "bathrooms", "floors", "address", "city", "district",
	"postal_code", "latitude", "longitude", "year_built",
	"contact_name", "contact_phone", "contact_email",
}

var requiredFields = map[string]bool{
	"title": true, "price": true, "area": true, "city": true, "district": true,
	"status": true, "property_type": true, "address": true,
	"contact_name": true, "contact_phone": true,
}

// InputFromProperty seeds an input from a loaded property, for editing
func InputFromProperty(p *Property) PropertyInput {
	price, area := p.Price, p.Area
	return PropertyInput{
		Title:        p.Title,
		Description:  p.Description,
		PropertyType: p.PropertyType,
		Status:       p.Status,
		Price:        &price,
		Area:         &area,
		Bedrooms:     copyInt(p.Bedrooms),
		Bathrooms:    copyInt(p.Bathrooms),
		Floors:       copyInt(p.Floors),
		Address:      p.Address,
		City:         p.City,
		District:     p.District,
		PostalCode:   p.PostalCode,
		Latitude:     copyFloat(p.Latitude),
		Longitude:    copyFloat(p.Longitude),
		YearBuilt:    copyInt(p.YearBuilt),
		Features:     NewFeatureSet(p.Features...),
		ContactName:  p.ContactName,
		ContactPhone: p.ContactPhone,
		ContactEmail: p.ContactEmail,
	}
}

// Values returns the encoded value of every scalar field, empty when unset
func (in *PropertyInput) Values() map[string]string {
	return map[string]string{
		"title":         strings.TrimSpace(in.Title),
		"description":   strings.TrimSpace(in.Description),
		"property_type": string(in.PropertyType),
		"status":        string(in.Status),
		"price":         formatFloatPtr(in.Price),
		"area":          formatFloatPtr(in.Area),
		"bedrooms":      formatIntPtr(in.Bedrooms),
		"bathrooms":     formatIntPtr(in.Bathrooms),
		"floors":        formatIntPtr(in.Floors),
		"address":       strings.TrimSpace(in.Address),
		"city":          strings.TrimSpace(in.City),
		"district":      strings.TrimSpace(in.District),
		"postal_code":   strings.TrimSpace(in.PostalCode),
		"latitude":      formatFloatPtr(in.Latitude),
		"longitude":     formatFloatPtr(in.Longitude),
		"year_built":    formatIntPtr(in.YearBuilt),
		"contact_name":  strings.TrimSpace(in.ContactName),
		"contact_phone": strings.TrimSpace(in.ContactPhone),
		"contact_email": strings.TrimSpace(in.ContactEmail),
	}
}

// Fields returns the non-empty scalar fields in payload order
func (in *PropertyInput) Fields() []Field {
	values := in.Values()
	var out []Field
	for _, name := range scalarFields {
		if v := values[name]; v != "" {
			out = append(out, Field{Name: name, Value: v})
		}
	}
	return out
}

// ChangedFields returns the scalar fields whose encoded value differs from
// orig. A cleared optional field is returned with an empty value.
func (in *PropertyInput) ChangedFields(orig *PropertyInput) []Field {
	now, before := in.Values(), orig.Values()
	var out []Field
	for _, name := range scalarFields {
		if now[name] != before[name] {
			out = append(out, Field{Name: name, Value: now[name]})
		}
	}
	return out
}

// FeaturesChanged compares feature tags in order
func (in *PropertyInput) FeaturesChanged(orig *PropertyInput) bool {
	return !slices.Equal(in.Features.Normalize(), orig.Features.Normalize())
}

// Validate checks every invariant of a property; used before create.
func (in *PropertyInput) Validate(now time.Time) error {
	return in.ValidateFields(now, scalarFields)
}

// ValidateFields checks only the named fields. Required fields may not be empty.
func (in *PropertyInput) ValidateFields(now time.Time, names []string) error {
	verr := &ValidationError{}
	values := in.Values()

	for _, name := range names {
		if requiredFields[name] && values[name] == "" {
			verr.Add(name, "is required")
		}
	}

	for _, name := range names {
		switch name {
		case "property_type":
			if in.PropertyType != "" && !in.PropertyType.Valid() {
				verr.Add(name, "unknown property type "+string(in.PropertyType))
			}
		case "status":
			if in.Status != "" && !in.Status.Valid() {
				verr.Add(name, "unknown status "+string(in.Status))
			}
		case "price", "area":
			v := in.Price
			if name == "area" {
				v = in.Area
			}
			switch {
			case v == nil:
			case !finite(*v):
				verr.Add(name, "must be a finite number")
			case *v <= 0:
				verr.Add(name, "must be positive")
			}
		case "bedrooms":
			if in.Bedrooms != nil && *in.Bedrooms < 0 {
				verr.Add(name, "must not be negative")
			}
		case "bathrooms":
			if in.Bathrooms != nil && *in.Bathrooms < 0 {
				verr.Add(name, "must not be negative")
			}
		case "floors":
			if in.Floors != nil && *in.Floors < 1 {
				verr.Add(name, "must be at least 1")
			}
		case "latitude":
			if in.Latitude != nil && (!finite(*in.Latitude) || *in.Latitude < -90 || *in.Latitude > 90) {
				verr.Add(name, "must be between -90 and 90")
			}
		case "longitude":
			if in.Longitude != nil && (!finite(*in.Longitude) || *in.Longitude < -180 || *in.Longitude > 180) {
				verr.Add(name, "must be between -180 and 180")
			}
		case "year_built":
			if in.YearBuilt != nil && (*in.YearBuilt < 1900 || *in.YearBuilt > now.Year()) {
				verr.Add(name, "must be between 1900 and "+strconv.Itoa(now.Year()))
			}
		case "contact_email":
			if email := strings.TrimSpace(in.ContactEmail); email != "" && !validEmail(email) {
				verr.Add(name, "is not a valid email address")
			}
		}
	}

	if dup := in.Features.duplicate(); dup != "" {
		verr.Add("features", "duplicate feature "+dup)
	}

	return verr.OrNil()
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".")
}

// FeatureSet is an ordered list of feature tags without duplicates
type FeatureSet []string

func NewFeatureSet(tags ...string) FeatureSet {
	var fs FeatureSet
	for _, t := range tags {
		fs.Add(t)
	}
	return fs
}

// Add appends a trimmed tag. Empty and already present tags are ignored.
func (fs *FeatureSet) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || slices.Contains(*fs, tag) {
		return false
	}
	*fs = append(*fs, tag)
	return true
}

func (fs *FeatureSet) Remove(tag string) bool {
	i := slices.Index(*fs, tag)
	if i < 0 {
		return false
	}
	*fs = slices.Delete(*fs, i, i+1)
	return true
}

// Normalize returns the trimmed, de-duplicated tags in first-seen order
func (fs FeatureSet) Normalize() []string {
	return []string(NewFeatureSet(fs...))
}

func (fs FeatureSet) duplicate() string {
	seen := make(map[string]bool, len(fs))
	for _, t := range fs {
		t = strings.TrimSpace(t)
		if seen[t] {
			return t
		}
		seen[t] = true
	}
	return ""
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatDecimal(*v)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
