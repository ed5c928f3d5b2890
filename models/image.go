package models

import (
	"bytes"
	"io"
	"time"

	"github.com/google/uuid"
)

// PropertyImage is a persisted image owned by exactly one property
type PropertyImage struct {
	ID         int64     `json:"id" db:"id"`
	PropertyID int64     `json:"property_id" db:"property_id"`
	ImagePath  string    `json:"image_path" db:"image_path"`
	ImageName  string    `json:"image_name" db:"image_name"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
	SortOrder  int       `json:"sort_order" db:"sort_order"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PropertyImages is the body of GET /properties/{id}/images
type PropertyImages struct {
	PropertyID int64           `json:"property_id"`
	Images     []PropertyImage `json:"images"`
}

// PendingImage is a locally selected file that has not been uploaded yet.
// It has no server identity; Handle only lives for one editing session.
type PendingImage struct {
	Handle      uuid.UUID
	Name        string
	ContentType string
	Data        []byte
	Preview     []byte // JPEG thumbnail
	SelectedAt  time.Time
}

// Reader returns a fresh reader over the file contents
func (p *PendingImage) Reader() io.Reader {
	return bytes.NewReader(p.Data)
}

// PreviewRef is the transient reference the editing UI uses for the thumbnail
func (p *PendingImage) PreviewRef() string {
	return "preview:" + p.Handle.String()
}
