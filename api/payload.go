package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"estate_admin/models"
)

// Payload is one multipart create or update request
type Payload struct {
	// Method is sent as _method for servers that only route POST multipart
	Method string
	Fields []models.Field

	// Features is sent only when SendFeatures is set. An empty set is sent
	// as a single empty "features" entry so the server clears the tags.
	Features     []string
	SendFeatures bool

	PrimaryImageID int64
	Images         []*models.PendingImage
}

// Empty reports whether the payload would change nothing
func (p *Payload) Empty() bool {
	return len(p.Fields) == 0 && !p.SendFeatures && p.PrimaryImageID == 0 && len(p.Images) == 0
}

// Encode writes the payload in field order: overrides, scalar fields,
// features, primary selection, then files.
func (p *Payload) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if p.Method != "" {
		if err := w.WriteField("_method", p.Method); err != nil {
			return nil, "", err
		}
	}

	for _, f := range p.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", err
		}
	}

	if p.SendFeatures {
		if len(p.Features) == 0 {
			if err := w.WriteField("features", ""); err != nil {
				return nil, "", err
			}
		}
		for _, tag := range p.Features {
			if err := w.WriteField("features[]", tag); err != nil {
				return nil, "", err
			}
		}
	}

	if p.PrimaryImageID > 0 {
		if err := w.WriteField("primary_image_id", strconv.FormatInt(p.PrimaryImageID, 10)); err != nil {
			return nil, "", err
		}
	}

	if err := writeImages(w, p.Images); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeImages(w *multipart.Writer, images []*models.PendingImage) error {
	for _, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="images[]"; filename="%s"`, quoteEscaper.Replace(img.Name)))
		ct := img.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := part.Write(img.Data); err != nil {
			return fmt.Errorf("write image %s: %w", img.Name, err)
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
