package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estate_admin/api"
	"estate_admin/models"
)

// SubmissionAPI is the part of the transport that writes properties
type SubmissionAPI interface {
	CreateProperty(ctx context.Context, p *api.Payload) (*models.Property, error)
	UpdateProperty(ctx context.Context, id int64, p *api.Payload) (string, error)
}

// CatalogCache is what a successful write has to invalidate
type CatalogCache interface {
	Invalidate()
	InvalidateProperty(id int64)
	Property(ctx context.Context, id int64) (*models.Property, error)
}

var ErrNothingToSubmit = errors.New("nothing to submit")

type SubmitResult struct {
	PropertyID int64
	Property   *models.Property // set on create
	Message    string
	Images     int
}

// Submission assembles one create or update request from the edited fields
// and the gallery's pending images. Persisted images are never re-sent.
type Submission struct {
	api     SubmissionAPI
	gallery *Gallery
	catalog CatalogCache
	logger  *zap.Logger
	logf    LogFunc
	now     func() time.Time

	original *models.Property // nil when creating
}

func NewCreateSubmission(api SubmissionAPI, gallery *Gallery, catalog CatalogCache, logger *zap.Logger) *Submission {
	return newSubmission(api, nil, gallery, catalog, logger)
}

// NewUpdateSubmission diffs against original, the property as loaded
func NewUpdateSubmission(api SubmissionAPI, original *models.Property, gallery *Gallery, catalog CatalogCache, logger *zap.Logger) *Submission {
	return newSubmission(api, original, gallery, catalog, logger)
}

func newSubmission(api SubmissionAPI, original *models.Property, gallery *Gallery, catalog CatalogCache, logger *zap.Logger) *Submission {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submission{
		api:      api,
		gallery:  gallery,
		catalog:  catalog,
		logger:   logger,
		logf:     NoOpLogger,
		now:      time.Now,
		original: original,
	}
}

func (s *Submission) SetLogFunc(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	s.logf = fn
}

func (s *Submission) IsUpdate() bool {
	return s.original != nil
}

// Build validates in and assembles the payload without sending it
func (s *Submission) Build(in *models.PropertyInput) (*api.Payload, error) {
	now := s.now()
	p := &api.Payload{}
	if s.gallery != nil {
		p.Images = s.gallery.Pending()
	}

	if s.original == nil {
		if err := in.Validate(now); err != nil {
			return nil, err
		}
		p.Fields = in.Fields()
		p.Features = in.Features.Normalize()
		p.SendFeatures = len(p.Features) > 0
		return p, nil
	}

	orig := models.InputFromProperty(s.original)
	changed := in.ChangedFields(&orig)
	names := make([]string, 0, len(changed))
	for _, f := range changed {
		names = append(names, f.Name)
	}
	if err := in.ValidateFields(now, names); err != nil {
		return nil, err
	}

	p.Fields = changed
	if in.FeaturesChanged(&orig) {
		p.Features = in.Features.Normalize()
		p.SendFeatures = true
	}
	if s.gallery != nil {
		p.PrimaryImageID = s.gallery.PrimaryChange()
	}

	if p.Empty() {
		return nil, ErrNothingToSubmit
	}
	return p, nil
}

// Submit sends the create or update. On success the catalog pages and the
// single-property entry are invalidated and the gallery is reloaded.
func (s *Submission) Submit(ctx context.Context, in *models.PropertyInput) (*SubmitResult, error) {
	payload, err := s.Build(in)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Images: len(payload.Images)}

	if s.original == nil {
		created, err := s.api.CreateProperty(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("create property: %w", err)
		}
		result.PropertyID = created.ID
		result.Property = created
		s.original = created
		s.logf(models.LogInfo, "submission",
			fmt.Sprintf("created property %d with %d images", created.ID, len(payload.Images)))
	} else {
		id := s.original.ID
		msg, err := s.api.UpdateProperty(ctx, id, payload)
		if err != nil {
			return nil, fmt.Errorf("update property %d: %w", id, err)
		}
		result.PropertyID = id
		result.Message = msg
		s.logf(models.LogInfo, "submission",
			fmt.Sprintf("updated property %d: %d fields, %d images", id, len(payload.Fields), len(payload.Images)))
	}

	if s.catalog != nil {
		s.catalog.Invalidate()
		s.catalog.InvalidateProperty(result.PropertyID)
	}

	if s.gallery != nil {
		if err := s.gallery.Commit(ctx, result.PropertyID, payload.Images); err != nil {
			s.logger.Warn("reload images after submit", zap.Int64("property_id", result.PropertyID), zap.Error(err))
		}
	}

	if result.Property == nil && s.catalog != nil {
		fresh, err := s.catalog.Property(ctx, result.PropertyID)
		if err != nil {
			s.logger.Warn("reload property after update", zap.Int64("property_id", result.PropertyID), zap.Error(err))
		} else {
			s.original = fresh
		}
	}

	return result, nil
}
