package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estate_admin/api"
	"estate_admin/imaging"
	"estate_admin/models"
)

// GalleryAPI is the part of the transport the image set manager needs
type GalleryAPI interface {
	ListImages(ctx context.Context, propertyID int64) (*models.PropertyImages, error)
	DeleteImage(ctx context.Context, propertyID, imageID int64) error
}

var (
	ErrIndexOutOfRange = errors.New("image index out of range")
	ErrImageNotFound   = errors.New("image not found")
	ErrNotPersisted    = errors.New("image is not saved yet")
)

// ImageEntry is one position of the rendered image list: either a
// PersistedEntry or a PendingEntry. Resolve the variant with a type switch
// before acting on it.
type ImageEntry interface {
	DisplayName() string
	imageEntry()
}

// PersistedEntry is an image the server already stores
type PersistedEntry struct {
	Image models.PropertyImage
}

func (PersistedEntry) imageEntry() {}

func (e PersistedEntry) DisplayName() string { return e.Image.ImageName }

// PendingEntry is a local file that goes up with the next submission
type PendingEntry struct {
	Image *models.PendingImage
}

func (PendingEntry) imageEntry() {}

func (e PendingEntry) DisplayName() string { return e.Image.Name }

// LocalFile is a file picked by the operator, before validation
type LocalFile struct {
	Name string
	Data []byte
}

// Gallery manages the images of one property as a single sequence in which
// every persisted entry precedes every pending one. It is the only writer of
// that sequence.
//
// Primary selection is local until submit: SetPrimary only records the choice
// and the next update sends it as primary_image_id. The IsPrimary flags of
// the held entries always mirror the effective primary, so at most one entry
// is flagged.
type Gallery struct {
	api    GalleryAPI
	logger *zap.Logger
	logf   LogFunc
	now    func() time.Time

	mu              sync.Mutex
	propertyID      int64
	entries         []ImageEntry
	primaryID       int64 // explicit selection, 0 when none
	serverPrimaryID int64 // primary as last loaded from the server, 0 when none
	idLocks         map[int64]*sync.Mutex
	removed         map[int64]bool
}

// NewGallery creates an empty image set. propertyID is 0 for a property that
// does not exist yet.
func NewGallery(api GalleryAPI, propertyID int64, logger *zap.Logger) *Gallery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gallery{
		api:        api,
		logger:     logger,
		logf:       NoOpLogger,
		now:        time.Now,
		propertyID: propertyID,
		idLocks:    make(map[int64]*sync.Mutex),
		removed:    make(map[int64]bool),
	}
}

func (g *Gallery) SetLogFunc(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	g.logf = fn
}

func (g *Gallery) PropertyID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.propertyID
}

// Load replaces the persisted partition with the server's images, ordered by
// sort order then id. Pending entries are kept.
func (g *Gallery) Load(ctx context.Context) error {
	g.mu.Lock()
	id := g.propertyID
	g.mu.Unlock()
	if id == 0 {
		return nil
	}

	resp, err := g.api.ListImages(ctx, id)
	if err != nil {
		return fmt.Errorf("load images for %d: %w", id, err)
	}

	images := slices.Clone(resp.Images)
	slices.SortStableFunc(images, func(a, b models.PropertyImage) int {
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	g.mu.Lock()
	defer g.mu.Unlock()

	entries := make([]ImageEntry, 0, len(images)+len(g.entries))
	g.serverPrimaryID = 0
	for _, img := range images {
		if g.removed[img.ID] {
			continue
		}
		if img.IsPrimary && g.serverPrimaryID == 0 {
			g.serverPrimaryID = img.ID
		}
		entries = append(entries, PersistedEntry{Image: img})
	}
	for _, e := range g.entries {
		if p, ok := e.(PendingEntry); ok {
			entries = append(entries, p)
		}
	}
	g.entries = entries

	if g.primaryID != 0 && g.persistedIndexLocked(g.primaryID) < 0 {
		g.primaryID = 0
	}
	g.syncPrimaryLocked()
	return nil
}

// AddPending validates every file and appends them all, or none when any
// file is rejected. Nothing is sent to the server.
func (g *Gallery) AddPending(files ...LocalFile) ([]*models.PendingImage, error) {
	added := make([]*models.PendingImage, 0, len(files))
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%s: empty file", f.Name)
		}
		contentType, err := imaging.Sniff(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		preview, err := imaging.Thumbnail(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		added = append(added, &models.PendingImage{
			Handle:      uuid.New(),
			Name:        f.Name,
			ContentType: contentType,
			Data:        f.Data,
			Preview:     preview,
			SelectedAt:  g.now(),
		})
	}

	g.mu.Lock()
	for _, img := range added {
		g.entries = append(g.entries, PendingEntry{Image: img})
	}
	g.syncPrimaryLocked()
	g.mu.Unlock()

	return added, nil
}

// RemoveAt removes the entry at a rendered index. A pending entry is dropped
// locally. A persisted entry is deleted on the server by its id and leaves
// the sequence only after the server confirmed; on failure the sequence is
// unchanged.
func (g *Gallery) RemoveAt(ctx context.Context, index int) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.entries) {
		n := len(g.entries)
		g.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, n)
	}

	switch entry := g.entries[index].(type) {
	case PendingEntry:
		g.entries = slices.Delete(g.entries, index, index+1)
		g.syncPrimaryLocked()
		g.mu.Unlock()
		return nil
	case PersistedEntry:
		g.mu.Unlock()
		return g.RemoveImage(ctx, entry.Image.ID)
	default:
		g.mu.Unlock()
		return fmt.Errorf("unknown image entry %T", entry)
	}
}

// RemovePending drops the pending entry with the given handle.
func (g *Gallery) RemovePending(handle uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, e := range g.entries {
		if p, ok := e.(PendingEntry); ok && p.Image.Handle == handle {
			g.entries = slices.Delete(g.entries, i, i+1)
			g.syncPrimaryLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: pending %s", ErrImageNotFound, handle)
}

// RemoveImage deletes a persisted image by id. Calls for the same id run one
// at a time; once an id is gone further calls return ErrImageNotFound without
// contacting the server.
func (g *Gallery) RemoveImage(ctx context.Context, imageID int64) error {
	g.mu.Lock()
	lock, ok := g.idLocks[imageID]
	if !ok {
		lock = &sync.Mutex{}
		g.idLocks[imageID] = lock
	}
	g.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	g.mu.Lock()
	if g.removed[imageID] || g.persistedIndexLocked(imageID) < 0 {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrImageNotFound, imageID)
	}
	propertyID := g.propertyID
	g.mu.Unlock()

	err := g.api.DeleteImage(ctx, propertyID, imageID)
	if err != nil && !api.IsNotFound(err) {
		g.logger.Warn("delete image failed", zap.Int64("property_id", propertyID), zap.Int64("image_id", imageID), zap.Error(err))
		g.logf(models.LogError, "gallery", fmt.Sprintf("delete image %d of property %d failed: %v", imageID, propertyID, err))
		return fmt.Errorf("delete image %d: %w", imageID, err)
	}

	g.mu.Lock()
	if i := g.persistedIndexLocked(imageID); i >= 0 {
		g.entries = slices.Delete(g.entries, i, i+1)
	}
	g.removed[imageID] = true
	if g.primaryID == imageID {
		g.primaryID = 0
	}
	if g.serverPrimaryID == imageID {
		g.serverPrimaryID = 0
	}
	g.syncPrimaryLocked()
	g.mu.Unlock()

	g.logf(models.LogInfo, "gallery", fmt.Sprintf("deleted image %d of property %d", imageID, propertyID))
	return nil
}

// SetPrimary selects a persisted image as primary. The choice is sent with
// the next update.
func (g *Gallery) SetPrimary(imageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.persistedIndexLocked(imageID) < 0 {
		if g.removed[imageID] {
			return fmt.Errorf("%w: %d", ErrImageNotFound, imageID)
		}
		return fmt.Errorf("%w: %d", ErrNotPersisted, imageID)
	}
	g.primaryID = imageID
	g.syncPrimaryLocked()
	return nil
}

// PrimaryIndex is the rendered index of the primary image, or -1 for an
// empty set. An explicit selection wins, then the server's flag, then the
// first rendered entry.
func (g *Gallery) PrimaryIndex() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primaryIndexLocked()
}

// PrimaryChange returns the image id to send as primary_image_id, or 0 when
// the selection matches what the server already has.
func (g *Gallery) PrimaryChange() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.primaryID == 0 || g.primaryID == g.serverPrimaryID {
		return 0
	}
	return g.primaryID
}

// Rendered returns the sequence as displayed
func (g *Gallery) Rendered() []ImageEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.entries)
}

func (g *Gallery) Persisted() []models.PropertyImage {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []models.PropertyImage
	for _, e := range g.entries {
		if p, ok := e.(PersistedEntry); ok {
			out = append(out, p.Image)
		}
	}
	return out
}

func (g *Gallery) Pending() []*models.PendingImage {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*models.PendingImage
	for _, e := range g.entries {
		if p, ok := e.(PendingEntry); ok {
			out = append(out, p.Image)
		}
	}
	return out
}

func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Commit is called after a successful submission: the sent pending files now
// live on the server, so they are dropped and the persisted partition is
// reloaded. Pending files added after the payload was built stay pending.
// propertyID adopts the id of a freshly created property.
func (g *Gallery) Commit(ctx context.Context, propertyID int64, sent []*models.PendingImage) error {
	uploaded := make(map[uuid.UUID]bool, len(sent))
	for _, img := range sent {
		uploaded[img.Handle] = true
	}

	g.mu.Lock()
	if propertyID != 0 {
		g.propertyID = propertyID
	}
	kept := make([]ImageEntry, 0, len(g.entries))
	for _, e := range g.entries {
		if p, ok := e.(PendingEntry); ok && uploaded[p.Image.Handle] {
			continue
		}
		kept = append(kept, e)
	}
	g.entries = kept
	g.primaryID = 0
	g.syncPrimaryLocked()
	g.mu.Unlock()

	return g.Load(ctx)
}

func (g *Gallery) persistedIndexLocked(imageID int64) int {
	for i, e := range g.entries {
		p, ok := e.(PersistedEntry)
		if !ok {
			break
		}
		if p.Image.ID == imageID {
			return i
		}
	}
	return -1
}

func (g *Gallery) primaryIndexLocked() int {
	if len(g.entries) == 0 {
		return -1
	}
	if g.primaryID != 0 {
		if i := g.persistedIndexLocked(g.primaryID); i >= 0 {
			return i
		}
	}
	if g.serverPrimaryID != 0 {
		if i := g.persistedIndexLocked(g.serverPrimaryID); i >= 0 {
			return i
		}
	}
	return 0
}

// syncPrimaryLocked rewrites the held IsPrimary flags so that only the
// persisted entry at the primary index carries one.
func (g *Gallery) syncPrimaryLocked() {
	primary := g.primaryIndexLocked()
	for i, e := range g.entries {
		p, ok := e.(PersistedEntry)
		if !ok {
			break
		}
		want := i == primary
		if p.Image.IsPrimary != want {
			p.Image.IsPrimary = want
			g.entries[i] = p
		}
	}
}
