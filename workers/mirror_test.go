package workers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_admin/models"
	"estate_admin/storage"
)

// fakeCatalog serves lastPage pages of two properties each
type fakeCatalog struct {
	mu       sync.Mutex
	lastPage int
	failPage int
	fetched  []int
	filters  []models.Filter
}

func (c *fakeCatalog) Fetch(ctx context.Context, f models.Filter) (*models.CatalogPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, f.Page)
	c.filters = append(c.filters, f)
	if f.Page == c.failPage {
		c.failPage = 0
		return nil, errors.New("connection reset")
	}
	base := int64(f.Page * 10)
	return &models.CatalogPage{
		Data: []models.Property{{ID: base + 1, Title: "a"}, {ID: base + 2, Title: "b"}},
		Meta: models.PageMeta{CurrentPage: f.Page, LastPage: c.lastPage, PerPage: f.PerPage},
	}, nil
}

func (c *fakeCatalog) ListImages(ctx context.Context, propertyID int64) (*models.PropertyImages, error) {
	return &models.PropertyImages{
		PropertyID: propertyID,
		Images: []models.PropertyImage{
			{ID: propertyID * 100, ImagePath: "/storage/properties/front.jpg"},
		},
	}, nil
}

type memMirror struct {
	mu         sync.Mutex
	properties map[int64]models.Property
	images     map[int64][]models.PropertyImage
}

func newMemMirror() *memMirror {
	return &memMirror{properties: map[int64]models.Property{}, images: map[int64][]models.PropertyImage{}}
}

func (m *memMirror) UpsertProperty(ctx context.Context, p *models.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = *p
	return nil
}

func (m *memMirror) ReplaceImages(ctx context.Context, propertyID int64, images []models.PropertyImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[propertyID] = images
	return nil
}

type countingBackup struct {
	mu   sync.Mutex
	seen []*models.PropertyImage
}

func (b *countingBackup) Backup(ctx context.Context, img *models.PropertyImage) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, img)
	return true, nil
}

func newTestRuns(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestMirror(t *testing.T, catalog *fakeCatalog, mirror *memMirror, runs RunStore) *MirrorWorker {
	w := NewMirrorWorker(catalog, catalog, mirror, runs, 2, nil)
	w.SetPageDelay(0)
	return w
}

func TestMirrorCopiesEveryPage(t *testing.T) {
	catalog := &fakeCatalog{lastPage: 3}
	mirror := newMemMirror()
	runs := newTestRuns(t)
	backup := &countingBackup{}

	w := newTestMirror(t, catalog, mirror, runs)
	w.SetBackup(backup)

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, catalog.fetched)
	assert.Equal(t, models.OrderAsc, catalog.filters[0].Order)
	assert.Equal(t, 2, catalog.filters[0].PerPage)

	assert.Len(t, mirror.properties, 6)
	assert.Contains(t, mirror.properties, int64(32))
	assert.Len(t, mirror.images[int64(21)], 1)

	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Pages)
	assert.Equal(t, 6, run.Properties)
	assert.Equal(t, 6, run.Images)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, backup.seen, 6)
	assert.Equal(t, int64(11), backup.seen[0].PropertyID, "property id filled in from the owner")

	last, err := runs.LastRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.RunCompleted, last.Status)
	assert.Equal(t, 6, last.Properties)

	resume, err := runs.GetResumePage(MirrorName)
	require.NoError(t, err)
	assert.Zero(t, resume)
}

func TestMirrorResumesFromFailedPage(t *testing.T) {
	catalog := &fakeCatalog{lastPage: 3, failPage: 2}
	mirror := newMemMirror()
	runs := newTestRuns(t)
	w := newTestMirror(t, catalog, mirror, runs)

	run, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch page 2")
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, 1, run.ErrorsCount)

	resume, err := runs.GetResumePage(MirrorName)
	require.NoError(t, err)
	assert.Equal(t, 2, resume)

	catalog.fetched = nil
	run, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, catalog.fetched)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Len(t, mirror.properties, 6)
}

func TestMirrorSinglePageCatalog(t *testing.T) {
	catalog := &fakeCatalog{lastPage: 0}
	w := newTestMirror(t, catalog, newMemMirror(), newTestRuns(t))

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, catalog.fetched)
	assert.Equal(t, 1, run.Pages)
}

func TestTriggerDoesNotBlock(t *testing.T) {
	w := NewMirrorWorker(&fakeCatalog{}, &fakeCatalog{}, newMemMirror(), nil, 0, nil)
	w.Trigger()
	w.Trigger()
	assert.Len(t, w.triggerCh, 1)
	assert.Equal(t, 50, w.perPage)
}
