package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"estate_admin/models"
	"estate_admin/services"
)

// MirrorName is the resume-state key of the catalog mirror
const MirrorName = "catalog"

// PageFetcher loads one catalog page; satisfied by services.CatalogEngine
type PageFetcher interface {
	Fetch(ctx context.Context, f models.Filter) (*models.CatalogPage, error)
}

type ImageLister interface {
	ListImages(ctx context.Context, propertyID int64) (*models.PropertyImages, error)
}

// MirrorStore receives the mirrored rows; satisfied by storage.PostgresStore
type MirrorStore interface {
	UpsertProperty(ctx context.Context, p *models.Property) error
	ReplaceImages(ctx context.Context, propertyID int64, images []models.PropertyImage) error
}

// RunStore tracks mirror runs and the page to resume from; satisfied by storage.SQLiteStore
type RunStore interface {
	CreateRun(run *models.MirrorRun) (int64, error)
	UpdateRun(run *models.MirrorRun) error
	GetResumePage(name string) (int, error)
	SetResumePage(name string, page int) error
	ClearResumePage(name string) error
}

// ImageBackuper copies one image out of band. It reports whether a new copy was made.
type ImageBackuper interface {
	Backup(ctx context.Context, img *models.PropertyImage) (bool, error)
}

// MirrorWorker walks every catalog page and copies properties and their
// image rows into the mirror database.
type MirrorWorker struct {
	catalog PageFetcher
	images  ImageLister
	mirror  MirrorStore
	runs    RunStore
	backup  ImageBackuper

	perPage   int
	pageDelay time.Duration

	mu        sync.Mutex
	running   bool
	triggerCh chan struct{}
	logger    *zap.Logger
	logFunc   services.LogFunc
}

func NewMirrorWorker(catalog PageFetcher, images ImageLister, mirror MirrorStore, runs RunStore, perPage int, logger *zap.Logger) *MirrorWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perPage <= 0 {
		perPage = 50
	}
	return &MirrorWorker{
		catalog:   catalog,
		images:    images,
		mirror:    mirror,
		runs:      runs,
		perPage:   perPage,
		pageDelay: 500 * time.Millisecond,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.Named("mirror"),
		logFunc:   services.NoOpLogger,
	}
}

// SetBackup hands every mirrored image to b
func (w *MirrorWorker) SetBackup(b ImageBackuper) {
	w.backup = b
}

func (w *MirrorWorker) SetLogFunc(fn services.LogFunc) {
	w.logFunc = fn
}

// SetPageDelay sets the pause between page fetches
func (w *MirrorWorker) SetPageDelay(d time.Duration) {
	w.pageDelay = d
}

// Trigger causes the worker to run as soon as it is idle
func (w *MirrorWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run performs a mirror pass for every trigger until ctx is done
func (w *MirrorWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mirror worker stopping")
			return
		case <-w.triggerCh:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("mirror run failed", zap.Error(err))
			}
		}
	}
}

// Filter is the listing query the mirror pages through. Oldest first, so
// properties created during a run land on pages not yet visited.
func (w *MirrorWorker) Filter() models.Filter {
	f := models.DefaultFilter(w.perPage)
	f.Order = models.OrderAsc
	return f
}

// RunOnce mirrors the catalog from the saved resume page to the last page.
// A failed page leaves the resume page on it, so the next run continues there.
func (w *MirrorWorker) RunOnce(ctx context.Context) (*models.MirrorRun, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, fmt.Errorf("mirror already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	run := &models.MirrorRun{StartedAt: time.Now(), Status: models.RunRunning}
	id, err := w.runs.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = id

	start, err := w.runs.GetResumePage(MirrorName)
	if err != nil {
		w.logger.Warn("read resume page", zap.Error(err))
	}
	if start < 1 {
		start = 1
	} else if start > 1 {
		w.logger.Info("resuming mirror", zap.Int("page", start))
	}

	f := w.Filter()
	for page := start; ; page++ {
		data, err := w.catalog.Fetch(ctx, f.WithPage(page))
		if err != nil {
			run.ErrorsCount++
			if serr := w.runs.SetResumePage(MirrorName, page); serr != nil {
				w.logger.Warn("save resume page", zap.Error(serr))
			}
			w.finish(run, models.RunFailed)
			w.logFunc(models.LogError, "mirror", fmt.Sprintf("Mirror stopped at page %d: %v", page, err))
			return run, fmt.Errorf("fetch page %d: %w", page, err)
		}
		run.Pages++

		for i := range data.Data {
			if err := w.mirrorProperty(ctx, &data.Data[i], run); err != nil {
				run.ErrorsCount++
				w.logger.Warn("mirror property", zap.Int64("property_id", data.Data[i].ID), zap.Error(err))
			}
		}

		if page >= data.LastPage() {
			break
		}
		if err := w.runs.SetResumePage(MirrorName, page+1); err != nil {
			w.logger.Warn("save resume page", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.finish(run, models.RunFailed)
			return run, ctx.Err()
		case <-time.After(w.pageDelay):
		}
	}

	if err := w.runs.ClearResumePage(MirrorName); err != nil {
		w.logger.Warn("clear resume page", zap.Error(err))
	}
	w.finish(run, models.RunCompleted)

	w.logger.Info("mirror run complete",
		zap.Int("pages", run.Pages),
		zap.Int("properties", run.Properties),
		zap.Int("images", run.Images),
		zap.Int("errors", run.ErrorsCount))
	w.logFunc(models.LogInfo, "mirror", fmt.Sprintf("Mirrored %d properties over %d pages, %d new image backups, %d errors",
		run.Properties, run.Pages, run.Images, run.ErrorsCount))
	return run, nil
}

func (w *MirrorWorker) mirrorProperty(ctx context.Context, p *models.Property, run *models.MirrorRun) error {
	if err := w.mirror.UpsertProperty(ctx, p); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	list, err := w.images.ListImages(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	if err := w.mirror.ReplaceImages(ctx, p.ID, list.Images); err != nil {
		return fmt.Errorf("replace images: %w", err)
	}
	run.Properties++

	if w.backup == nil {
		return nil
	}
	for i := range list.Images {
		img := &list.Images[i]
		if img.PropertyID == 0 {
			img.PropertyID = p.ID
		}
		copied, err := w.backup.Backup(ctx, img)
		if err != nil {
			run.ErrorsCount++
			w.logger.Warn("backup image", zap.Int64("image_id", img.ID), zap.Error(err))
			continue
		}
		if copied {
			run.Images++
		}
	}
	return nil
}

func (w *MirrorWorker) finish(run *models.MirrorRun, status models.RunStatus) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if err := w.runs.UpdateRun(run); err != nil {
		w.logger.Warn("update run", zap.Int64("run_id", run.ID), zap.Error(err))
	}
}
