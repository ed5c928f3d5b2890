package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"estate_admin/models"
)

const maxImageBytes = 50 * 1024 * 1024

// Uploader stores one object; satisfied by storage.S3Uploader
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// BackupStore records which images have been copied; satisfied by storage.PostgresStore
type BackupStore interface {
	GetBackup(ctx context.Context, imageID int64) (*models.ImageBackup, error)
	UpsertBackup(ctx context.Context, b *models.ImageBackup) error
}

// ImageBackupWorker downloads property images, hashes them, and uploads them to S3
type ImageBackupWorker struct {
	store      BackupStore
	uploader   Uploader
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger
}

// NewImageBackupWorker resolves relative image paths against baseURL
func NewImageBackupWorker(store BackupStore, uploader Uploader, httpClient *http.Client, baseURL string, logger *zap.Logger) (*ImageBackupWorker, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageBackupWorker{
		store:      store,
		uploader:   uploader,
		httpClient: httpClient,
		baseURL:    base,
		logger:     logger.Named("backup"),
	}, nil
}

// BackupResult contains the outcome of copying one image
type BackupResult struct {
	ImageID     int64
	SourceURL   string
	S3Key       string
	ContentHash string
	Size        int64
	Error       error
}

// SourceURL is where the image is downloaded from. Absolute paths are used
// as-is; relative ones hang off the API host.
func (w *ImageBackupWorker) SourceURL(img *models.PropertyImage) (string, error) {
	ref, err := url.Parse(img.ImagePath)
	if err != nil {
		return "", fmt.Errorf("parse image path: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return w.baseURL.ResolveReference(ref).String(), nil
}

// Backup copies img unless a backup from the same source already exists
func (w *ImageBackupWorker) Backup(ctx context.Context, img *models.PropertyImage) (bool, error) {
	src, err := w.SourceURL(img)
	if err != nil {
		return false, err
	}

	existing, err := w.store.GetBackup(ctx, img.ID)
	if err != nil {
		return false, fmt.Errorf("get backup: %w", err)
	}
	if existing != nil && existing.SourceURL == src {
		return false, nil
	}

	result := w.Process(ctx, img, src)
	if result.Error != nil {
		return false, result.Error
	}

	backup := &models.ImageBackup{
		ImageID:     img.ID,
		PropertyID:  img.PropertyID,
		SourceURL:   src,
		S3Key:       result.S3Key,
		ContentHash: result.ContentHash,
		SizeBytes:   result.Size,
		BackedUpAt:  time.Now(),
	}
	if err := w.store.UpsertBackup(ctx, backup); err != nil {
		return false, fmt.Errorf("record backup: %w", err)
	}

	w.logger.Debug("image backed up",
		zap.Int64("image_id", img.ID),
		zap.String("key", result.S3Key),
		zap.Int64("bytes", result.Size))
	return true, nil
}

// Process downloads src, computes its hash, and uploads it
func (w *ImageBackupWorker) Process(ctx context.Context, img *models.PropertyImage, src string) BackupResult {
	result := BackupResult{ImageID: img.ID, SourceURL: src}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return result
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("download: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("download status: %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return result
	}
	if len(data) > maxImageBytes {
		result.Error = fmt.Errorf("image larger than %d bytes", maxImageBytes)
		return result
	}
	result.Size = int64(len(data))

	hash := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		contentType = "image/jpeg"
	}
	result.S3Key = BackupKey(img.PropertyID, result.ContentHash, guessExtension(img.ImagePath, contentType))

	if err := w.uploader.Upload(ctx, result.S3Key, bytes.NewReader(data), contentType); err != nil {
		result.Error = fmt.Errorf("upload: %w", err)
		return result
	}
	return result
}

// BackupKey is the object key of an image: properties/{id}/{hash_prefix}/{hash}{ext}
func BackupKey(propertyID int64, hash, ext string) string {
	return fmt.Sprintf("properties/%d/%s/%s%s", propertyID, hash[:2], hash, ext)
}

// guessExtension determines file extension from the path or content-type
func guessExtension(imagePath, contentType string) string {
	ext := strings.ToLower(path.Ext(imagePath))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}

	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
