package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate_admin/models"
)

// PostgresStore is the reporting mirror of the catalog written by the daemon
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id BIGINT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		property_type TEXT NOT NULL,
		status TEXT NOT NULL,
		price NUMERIC NOT NULL,
		area NUMERIC NOT NULL,
		bedrooms INTEGER,
		bathrooms INTEGER,
		floors INTEGER,
		address TEXT,
		city TEXT,
		district TEXT,
		postal_code TEXT,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		year_built INTEGER,
		features TEXT[],
		contact_name TEXT,
		contact_phone TEXT,
		contact_email TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ,
		mirrored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS property_images (
		id BIGINT PRIMARY KEY,
		property_id BIGINT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		image_path TEXT,
		image_name TEXT,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS image_backups (
		image_id BIGINT PRIMARY KEY,
		property_id BIGINT NOT NULL,
		source_url TEXT NOT NULL,
		s3_key TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes BIGINT,
		backed_up_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_properties_city ON properties(city);
	CREATE INDEX IF NOT EXISTS idx_images_property ON property_images(property_id, sort_order);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Properties
// =============================================================================

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, title, description, property_type, status, price, area, bedrooms, bathrooms,
			floors, address, city, district, postal_code, lat, lng, year_built, features,
			contact_name, contact_phone, contact_email, created_at, updated_at, deleted_at, mirrored_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			property_type = EXCLUDED.property_type,
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			area = EXCLUDED.area,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			floors = EXCLUDED.floors,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			district = EXCLUDED.district,
			postal_code = EXCLUDED.postal_code,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			year_built = EXCLUDED.year_built,
			features = EXCLUDED.features,
			contact_name = EXCLUDED.contact_name,
			contact_phone = EXCLUDED.contact_phone,
			contact_email = EXCLUDED.contact_email,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			mirrored_at = NOW()`

	features := p.Features
	if features == nil {
		features = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Title, p.Description, p.PropertyType, p.Status, p.Price, p.Area, p.Bedrooms, p.Bathrooms,
		p.Floors, p.Address, p.City, p.District, p.PostalCode, p.Latitude, p.Longitude, p.YearBuilt, features,
		p.ContactName, p.ContactPhone, p.ContactEmail, p.CreatedAt, p.UpdatedAt, p.DeletedAt,
	)
	return err
}

func (s *PostgresStore) CountProperties(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

// =============================================================================
// Images
// =============================================================================

// ReplaceImages makes the mirrored image rows of a property match images
// exactly, in one transaction.
func (s *PostgresStore) ReplaceImages(ctx context.Context, propertyID int64, images []models.PropertyImage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM property_images WHERE property_id = $1 AND NOT (id = ANY($2))`, propertyID, ids)
	for _, img := range images {
		batch.Queue(`
			INSERT INTO property_images (id, property_id, image_path, image_name, is_primary, sort_order, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				image_path = EXCLUDED.image_path,
				image_name = EXCLUDED.image_name,
				is_primary = EXCLUDED.is_primary,
				sort_order = EXCLUDED.sort_order,
				updated_at = EXCLUDED.updated_at`,
			img.ID, propertyID, img.ImagePath, img.ImageName, img.IsPrimary, img.SortOrder, img.CreatedAt, img.UpdatedAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sync images for %d: %w", propertyID, err)
	}
	return tx.Commit(ctx)
}

// =============================================================================
// Image backups
// =============================================================================

func (s *PostgresStore) GetBackup(ctx context.Context, imageID int64) (*models.ImageBackup, error) {
	query := `
		SELECT image_id, property_id, source_url, s3_key, content_hash, size_bytes, backed_up_at
		FROM image_backups WHERE image_id = $1`

	var b models.ImageBackup
	err := s.pool.QueryRow(ctx, query, imageID).Scan(
		&b.ImageID, &b.PropertyID, &b.SourceURL, &b.S3Key, &b.ContentHash, &b.SizeBytes, &b.BackedUpAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) UpsertBackup(ctx context.Context, b *models.ImageBackup) error {
	query := `
		INSERT INTO image_backups (image_id, property_id, source_url, s3_key, content_hash, size_bytes, backed_up_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (image_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			s3_key = EXCLUDED.s3_key,
			content_hash = EXCLUDED.content_hash,
			size_bytes = EXCLUDED.size_bytes,
			backed_up_at = EXCLUDED.backed_up_at`

	_, err := s.pool.Exec(ctx, query,
		b.ImageID, b.PropertyID, b.SourceURL, b.S3Key, b.ContentHash, b.SizeBytes, b.BackedUpAt,
	)
	return err
}
