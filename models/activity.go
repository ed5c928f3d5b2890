package models

import "time"

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// ActivityLog is one line of the local audit trail of mutating operations
type ActivityLog struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"timestamp"`
	Level     LogLevel  `db:"level"`
	Source    string    `db:"source"`
	Message   string    `db:"message"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// MirrorRun records one pass of the catalog mirror
type MirrorRun struct {
	ID          int64      `db:"id"`
	StartedAt   time.Time  `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
	Status      RunStatus  `db:"status"`
	Pages       int        `db:"pages"`
	Properties  int        `db:"properties"`
	Images      int        `db:"images"`
	ErrorsCount int        `db:"errors_count"`
}

// ImageBackup is the S3 copy of one persisted property image
type ImageBackup struct {
	ImageID     int64     `db:"image_id"`
	PropertyID  int64     `db:"property_id"`
	SourceURL   string    `db:"source_url"`
	S3Key       string    `db:"s3_key"`
	ContentHash string    `db:"content_hash"`
	SizeBytes   int64     `db:"size_bytes"`
	BackedUpAt  time.Time `db:"backed_up_at"`
}
