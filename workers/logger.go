package workers

import (
	"go.uber.org/zap"

	"estate_admin/models"
	"estate_admin/services"
)

// ActivityStore persists activity log lines
type ActivityStore interface {
	Log(level models.LogLevel, source, message string) error
}

// ActivityLogger returns a LogFunc that writes to the activity_logs table.
// A failed write is reported on logger and otherwise ignored.
func ActivityLogger(store ActivityStore, logger *zap.Logger) services.LogFunc {
	if store == nil {
		return services.NoOpLogger
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(level models.LogLevel, source, message string) {
		if err := store.Log(level, source, message); err != nil {
			logger.Warn("write activity log", zap.String("source", source), zap.Error(err))
		}
	}
}
