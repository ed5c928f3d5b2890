package services

import "estate_admin/models"

// LogFunc records a mutating operation in the activity log
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
