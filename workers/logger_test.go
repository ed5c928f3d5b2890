package workers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_admin/models"
)

type failingActivity struct{ calls int }

func (f *failingActivity) Log(level models.LogLevel, source, message string) error {
	f.calls++
	return errors.New("database is locked")
}

func TestActivityLoggerWritesToStore(t *testing.T) {
	store := newTestRuns(t)
	logFn := ActivityLogger(store, nil)

	logFn(models.LogInfo, "submission", "Created property 42")
	logFn(models.LogWarn, "gallery", "Delete of image 7 failed")

	logs, err := store.RecentActivity(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.ElementsMatch(t, []string{"Created property 42", "Delete of image 7 failed"}, messages)
}

func TestActivityLoggerSwallowsStoreErrors(t *testing.T) {
	store := &failingActivity{}
	logFn := ActivityLogger(store, nil)
	assert.NotPanics(t, func() { logFn(models.LogError, "mirror", "boom") })
	assert.Equal(t, 1, store.calls)
}
