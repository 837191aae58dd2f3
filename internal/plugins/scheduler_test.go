package plugins

import (
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAndIsScheduled(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")

	require.NoError(t, ps.Schedule("report", "@daily", func() {}))
	assert.True(t, ps.IsScheduled("report"))
	assert.Equal(t, []string{"report"}, ps.ListJobs())
}

func TestScheduleRejectsInvalidCronExpression(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")

	err := ps.Schedule("bad", "not a cron expression", func() {})
	assert.Error(t, err)
}

func TestRescheduleReplacesExistingJob(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")

	require.NoError(t, ps.Schedule("sync", "@hourly", func() {}))
	firstID := ps.jobIDs["sync"]
	require.NoError(t, ps.Schedule("sync", "@daily", func() {}))
	assert.NotEqual(t, firstID, ps.jobIDs["sync"])
	assert.Len(t, ps.jobIDs, 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")
	ps.Remove("never-scheduled")
	assert.False(t, ps.IsScheduled("never-scheduled"))
}

func TestRemoveAllClearsEveryJob(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")
	require.NoError(t, ps.Schedule("a", "@daily", func() {}))
	require.NoError(t, ps.Schedule("b", "@weekly", func() {}))

	ps.RemoveAll()
	assert.Empty(t, ps.ListJobs())
}

func TestScheduleIntervalConvertsKnownIntervals(t *testing.T) {
	c := cron.New()
	ps := NewPluginScheduler(c, "analytics")

	require.NoError(t, ps.ScheduleInterval("sync", "5m", func() {}))
	assert.True(t, ps.IsScheduled("sync"))

	err := ps.ScheduleInterval("bogus", "1.5h", func() {})
	assert.Error(t, err)
}
