// This file implements cron-based job scheduling for plugins, so a plugin
// can run periodic tasks (report generation, cleanup, polling sync) without
// managing its own goroutine and ticker.
//
// Several plugins' PluginSchedulers can share the one cron.Cron instance
// passed to NewPluginScheduler; each scheduler just namespaces job names so
// two plugins can both register a job called "sync" without colliding.
package plugins

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/wharfd/wharfd/internal/logger"
)

// PluginScheduler is a namespaced view over a shared cron.Cron instance.
type PluginScheduler struct {
	cron       *cron.Cron
	pluginName string
	jobIDs     map[string]cron.EntryID
}

// NewPluginScheduler wraps cronInstance with a namespace for pluginName.
func NewPluginScheduler(cronInstance *cron.Cron, pluginName string) *PluginScheduler {
	return &PluginScheduler{
		cron:       cronInstance,
		pluginName: pluginName,
		jobIDs:     make(map[string]cron.EntryID),
	}
}

// Schedule registers job under jobName using standard 5-field cron syntax
// or a "@every"/"@hourly"-style descriptor. Re-registering an existing
// jobName replaces its schedule. Job panics are recovered and logged; the
// job still runs on its next scheduled tick.
func (ps *PluginScheduler) Schedule(jobName string, cronExpr string, job func()) error {
	if existingID, exists := ps.jobIDs[jobName]; exists {
		ps.cron.Remove(existingID)
		delete(ps.jobIDs, jobName)
	}

	log := logger.Plugins()
	wrappedJob := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Str("plugin", ps.pluginName).Str("job", jobName).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		log.Debug().Str("plugin", ps.pluginName).Str("job", jobName).Msg("running scheduled job")
		job()
	}

	entryID, err := ps.cron.AddFunc(cronExpr, wrappedJob)
	if err != nil {
		return fmt.Errorf("schedule job %q for plugin %q: %w", jobName, ps.pluginName, err)
	}
	ps.jobIDs[jobName] = entryID
	return nil
}

// Remove stops and forgets a scheduled job. A no-op if jobName is unknown.
func (ps *PluginScheduler) Remove(jobName string) {
	if entryID, exists := ps.jobIDs[jobName]; exists {
		ps.cron.Remove(entryID)
		delete(ps.jobIDs, jobName)
	}
}

// RemoveAll stops every job this scheduler has registered. Call during a
// plugin's OnShutdown so jobs don't keep firing against released state.
func (ps *PluginScheduler) RemoveAll() {
	for _, entryID := range ps.jobIDs {
		ps.cron.Remove(entryID)
	}
	ps.jobIDs = make(map[string]cron.EntryID)
}

// ListJobs returns the currently scheduled job names, order undefined.
func (ps *PluginScheduler) ListJobs() []string {
	jobs := make([]string, 0, len(ps.jobIDs))
	for jobName := range ps.jobIDs {
		jobs = append(jobs, jobName)
	}
	return jobs
}

// IsScheduled reports whether jobName is currently registered.
func (ps *PluginScheduler) IsScheduled(jobName string) bool {
	_, exists := ps.jobIDs[jobName]
	return exists
}

// ScheduleInterval is a convenience wrapper converting a handful of
// human-readable intervals to cron expressions before calling Schedule.
// For anything not in this list, call Schedule directly with a cron
// expression.
func (ps *PluginScheduler) ScheduleInterval(jobName string, interval string, job func()) error {
	var cronExpr string
	switch interval {
	case "1m", "1 minute":
		cronExpr = "* * * * *"
	case "5m", "5 minutes":
		cronExpr = "*/5 * * * *"
	case "10m", "10 minutes":
		cronExpr = "*/10 * * * *"
	case "15m", "15 minutes":
		cronExpr = "*/15 * * * *"
	case "30m", "30 minutes":
		cronExpr = "*/30 * * * *"
	case "1h", "1 hour", "hourly":
		cronExpr = "@hourly"
	case "2h", "2 hours":
		cronExpr = "0 */2 * * *"
	case "4h", "4 hours":
		cronExpr = "0 */4 * * *"
	case "6h", "6 hours":
		cronExpr = "0 */6 * * *"
	case "12h", "12 hours":
		cronExpr = "0 */12 * * *"
	case "24h", "1 day", "daily":
		cronExpr = "@daily"
	case "weekly":
		cronExpr = "@weekly"
	case "monthly":
		cronExpr = "@monthly"
	default:
		return fmt.Errorf("unsupported interval: %s", interval)
	}
	return ps.Schedule(jobName, cronExpr, job)
}
