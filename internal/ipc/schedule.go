package ipc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hivebot/internal/task"
)

// Standard 5-field cron plus descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// onceLayouts are the accepted absolute-timestamp forms for one-shot tasks,
// tried in order. Layouts without a zone are interpreted in loc.
var onceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// nextRun computes the first fire time for a schedule as of now.
//
//   - cron: next fire of the expression in loc
//   - interval: now + a positive integer count of milliseconds
//   - once: the timestamp itself; a past timestamp is returned as-is
//     (the scheduler fires it immediately, which is the intended behavior
//     for "run this once, now-ish")
func NextRun(schedType, schedValue string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value := strings.TrimSpace(schedValue)

	switch task.ScheduleType(schedType) {
	case task.ScheduleCron:
		sched, err := cronParser.Parse(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedValue, err)
		}
		return sched.Next(now.In(loc)), nil

	case task.ScheduleInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid interval %q: %w", schedValue, err)
		}
		if ms <= 0 {
			return time.Time{}, fmt.Errorf("interval must be a positive millisecond count, got %q", schedValue)
		}
		// Duration is int64 nanoseconds; a huge millisecond count would
		// wrap negative and schedule the task in the past.
		if ms > math.MaxInt64/int64(time.Millisecond) {
			return time.Time{}, fmt.Errorf("interval %q overflows", schedValue)
		}
		return now.Add(time.Duration(ms) * time.Millisecond), nil

	case task.ScheduleOnce:
		for _, layout := range onceLayouts {
			if at, err := time.ParseInLocation(layout, value, loc); err == nil {
				return at, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", schedValue)

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", schedType)
	}
}
