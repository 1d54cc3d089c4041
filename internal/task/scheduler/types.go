package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Job is the unit of scheduled work. The context is cancelled on Stop or
// when the job timeout elapses.
type Job func(ctx context.Context) error

// EventRun is published on the bus after every finished run.
const EventRun = "scheduler.run"

// RunEvent is the payload of EventRun.
type RunEvent struct {
	Name string
	Took time.Duration
	Err  string
}

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	id      cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	fails   atomic.Uint64
	skipped atomic.Uint64
	lastErr atomic.Value // string
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name      string
	Spec      string
	Timeout   time.Duration
	Next      time.Time
	Prev      time.Time
	Runs      uint64
	Failures  uint64
	Skipped   uint64
	LastError string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
