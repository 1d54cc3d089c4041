// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still in flight is skipped and counted.
package scheduler
