package app

import (
	"strconv"
	"strings"
	"time"

	"poolbot/internal/config"
	"poolbot/internal/gamecode"
	"poolbot/internal/observability/debugsrv"
	"poolbot/internal/storage"
	"poolbot/internal/task/scheduler"
	kit "poolbot/internal/transport"
	logx "poolbot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log. ok is false when unset or invalid.
func logTarget(cfg *config.Config) (kit.ChatTarget, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}, true
}

func mapDispatch(cfg *config.Config) (gamecode.DispatchConfig, error) {
	d := cfg.Dispatch
	timeout, err := config.ParseDuration("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return gamecode.DispatchConfig{}, err
	}
	return gamecode.DispatchConfig{
		Workers:     d.Workers,
		RatePerSec:  d.RatePerSec,
		Burst:       d.Burst,
		SendTimeout: timeout,
	}, nil
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.StorageDriver() == "none" {
		return storage.Config{Driver: "none"}, nil
	}
	busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapDebug(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled: d.Enabled,
		Addr:    d.Addr,
		Pprof:   d.Pprof,
		Metrics: d.Metrics,
		Token:   d.Token,
	}
}
