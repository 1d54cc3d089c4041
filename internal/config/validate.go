package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	logx "poolbot/pkg/logx"
)

// Validate checks everything that can be checked without the network.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add("telegram.group_log: not a chat id: %q", g)
		}
	}

	for path, lvl := range map[string]string{
		"logging.level":              cfg.Logging.Level,
		"logging.telegram.min_level": cfg.Logging.Telegram.MinLevel,
	} {
		if lvl != "" && logx.ParseLevel(lvl, zerolog.NoLevel) == zerolog.NoLevel {
			add("%s: unknown level %q", path, lvl)
		}
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add("logging.telegram.enabled requires telegram.group_log")
	}

	d := cfg.Dispatch
	if d.Workers < 0 || d.Burst < 0 || d.RatePerSec < 0 {
		add("dispatch: workers, burst and rate_per_sec must be >= 0")
	}
	if _, err := ParseDuration("dispatch.send_timeout", d.SendTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}

	switch cfg.StorageDriver() {
	case "none":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	if cfg.Debug.Enabled {
		if err := validateDebugAddr(cfg.Debug); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateDebugAddr(c DebugConfig) error {
	addr := c.Addr
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if c.Token != "" || host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("debug.addr %q is not loopback; set debug.token", addr)
}
