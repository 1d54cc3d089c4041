package config

import (
	"reflect"
	"sort"
	"strings"

	logx "poolbot/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ, log fields
// describing the new values (secrets are reported as set/unset only) and
// the names of plugins whose enable flag or config changed.
func SummarizeChange(oldCfg, newCfg *Config) (sections []string, fields []logx.Field, plugins []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeout != nt.PollTimeout || ot.GroupLog != nt.GroupLog ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.Token != nt.Token {
		sections = append(sections, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		sections = append(sections, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		sections = append(sections, "dispatch")
		fields = append(fields,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.send_timeout", newCfg.Dispatch.SendTimeout),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		sections = append(sections, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		sections = append(sections, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.StorageDriver()))
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	if od != nd {
		sections = append(sections, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", nd.Addr),
			logx.Bool("debug.token_set", nd.Token != ""),
		)
	}

	plugins = changedPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(plugins) > 0 {
		sections = append(sections, "plugins")
		fields = append(fields, logx.Strings("plugins.changed", plugins))
	}
	return sections, fields, plugins
}

func changedPlugins(a, b map[string]PluginConfigRaw) []string {
	names := map[string]struct{}{}
	for k := range a {
		names[k] = struct{}{}
	}
	for k := range b {
		names[k] = struct{}{}
	}
	var out []string
	for name := range names {
		pa, okA := a[name]
		pb, okB := b[name]
		if okA != okB || pa.Enabled != pb.Enabled || HashRaw(pa.Config) != HashRaw(pb.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
