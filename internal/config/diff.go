package config

import (
	"reflect"
	"strings"

	logx "trustchain/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// safe log fields describing the new values (the redis URL is never logged).
// Sections other than logging and pprof only take effect after a restart;
// they are returned in restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}

	oldSt, newSt := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oldSt.RedisURL) != strings.TrimSpace(newSt.RedisURL) {
		attrs = append(attrs, logx.Bool("storage.redis_url_changed", true))
	}
	oldSt.RedisURL, newSt.RedisURL = "", ""
	if !reflect.DeepEqual(oldSt, newSt) || oldCfg.Storage.RedisURL != newCfg.Storage.RedisURL {
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newSt.Driver))
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"chain", oldCfg.Chain, newCfg.Chain},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"trustfund", oldCfg.TrustFund, newCfg.TrustFund},
		{"node", oldCfg.Node, newCfg.Node},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			restart = append(restart, s.name)
		}
	}
	changed = append(changed, restart...)
	return changed, restart, attrs
}
