package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"devserve/internal/logging"
)

// LogStartupOverrides logs the settings that did not come from defaults,
// grouped by source.
func LogStartupOverrides(logger *logging.Logger, cfg *Config) {
	if logger == nil || cfg == nil || cfg.Sources == nil {
		return
	}
	bySource := map[string][]string{}
	for _, key := range keys {
		source := cfg.Sources[key]
		if source == "" || source == SourceDefault {
			continue
		}
		bySource[source] = append(bySource[source], formatSetting(key, cfg))
	}
	if len(bySource) == 0 {
		return
	}
	fields := make(map[string]string, len(bySource)+1)
	for source, settings := range bySource {
		sort.Strings(settings)
		fields[source] = strings.Join(settings, " ")
	}
	if cfg.ConfigFile != "" {
		fields["config_file"] = cfg.ConfigFile
	}
	logger.Info("configuration overrides", fields)
}

func formatSetting(key string, cfg *Config) string {
	var value string
	switch key {
	case "port":
		value = strconv.Itoa(cfg.Port)
	case "host":
		value = strconv.Quote(cfg.Host)
	case "root":
		value = strconv.Quote(cfg.Root)
	case "watch":
		value = strconv.Quote(strings.Join(cfg.Watch, ","))
	case "ignore":
		value = strconv.Quote(strings.Join(cfg.Ignore, ","))
	case "debounce":
		value = cfg.Debounce.String()
	case "max-wait":
		value = cfg.MaxWait.String()
	case "log-level":
		value = cfg.LogLevel
	case "no-color":
		value = strconv.FormatBool(cfg.NoColor)
	case "metrics":
		value = strconv.FormatBool(cfg.Metrics)
	case "inject":
		value = strconv.FormatBool(cfg.Inject)
	case "css-inject":
		value = strconv.FormatBool(cfg.CSSInject)
	case "max-clients":
		value = strconv.Itoa(cfg.MaxClients)
	case "allow-origin":
		value = strconv.Quote(strings.Join(cfg.AllowOrigins, ","))
	default:
		return key
	}
	return fmt.Sprintf("%s=%s", key, value)
}
