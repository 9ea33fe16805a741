package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else is
// summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CoachChanged is set when any coach setting changed. New values apply
	// to sessions started afterwards.
	CoachChanged bool

	AssistantToggled bool
	AssistantEnabled bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart (e.g. "server", "providers").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CoachChanged && !d.AssistantToggled && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Coach, new.Coach) {
		d.CoachChanged = true
	}

	if old.Assistant.Enabled != new.Assistant.Enabled {
		d.AssistantToggled = true
		d.AssistantEnabled = new.Assistant.Enabled
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	oldAssist, newAssist := old.Assistant, new.Assistant
	oldAssist.Enabled, newAssist.Enabled = false, false
	if oldAssist != newAssist {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}

	return d
}
