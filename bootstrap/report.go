package bootstrap

import "time"

// Bootstrap step names, used as keys in Report.Failures and
// Report.StepDurations.
const (
	StepConfigInitialize = "config:initialize"
	StepAdapterRegister  = "adapter:registerAll"
	StepPluginRegister   = "plugin:registerAll"
	StepPluginInitAll    = "plugin:initAll"
	StepPluginStartAll   = "plugin:startAll"
)

// Report is the outcome of one Bootstrapper run. It is written only during
// the run and must be treated as read-only afterwards. Run does not return an
// error for step-level failures; callers inspect Failures instead.
type Report struct {
	// Failures maps a step name to the error that failed it. An empty map
	// means the boot sequence completed.
	Failures map[string]error

	// StepDurations maps each executed step to its wall-clock duration.
	// Skipped steps have no entry.
	StepDurations map[string]time.Duration

	// AdapterTimings maps adapter name to its registration (including
	// auto-initialize) duration.
	AdapterTimings map[string]time.Duration

	// PluginTimings maps plugin name to its OnInit duration. Plugins that
	// completed OnInit before a later failure keep their entries.
	PluginTimings map[string]time.Duration

	// PluginStartTimings maps plugin name to its OnStart duration.
	PluginStartTimings map[string]time.Duration
}

func newReport() *Report {
	return &Report{
		Failures:           make(map[string]error),
		StepDurations:      make(map[string]time.Duration),
		AdapterTimings:     make(map[string]time.Duration),
		PluginTimings:      make(map[string]time.Duration),
		PluginStartTimings: make(map[string]time.Duration),
	}
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}
