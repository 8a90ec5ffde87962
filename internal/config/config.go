package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
)

// Property keys understood by the loader. Values are all strings in the
// property store; absent or malformed values fall back to defaults except
// where noted on Load.
const (
	iterationSleepDurationProperty        = "debug.adaptivecpu.iteration_sleep_duration_ms"
	hintTimeoutProperty                   = "debug.adaptivecpu.hint_timeout_ms"
	randomThrottleDecisionPercentProperty = "debug.adaptivecpu.random_throttle_decision_percent"
	randomThrottleOptionsProperty         = "debug.adaptivecpu.random_throttle_options"
	enabledHintTimeoutProperty            = "debug.adaptivecpu.enabled_hint_timeout_ms"
)

const iterationSleepDurationMin = 20 * time.Millisecond

// Config holds the tunables of the control loop.
type Config struct {
	// IterationSleep is the pacing interval between control steps.
	IterationSleep time.Duration
	// HintTimeout is the cancellation deadline attached to each emitted
	// hint, and thereby the refresh cadence for stable decisions.
	HintTimeout time.Duration
	// RandomThrottleDecisionProbability is the chance in [0, 1] that a step
	// ignores the decision tree and picks uniformly from
	// RandomThrottleOptions.
	RandomThrottleDecisionProbability float64
	// RandomThrottleOptions is the non-empty candidate set for random
	// decisions.
	RandomThrottleOptions []throttle.Decision
	// EnabledHintTimeout is how long the agent stays enabled without a fresh
	// enable hint.
	EnabledHintTimeout time.Duration
}

// Default is returned by Load when no properties are set.
// The model is typically trained against a 25ms iteration sleep; 1s is a
// conservative fallback.
var Default = Config{
	IterationSleep:                    1000 * time.Millisecond,
	HintTimeout:                       2000 * time.Millisecond,
	RandomThrottleDecisionProbability: 0,
	RandomThrottleOptions: []throttle.Decision{
		throttle.NoThrottle, throttle.Throttle60, throttle.Throttle70,
		throttle.Throttle80, throttle.Throttle90,
	},
	EnabledHintTimeout: 120 * time.Minute,
}

// PropertyStore is the process-wide key/value store the loader reads from.
// GetProperty returns the value for key, or defaultValue when the key is
// unset.
type PropertyStore interface {
	GetProperty(key, defaultValue string) string
}

// Load reads a Config from store. Absent and unparseable numeric properties
// yield defaults; a percent above 100 or a malformed throttle options list
// fails the whole load.
func Load(store PropertyStore, log logr.Logger) (Config, error) {
	var cfg Config

	cfg.IterationSleep = getDurationMsProperty(store, iterationSleepDurationProperty, Default.IterationSleep)
	if cfg.IterationSleep < iterationSleepDurationMin {
		cfg.IterationSleep = iterationSleepDurationMin
	}

	cfg.HintTimeout = getDurationMsProperty(store, hintTimeoutProperty, Default.HintTimeout)

	percent := getUintProperty(store, randomThrottleDecisionPercentProperty,
		uint32(Default.RandomThrottleDecisionProbability*100))
	cfg.RandomThrottleDecisionProbability = float64(percent) / 100
	if cfg.RandomThrottleDecisionProbability > 1.0 {
		return Config{}, fmt.Errorf("bad value for %s: %d", randomThrottleDecisionPercentProperty, percent)
	}

	optionsStr := store.GetProperty(randomThrottleOptionsProperty,
		throttle.FormatDecisions(Default.RandomThrottleOptions))
	options, err := throttle.ParseDecisions(optionsStr)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load %s: %w", randomThrottleOptionsProperty, err)
	}
	cfg.RandomThrottleOptions = options

	cfg.EnabledHintTimeout = getDurationMsProperty(store, enabledHintTimeoutProperty, Default.EnabledHintTimeout)

	log.V(4).Info("Loaded config", "config", cfg.String())
	return cfg, nil
}

// getUintProperty parses the property as an unsigned 32-bit integer.
// Negative and non-numeric values are treated as absent.
func getUintProperty(store PropertyStore, key string, defaultValue uint32) uint32 {
	raw := store.GetProperty(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return defaultValue
	}
	return uint32(value)
}

func getDurationMsProperty(store PropertyStore, key string, defaultValue time.Duration) time.Duration {
	ms := getUintProperty(store, key, uint32(defaultValue.Milliseconds()))
	return time.Duration(ms) * time.Millisecond
}

func (c Config) String() string {
	return fmt.Sprintf(
		"AdaptiveCpuConfig(iterationSleepDuration=%dms, hintTimeout=%dms, "+
			"randomThrottleDecisionProbability=%g, enabledHintTimeout=%dms, randomThrottleOptions=[%s])",
		c.IterationSleep.Milliseconds(), c.HintTimeout.Milliseconds(),
		c.RandomThrottleDecisionProbability, c.EnabledHintTimeout.Milliseconds(),
		throttle.FormatDecisions(c.RandomThrottleOptions))
}
