package throttle

import (
	"fmt"
	"strconv"
	"strings"
)

// Decision is a power ceiling selected by the model. The integer values form
// the wire format used in configuration properties and must not be
// renumbered.
type Decision uint32

const (
	NoThrottle Decision = 0
	Throttle50 Decision = 1
	Throttle60 Decision = 2
	Throttle70 Decision = 3
	Throttle80 Decision = 4
	Throttle90 Decision = 5

	First = NoThrottle
	Last  = Throttle90
)

// HintNames returns the hint-manager hint names applied for a decision, in
// emission order. NoThrottle maps to no hints.
func (d Decision) HintNames() []string {
	return decisionHintNames[d]
}

var decisionHintNames = map[Decision][]string{
	NoThrottle: {},
	Throttle50: {"LOW_POWER_LITTLE_CLUSTER_50", "LOW_POWER_MID_CLUSTER_50", "LOW_POWER_CPU_50"},
	Throttle60: {"LOW_POWER_LITTLE_CLUSTER_60", "LOW_POWER_MID_CLUSTER_60", "LOW_POWER_CPU_60"},
	Throttle70: {"LOW_POWER_LITTLE_CLUSTER_70", "LOW_POWER_MID_CLUSTER_70", "LOW_POWER_CPU_70"},
	Throttle80: {"LOW_POWER_LITTLE_CLUSTER_80", "LOW_POWER_MID_CLUSTER_80", "LOW_POWER_CPU_80"},
	Throttle90: {"LOW_POWER_LITTLE_CLUSTER_90", "LOW_POWER_MID_CLUSTER_90", "LOW_POWER_CPU_90"},
}

// String is a lossy pretty-printer kept for diagnostic dumps: Throttle50
// predates the current naming and renders as "unknown".
func (d Decision) String() string {
	switch d {
	case NoThrottle:
		return "NO_THROTTLE"
	case Throttle60:
		return "THROTTLE_60"
	case Throttle70:
		return "THROTTLE_70"
	case Throttle80:
		return "THROTTLE_80"
	case Throttle90:
		return "THROTTLE_90"
	default:
		return "unknown"
	}
}

// ParseDecisions parses a comma-separated list of decision integers, e.g.
// "0,2,3". Parsing is strict: decimal digits only, no surrounding whitespace,
// no empty elements, every value within [First, Last], at least one element.
func ParseDecisions(input string) ([]Decision, error) {
	parts := strings.Split(input, ",")
	decisions := make([]Decision, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse throttle decision %q in %q: %w", part, input, err)
		}
		if value < uint64(First) || value > uint64(Last) {
			return nil, fmt.Errorf("throttle decision %d in %q out of range [%d, %d]", value, input, First, Last)
		}
		decisions = append(decisions, Decision(value))
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("no throttle decisions in %q, need at least one", input)
	}
	return decisions, nil
}

// FormatDecisions renders decisions as the comma-separated integer list
// accepted by ParseDecisions.
func FormatDecisions(decisions []Decision) string {
	parts := make([]string, len(decisions))
	for i, d := range decisions {
		parts[i] = strconv.FormatUint(uint64(d), 10)
	}
	return strings.Join(parts, ",")
}

// All lists every decision in ascending wire order, for stats iteration.
func All() []Decision {
	return []Decision{NoThrottle, Throttle50, Throttle60, Throttle70, Throttle80, Throttle90}
}
