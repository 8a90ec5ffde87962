package hint

import (
	"fmt"
	"time"
)

// Manager is the outbound capability that applies named performance hints.
// DoHint applies the hint until timeout elapses or EndHint is called;
// neither call is assumed idempotent by callers.
type Manager interface {
	DoHint(name string, timeout time.Duration)
	EndHint(name string)
}

// Cluster targets of LOW_POWER hints. Each cluster corresponds to one
// cpufreq policy on the supported topology.
var clusterPolicyIDs = map[string]uint32{
	"LITTLE_CLUSTER": 0,
	"MID_CLUSTER":    4,
	"CPU":            6,
}

// parseHintName splits a hint name of the shape LOW_POWER_<cluster>_<pct>
// into its policy id and power percent.
func parseHintName(name string) (policyID uint32, percent int, err error) {
	const prefix = "LOW_POWER_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, 0, fmt.Errorf("unknown hint name %q", name)
	}
	rest := name[len(prefix):]
	if len(rest) < 3 || rest[len(rest)-3] != '_' {
		return 0, 0, fmt.Errorf("malformed hint name %q", name)
	}
	cluster := rest[:len(rest)-3]
	if _, err := fmt.Sscanf(rest[len(rest)-2:], "%d", &percent); err != nil {
		return 0, 0, fmt.Errorf("malformed hint percent in %q: %w", name, err)
	}
	policyID, ok := clusterPolicyIDs[cluster]
	if !ok {
		return 0, 0, fmt.Errorf("unknown cluster in hint name %q", name)
	}
	return policyID, percent, nil
}
