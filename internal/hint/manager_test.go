package hint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
)

func TestParseHintName(t *testing.T) {
	policyID, percent, err := parseHintName("LOW_POWER_LITTLE_CLUSTER_50")
	assert.Nil(t, err)
	assert.Equal(t, uint32(0), policyID)
	assert.Equal(t, 50, percent)

	policyID, percent, err = parseHintName("LOW_POWER_MID_CLUSTER_70")
	assert.Nil(t, err)
	assert.Equal(t, uint32(4), policyID)
	assert.Equal(t, 70, percent)

	policyID, percent, err = parseHintName("LOW_POWER_CPU_90")
	assert.Nil(t, err)
	assert.Equal(t, uint32(6), policyID)
	assert.Equal(t, 90, percent)
}

func TestParseHintNameRejectsUnknownNames(t *testing.T) {
	for _, name := range []string{
		"", "LOW_POWER_", "ADAPTIVE_CPU", "LOW_POWER_BIG_CLUSTER_50", "LOW_POWER_CPU_XX",
	} {
		_, _, err := parseHintName(name)
		assert.NotNil(t, err, "name=%q", name)
	}
}

func TestEveryThrottleHintNameParses(t *testing.T) {
	for _, decision := range throttle.All() {
		for _, name := range decision.HintNames() {
			_, percent, err := parseHintName(name)
			assert.Nil(t, err, "name=%q", name)
			assert.GreaterOrEqual(t, percent, 50)
			assert.LessOrEqual(t, percent, 90)
		}
	}
}

func TestFrequencyFromPercent(t *testing.T) {
	assert.Equal(t, uint64(300000), frequencyFromPercent(300000, 2400000, 0))
	assert.Equal(t, uint64(2400000), frequencyFromPercent(300000, 2400000, 100))
	assert.Equal(t, uint64(1350000), frequencyFromPercent(300000, 2400000, 50))
}
