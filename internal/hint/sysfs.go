package hint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const cpuFreqPolicyBasePath = "/sys/devices/system/cpu/cpufreq/policy%d"

func getPolicyPath(policyID uint32, resource string) string {
	return filepath.Join(fmt.Sprintf(cpuFreqPolicyBasePath, policyID), resource)
}

var getPolicyPathFunction = getPolicyPath

// SysfsManager applies LOW_POWER hints by clamping the scaling_max_freq of
// the targeted policy to a percentage between the policy's hardware min and
// max frequencies. Hints expire on their own timeout, restoring the
// hardware ceiling.
type SysfsManager struct {
	log logr.Logger

	mu     sync.Mutex
	expiry map[string]*time.Timer
}

func NewSysfsManager(log logr.Logger) *SysfsManager {
	return &SysfsManager{
		log:    log,
		expiry: make(map[string]*time.Timer),
	}
}

func (m *SysfsManager) DoHint(name string, timeout time.Duration) {
	policyID, percent, err := parseHintName(name)
	if err != nil {
		m.log.Error(err, "ignoring hint")
		return
	}
	minFreq, err := readFreqFile(getPolicyPathFunction(policyID, "cpuinfo_min_freq"))
	if err != nil {
		m.log.Error(err, "failed to apply hint", "hint", name)
		return
	}
	maxFreq, err := readFreqFile(getPolicyPathFunction(policyID, "cpuinfo_max_freq"))
	if err != nil {
		m.log.Error(err, "failed to apply hint", "hint", name)
		return
	}
	clampFreq := frequencyFromPercent(minFreq, maxFreq, percent)
	if err := writeFreqFile(getPolicyPathFunction(policyID, "scaling_max_freq"), clampFreq); err != nil {
		m.log.Error(err, "failed to apply hint", "hint", name)
		return
	}
	m.log.V(5).Info("Applied hint", "hint", name, "policyID", policyID, "maxFreqKHz", clampFreq)

	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.expiry[name]; ok {
		timer.Stop()
	}
	m.expiry[name] = time.AfterFunc(timeout, func() { m.expire(name, policyID) })
}

func (m *SysfsManager) EndHint(name string) {
	policyID, _, err := parseHintName(name)
	if err != nil {
		m.log.Error(err, "ignoring hint end")
		return
	}
	m.mu.Lock()
	if timer, ok := m.expiry[name]; ok {
		timer.Stop()
		delete(m.expiry, name)
	}
	m.mu.Unlock()
	m.restore(name, policyID)
}

func (m *SysfsManager) expire(name string, policyID uint32) {
	m.mu.Lock()
	delete(m.expiry, name)
	m.mu.Unlock()
	m.log.V(5).Info("Hint timed out", "hint", name)
	m.restore(name, policyID)
}

func (m *SysfsManager) restore(name string, policyID uint32) {
	maxFreq, err := readFreqFile(getPolicyPathFunction(policyID, "cpuinfo_max_freq"))
	if err != nil {
		m.log.Error(err, "failed to end hint", "hint", name)
		return
	}
	if err := writeFreqFile(getPolicyPathFunction(policyID, "scaling_max_freq"), maxFreq); err != nil {
		m.log.Error(err, "failed to end hint", "hint", name)
		return
	}
	m.log.V(5).Info("Ended hint", "hint", name, "policyID", policyID)
}

func frequencyFromPercent(minFreq, maxFreq uint64, percent int) uint64 {
	return minFreq + (maxFreq-minFreq)*uint64(percent)/100
}

func readFreqFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read frequency file %s: %w", path, err)
	}
	freq, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert frequency in %s to uint: %w", path, err)
	}
	return freq, nil
}

func writeFreqFile(path string, freq uint64) error {
	if err := os.WriteFile(path, []byte(strconv.FormatUint(freq, 10)), 0644); err != nil {
		return fmt.Errorf("failed to write frequency to %s: %w", path, err)
	}
	return nil
}
