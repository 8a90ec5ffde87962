package cpureader

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/timesource"
)

const cpuIdleBasePath = "/sys/devices/system/cpu"

type sysDevicesCpuTime struct {
	idleTime  time.Duration
	totalTime time.Duration
}

// SysDevicesLoadReader derives per-core idle fractions from the cpuidle
// state residency counters under /sys/devices/system/cpu/cpuN/cpuidle.
// Total time is taken from the monotonic clock, not a kernel counter.
type SysDevicesLoadReader struct {
	fs   fsys.Filesystem
	time timesource.TimeSource
	log  logr.Logger

	idleStateNames   []string
	previousCpuTimes [NumCPUCores]sysDevicesCpuTime
}

func NewSysDevicesLoadReader(fs fsys.Filesystem, ts timesource.TimeSource, log logr.Logger) *SysDevicesLoadReader {
	return &SysDevicesLoadReader{fs: fs, time: ts, log: log}
}

func (r *SysDevicesLoadReader) Init() error {
	names, err := r.readIdleStateNames()
	if err != nil {
		return err
	}
	r.idleStateNames = names
	times, err := r.readCpuTimes()
	if err != nil {
		return err
	}
	r.previousCpuTimes = times
	return nil
}

func (r *SysDevicesLoadReader) GetRecentCpuLoads() ([NumCPUCores]float64, error) {
	var loads [NumCPUCores]float64
	cpuTimes, err := r.readCpuTimes()
	if err != nil {
		return loads, err
	}
	for cpuID := 0; cpuID < NumCPUCores; cpuID++ {
		recentIdleTime := cpuTimes[cpuID].idleTime - r.previousCpuTimes[cpuID].idleTime
		recentTotalTime := cpuTimes[cpuID].totalTime - r.previousCpuTimes[cpuID].totalTime
		if recentIdleTime > recentTotalTime {
			// Happens occasionally: idle time comes from the kernel while
			// total time comes from a userspace clock query.
			recentIdleTime = recentTotalTime
		}
		loads[cpuID] = float64(recentIdleTime) / float64(recentTotalTime)
	}
	r.previousCpuTimes = cpuTimes
	return loads, nil
}

func (r *SysDevicesLoadReader) readCpuTimes() ([NumCPUCores]sysDevicesCpuTime, error) {
	var result [NumCPUCores]sysDevicesCpuTime
	totalTime := r.time.KernelTime()

	for cpuID := 0; cpuID < NumCPUCores; cpuID++ {
		var idleTime time.Duration
		for _, idleStateName := range r.idleStateNames {
			path := fmt.Sprintf("%s/cpu%d/cpuidle/%s/time", cpuIdleBasePath, cpuID, idleStateName)
			data, err := r.fs.ReadFile(path)
			if err != nil {
				return result, err
			}
			// Residency is reported in microseconds, see
			// Documentation/cpuidle/sysfs.txt.
			idleTimeUs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
			if err != nil {
				idleTimeUs = 0
			}
			idleTime += time.Duration(idleTimeUs) * time.Microsecond
		}
		result[cpuID] = sysDevicesCpuTime{idleTime: idleTime, totalTime: totalTime}
	}
	return result, nil
}

func (r *SysDevicesLoadReader) readIdleStateNames() ([]string, error) {
	entries, err := r.fs.ListDirectory(cpuIdleBasePath + "/cpu0/cpuidle")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if len(entry) == 0 || entry[0] == '.' {
			continue
		}
		files, err := r.fs.ListDirectory(cpuIdleBasePath + "/cpu0/cpuidle/" + entry)
		if err != nil {
			return nil, err
		}
		hasTimeFile := false
		for _, file := range files {
			if file == "time" {
				hasTimeFile = true
				break
			}
		}
		if !hasTimeFile {
			continue
		}
		names = append(names, entry)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("found no idle state names")
	}
	return names, nil
}

func (r *SysDevicesLoadReader) DumpToStream(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "CPU loads from /sys/devices/system/cpu/cpuN/cpuidle:\n"); err != nil {
		return err
	}
	for cpuID := 0; cpuID < NumCPUCores; cpuID++ {
		if _, err := fmt.Fprintf(w, "- CPU=%d, idleTime=%dus, totalTime=%dus\n",
			cpuID, r.previousCpuTimes[cpuID].idleTime.Microseconds(),
			r.previousCpuTimes[cpuID].totalTime.Microseconds()); err != nil {
			return err
		}
	}
	return nil
}
