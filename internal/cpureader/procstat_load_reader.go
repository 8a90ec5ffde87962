package cpureader

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
)

// clockTicksPerSecond is USER_HZ, the unit of /proc/stat times. It is 100 on
// every kernel this agent runs on; a var so tests can substitute.
var clockTicksPerSecond uint64 = 100

type procStatCpuTime struct {
	idleTimeMs  uint64
	totalTimeMs uint64
}

// ProcStatLoadReader derives per-core idle fractions from /proc/stat deltas.
// Idle time counts the idle and iowait columns; total time counts all ten.
type ProcStatLoadReader struct {
	fs  fsys.Filesystem
	log logr.Logger

	previousCpuTimes map[uint32]procStatCpuTime
}

func NewProcStatLoadReader(fs fsys.Filesystem, log logr.Logger) *ProcStatLoadReader {
	return &ProcStatLoadReader{fs: fs, log: log}
}

func (r *ProcStatLoadReader) Init() error {
	times, err := r.readCpuTimes()
	if err != nil {
		return err
	}
	r.previousCpuTimes = times
	return nil
}

func (r *ProcStatLoadReader) GetRecentCpuLoads() ([NumCPUCores]float64, error) {
	var loads [NumCPUCores]float64
	cpuTimes, err := r.readCpuTimes()
	if err != nil {
		return loads, err
	}
	if len(cpuTimes) == 0 {
		return loads, fmt.Errorf("failed to find any CPU times")
	}
	for cpuID, cpuTime := range cpuTimes {
		previous, ok := r.previousCpuTimes[cpuID]
		if !ok {
			return loads, fmt.Errorf("couldn't find CPU %d in previous CPU times", cpuID)
		}
		recentIdleTimeMs := cpuTime.idleTimeMs - previous.idleTimeMs
		recentTotalTimeMs := cpuTime.totalTimeMs - previous.totalTimeMs
		// An idle counter that went backwards underflows its delta past the
		// total, even when the total underflowed by the same amount.
		if cpuTime.idleTimeMs < previous.idleTimeMs || recentIdleTimeMs > recentTotalTimeMs {
			return loads, fmt.Errorf("found more recent idle time than total time: idle=%d, total=%d",
				recentIdleTimeMs, recentTotalTimeMs)
		}
		idleTimeFraction := float64(recentIdleTimeMs) / float64(recentTotalTimeMs)
		r.log.V(5).Info("Read CPU idle time", "cpuID", cpuID, "idleTimeFraction", idleTimeFraction)
		if cpuID < NumCPUCores {
			loads[cpuID] = idleTimeFraction
		}
	}
	r.previousCpuTimes = cpuTimes
	return loads, nil
}

func (r *ProcStatLoadReader) readCpuTimes() (map[uint32]procStatCpuTime, error) {
	data, err := r.fs.ReadFile("/proc/stat")
	if err != nil {
		return nil, err
	}
	result := make(map[uint32]procStatCpuTime)
	for _, line := range strings.Split(string(data), "\n") {
		var cpuID uint32
		// Times reported while the CPU is active.
		var user, nice, system, irq, softIrq, steal, guest, guestNice uint64
		// Times reported while the CPU is idle.
		var idle, ioWait uint64
		// Column order taken from fs/proc/stat.c.
		if n, err := fmt.Sscanf(line, "cpu%d %d %d %d %d %d %d %d %d %d %d",
			&cpuID, &user, &nice, &system, &idle, &ioWait, &irq, &softIrq, &steal,
			&guest, &guestNice); err != nil || n != 11 {
			continue
		}
		idleTimeJiffies := idle + ioWait
		totalTimeJiffies := user + nice + system + irq + softIrq + steal + guest + guestNice + idleTimeJiffies
		result[cpuID] = procStatCpuTime{
			idleTimeMs:  jiffiesToMs(idleTimeJiffies),
			totalTimeMs: jiffiesToMs(totalTimeJiffies),
		}
	}
	return result, nil
}

func (r *ProcStatLoadReader) DumpToStream(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "CPU loads from /proc/stat:\n"); err != nil {
		return err
	}
	for cpuID := uint32(0); cpuID < NumCPUCores; cpuID++ {
		cpuTime, ok := r.previousCpuTimes[cpuID]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "- CPU=%d, idleTime=%dms, totalTime=%dms\n",
			cpuID, cpuTime.idleTimeMs, cpuTime.totalTimeMs); err != nil {
			return err
		}
	}
	return nil
}

func jiffiesToMs(jiffies uint64) uint64 {
	return jiffies * 1000 / clockTicksPerSecond
}
