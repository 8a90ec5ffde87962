package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/timesource"
)

// Stats collects counters about the control loop. They are surfaced in the
// diagnostics dump and through the monitoring collectors; they are never
// persisted.
//
// Updates come only from the control loop, but dumps and monitoring
// snapshots arrive on other goroutines, so access is serialised internally.
type Stats struct {
	time timesource.TimeSource

	mu sync.Mutex

	numStartedRuns    uint64
	numSuccessfulRuns uint64
	startTime         time.Duration
	lastRunStartTime  time.Duration
	lastRunSuccess    time.Duration
	totalRunDuration  time.Duration

	numThrottles       map[throttle.Decision]uint64
	throttleDurations  map[throttle.Decision]time.Duration
	numDurations       map[throttle.Decision]uint64
	numMissedDeadlines map[throttle.Decision]uint64
}

func New(ts timesource.TimeSource) *Stats {
	return &Stats{
		time:               ts,
		numThrottles:       make(map[throttle.Decision]uint64),
		throttleDurations:  make(map[throttle.Decision]time.Duration),
		numDurations:       make(map[throttle.Decision]uint64),
		numMissedDeadlines: make(map[throttle.Decision]uint64),
	}
}

// RegisterStartRun stamps the start of a control step.
func (s *Stats) RegisterStartRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numStartedRuns++
	s.lastRunStartTime = s.time.Time()
	if s.startTime == 0 {
		s.startTime = s.lastRunStartTime
	}
}

// RegisterSuccessfulRun records a completed step. previousDecision is the
// decision that was in effect before this step; the time and work-duration
// rollups since the last success are attributed to it. The attribution
// window is capped at the hint timeout so long idle gaps, where the loop was
// blocked with no hints active, don't inflate a decision's holding time.
func (s *Stats) RegisterSuccessfulRun(previousDecision, decision throttle.Decision,
	work workdurations.Features, cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numSuccessfulRuns++
	s.numThrottles[decision]++
	runSuccessTime := s.time.Time()
	s.totalRunDuration += runSuccessTime - s.lastRunStartTime
	// Skip previousDecision attribution until a prior successful run exists.
	if s.lastRunSuccess != 0 {
		holding := runSuccessTime - s.lastRunSuccess
		if holding > cfg.HintTimeout {
			holding = cfg.HintTimeout
		}
		s.throttleDurations[previousDecision] += holding
		s.numDurations[previousDecision] += uint64(work.NumDurations)
		s.numMissedDeadlines[previousDecision] += uint64(work.NumMissedDeadlines)
	}
	s.lastRunSuccess = runSuccessTime
}

// DumpToStream writes the human-readable stats report.
func (s *Stats) DumpToStream(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "Stats:\n")
	fmt.Fprintf(w, "- Successful runs / total runs: %d / %d\n", s.numSuccessfulRuns, s.numStartedRuns)
	fmt.Fprintf(w, "- Total run duration: %s\n", FormatDuration(s.totalRunDuration))
	if s.numSuccessfulRuns > 0 {
		fmt.Fprintf(w, "- Average run duration: %s\n",
			FormatDuration(s.totalRunDuration/time.Duration(s.numSuccessfulRuns)))
	}
	elapsed := s.time.Time() - s.startTime
	if elapsed > 0 {
		fmt.Fprintf(w, "- Running time fraction: %g\n",
			float64(s.totalRunDuration)/float64(elapsed))
	}

	fmt.Fprintf(w, "- Number of throttles:\n")
	var totalNumThrottles uint64
	for _, decision := range throttle.All() {
		numThrottles, ok := s.numThrottles[decision]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  - %s: %d\n", decision, numThrottles)
		totalNumThrottles += numThrottles
	}
	fmt.Fprintf(w, "  - Total: %d\n", totalNumThrottles)

	fmt.Fprintf(w, "- Time spent throttling:\n")
	var totalThrottleDuration time.Duration
	for _, decision := range throttle.All() {
		duration, ok := s.throttleDurations[decision]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  - %s: %s\n", decision, FormatDuration(duration))
		totalThrottleDuration += duration
	}
	fmt.Fprintf(w, "  - Total: %s\n", FormatDuration(totalThrottleDuration))

	fmt.Fprintf(w, "- Missed deadlines per throttle:\n")
	var totalNumDurations, totalNumMissedDeadlines uint64
	for _, decision := range throttle.All() {
		numDurations, ok := s.numDurations[decision]
		if !ok {
			continue
		}
		numMissedDeadlines := s.numMissedDeadlines[decision]
		fmt.Fprintf(w, "  - %s: %d / %d (%g)\n", decision, numMissedDeadlines, numDurations,
			float64(numMissedDeadlines)/float64(numDurations))
		totalNumDurations += numDurations
		totalNumMissedDeadlines += numMissedDeadlines
	}
	if totalNumDurations > 0 {
		fmt.Fprintf(w, "  - Total: %d / %d (%g)\n", totalNumMissedDeadlines, totalNumDurations,
			float64(totalNumMissedDeadlines)/float64(totalNumDurations))
	} else {
		fmt.Fprintf(w, "  - Total: 0 / 0\n")
	}
	return nil
}

// FormatDuration autoscales a duration across ns/us/ms/s. The ms range
// intentionally ends at 1e8ns (100ms) so sub-second values near a second
// already read in seconds.
func FormatDuration(duration time.Duration) string {
	count := float64(duration.Nanoseconds())
	switch {
	case count < 1e3:
		return fmt.Sprintf("%gns", count)
	case count < 1e6:
		return fmt.Sprintf("%gus", count/1e3)
	case count < 1e8:
		return fmt.Sprintf("%gms", count/1e6)
	default:
		return fmt.Sprintf("%gs", count/1e9)
	}
}

// Snapshot is an immutable copy of the counters for the monitoring
// collectors.
type Snapshot struct {
	NumStartedRuns     uint64
	NumSuccessfulRuns  uint64
	TotalRunDuration   time.Duration
	NumThrottles       map[throttle.Decision]uint64
	ThrottleDurations  map[throttle.Decision]time.Duration
	NumMissedDeadlines map[throttle.Decision]uint64
	NumDurations       map[throttle.Decision]uint64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		NumStartedRuns:     s.numStartedRuns,
		NumSuccessfulRuns:  s.numSuccessfulRuns,
		TotalRunDuration:   s.totalRunDuration,
		NumThrottles:       make(map[throttle.Decision]uint64, len(s.numThrottles)),
		ThrottleDurations:  make(map[throttle.Decision]time.Duration, len(s.throttleDurations)),
		NumMissedDeadlines: make(map[throttle.Decision]uint64, len(s.numMissedDeadlines)),
		NumDurations:       make(map[throttle.Decision]uint64, len(s.numDurations)),
	}
	for decision, count := range s.numThrottles {
		snapshot.NumThrottles[decision] = count
	}
	for decision, duration := range s.throttleDurations {
		snapshot.ThrottleDurations[decision] = duration
	}
	for decision, count := range s.numMissedDeadlines {
		snapshot.NumMissedDeadlines[decision] = count
	}
	for decision, count := range s.numDurations {
		snapshot.NumDurations[decision] = count
	}
	return snapshot
}
