package controller

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/cpureader"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/model"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/stats"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/testutils"
)

type fakeFeatureReader struct {
	initErr error
	readErr error
}

func (r *fakeFeatureReader) Init() error { return r.initErr }

func (r *fakeFeatureReader) GetRecentCpuFeatures() (
	[cpureader.NumCPUPolicies]float64, [cpureader.NumCPUCores]float64, error,
) {
	return [cpureader.NumCPUPolicies]float64{}, [cpureader.NumCPUCores]float64{}, r.readErr
}

func (r *fakeFeatureReader) DumpToStream(w io.Writer) error {
	_, err := fmt.Fprintf(w, "CPU features from acpu_stats:\n")
	return err
}

// scriptedModel returns the scripted decisions in order, repeating the last
// one once exhausted.
type scriptedModel struct {
	decisions []throttle.Decision
	calls     int
}

func (m *scriptedModel) Run([]model.ModelInput, config.Config) throttle.Decision {
	idx := m.calls
	if idx >= len(m.decisions) {
		idx = len(m.decisions) - 1
	}
	m.calls++
	return m.decisions[idx]
}

// hintRecorder records hint calls in emission order.
type hintRecorder struct {
	mu     sync.Mutex
	events []string
}

func (h *hintRecorder) DoHint(name string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "do:"+name)
}

func (h *hintRecorder) EndHint(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "end:"+name)
}

func (h *hintRecorder) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type fixture struct {
	controller *AdaptiveCpu
	processor  *workdurations.Processor
	reader     *fakeFeatureReader
	model      *scriptedModel
	hints      *hintRecorder
	time       *testutils.FakeTimeSource
	properties *testutils.FakePropertyStore
}

func newFixture(decisions ...throttle.Decision) *fixture {
	f := &fixture{
		processor:  workdurations.NewProcessor(logr.Discard()),
		reader:     &fakeFeatureReader{},
		model:      &scriptedModel{decisions: decisions},
		hints:      &hintRecorder{},
		time:       testutils.NewFakeTimeSource(time.Hour, time.Hour),
		properties: testutils.NewFakePropertyStore(),
	}
	f.controller = New(f.processor, f.reader, f.model, stats.New(f.time), f.hints,
		f.time, f.properties, logr.Discard())
	return f
}

func (f *fixture) queueWork() {
	f.processor.ReportWorkDurations(
		[]workdurations.WorkDuration{{DurationNanos: workdurations.NormalTarget.Nanoseconds()}},
		workdurations.NormalTarget)
}

// runIterations drives the main loop synchronously for n iterations,
// queueing a work batch and advancing the clock before each one.
func (f *fixture) runIterations(t *testing.T, n int, advance time.Duration) {
	t.Helper()
	origHook, origSleep := testHookStopLoop, sleepFunc
	defer func() { testHookStopLoop = origHook; sleepFunc = origSleep }()
	sleepFunc = func(time.Duration) {}

	iteration := 0
	testHookStopLoop = func() bool {
		if iteration >= n {
			return true
		}
		iteration++
		f.time.Advance(advance)
		f.queueWork()
		return false
	}

	f.controller.isEnabled.Store(true)
	f.controller.shouldReloadConfig.Store(true)
	f.controller.lastEnabledHintTime.Store(int64(f.time.Time()))
	f.controller.runMainLoop()
}

func TestHintEmissionOnFirstDecision(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.runIterations(t, 1, time.Millisecond)

	assert.Equal(t, []string{
		"do:LOW_POWER_LITTLE_CLUSTER_60",
		"do:LOW_POWER_MID_CLUSTER_60",
		"do:LOW_POWER_CPU_60",
	}, f.hints.recorded())
}

func TestStableDecisionDoesNotReemitWithinHalfTimeout(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	// Default hint timeout is 2s; 100ms steps stay well within half of it.
	f.runIterations(t, 5, 100*time.Millisecond)

	assert.Len(t, f.hints.recorded(), 3)
	for _, event := range f.hints.recorded() {
		assert.True(t, strings.HasPrefix(event, "do:"))
	}
}

func TestStableDecisionRefreshesAfterHalfTimeout(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	// Each step advances past half the 2s hint timeout, so every iteration
	// refreshes, and no hint is ever ended.
	f.runIterations(t, 3, 1100*time.Millisecond)

	events := f.hints.recorded()
	assert.Len(t, events, 9)
	for _, event := range events {
		assert.True(t, strings.HasPrefix(event, "do:"))
	}
}

func TestDecisionChangeEmitsNewHintsBeforeEndingOld(t *testing.T) {
	f := newFixture(throttle.Throttle60, throttle.Throttle70)
	f.runIterations(t, 2, time.Millisecond)

	assert.Equal(t, []string{
		"do:LOW_POWER_LITTLE_CLUSTER_60",
		"do:LOW_POWER_MID_CLUSTER_60",
		"do:LOW_POWER_CPU_60",
		"do:LOW_POWER_LITTLE_CLUSTER_70",
		"do:LOW_POWER_MID_CLUSTER_70",
		"do:LOW_POWER_CPU_70",
		"end:LOW_POWER_LITTLE_CLUSTER_60",
		"end:LOW_POWER_MID_CLUSTER_60",
		"end:LOW_POWER_CPU_60",
	}, f.hints.recorded())
}

func TestNoThrottleEmitsNothing(t *testing.T) {
	f := newFixture(throttle.NoThrottle)
	f.runIterations(t, 3, time.Millisecond)

	assert.Empty(t, f.hints.recorded())
}

func TestEnableTimeoutDisables(t *testing.T) {
	f := newFixture(throttle.Throttle60)

	origHook, origSleep := testHookStopLoop, sleepFunc
	defer func() { testHookStopLoop = origHook; sleepFunc = origSleep }()
	sleepFunc = func(time.Duration) {}

	iteration := 0
	testHookStopLoop = func() bool {
		if iteration >= 1 {
			return true
		}
		iteration++
		f.queueWork()
		return false
	}

	f.controller.isEnabled.Store(true)
	f.controller.lastEnabledHintTime.Store(int64(f.time.Time()))
	// Advance past the default 120min enabled hint timeout with no fresh
	// enable hint.
	f.time.Advance(config.Default.EnabledHintTimeout + time.Second)
	f.controller.runMainLoop()

	assert.False(t, f.controller.IsEnabled())
	assert.Empty(t, f.hints.recorded())
}

func TestConfigLoadFailureDisables(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.properties.Properties["debug.adaptivecpu.random_throttle_options"] = "0,1,2,9"
	f.runIterations(t, 1, time.Millisecond)

	assert.False(t, f.controller.IsEnabled())
	assert.Empty(t, f.hints.recorded())
}

func TestReaderInitFailureDisables(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.reader.initErr = fmt.Errorf("no stats file")
	f.runIterations(t, 1, time.Millisecond)

	assert.False(t, f.controller.IsEnabled())
	assert.Empty(t, f.hints.recorded())
}

func TestReaderReadFailureDisables(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.reader.readErr = fmt.Errorf("short read")
	f.runIterations(t, 1, time.Millisecond)

	assert.False(t, f.controller.IsEnabled())
	assert.Empty(t, f.hints.recorded())
}

func TestStepSkippedWhenAllDurationsFiltered(t *testing.T) {
	f := newFixture(throttle.Throttle60)

	origHook, origSleep := testHookStopLoop, sleepFunc
	defer func() { testHookStopLoop = origHook; sleepFunc = origSleep }()
	sleepFunc = func(time.Duration) {}

	iteration := 0
	testHookStopLoop = func() bool {
		if iteration >= 1 {
			return true
		}
		iteration++
		f.processor.ReportWorkDurations(
			[]workdurations.WorkDuration{{DurationNanos: -1}}, workdurations.NormalTarget)
		return false
	}

	f.controller.isEnabled.Store(true)
	f.controller.lastEnabledHintTime.Store(int64(f.time.Time()))
	f.controller.runMainLoop()

	assert.Equal(t, 0, f.model.calls)
	assert.Empty(t, f.hints.recorded())
	assert.True(t, f.controller.IsEnabled())
}

func TestReportWorkDurationsIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.controller.ReportWorkDurations(
		[]workdurations.WorkDuration{{DurationNanos: 1}}, workdurations.NormalTarget)

	assert.False(t, f.processor.HasWorkDurations())
}

func TestReportWorkDurationsOverflowDisables(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	f.controller.isEnabled.Store(true)

	for i := 0; i < 1000; i++ {
		f.controller.ReportWorkDurations(
			[]workdurations.WorkDuration{{DurationNanos: 1}}, workdurations.NormalTarget)
		assert.True(t, f.controller.IsEnabled())
	}
	f.controller.ReportWorkDurations(
		[]workdurations.WorkDuration{{DurationNanos: 1}}, workdurations.NormalTarget)

	assert.False(t, f.controller.IsEnabled())
	assert.False(t, f.processor.HasWorkDurations())
}

func TestHintReceivedStartsLoopOnce(t *testing.T) {
	f := newFixture(throttle.Throttle60)

	origHook := testHookStopLoop
	defer func() { testHookStopLoop = origHook }()
	// Make any started goroutine exit immediately.
	testHookStopLoop = func() bool { return true }

	f.controller.HintReceived(true)
	assert.True(t, f.controller.IsEnabled())
	f.controller.HintReceived(true)
	assert.True(t, f.controller.loopStarted)

	f.controller.HintReceived(false)
	assert.False(t, f.controller.IsEnabled())
	// The worker is suspended, never destroyed.
	assert.True(t, f.controller.loopStarted)
}

func TestDumpState(t *testing.T) {
	f := newFixture(throttle.Throttle60)
	var report strings.Builder
	f.controller.DumpState(&report)

	dump := report.String()
	assert.True(t, strings.HasPrefix(dump, "========== Begin Adaptive CPU stats ==========\n"))
	assert.True(t, strings.HasSuffix(dump, "==========  End Adaptive CPU stats  ==========\n"))
	assert.Contains(t, dump, "Enabled: false")
	assert.Contains(t, dump, "Config: AdaptiveCpuConfig(")
	assert.Contains(t, dump, "CPU features from acpu_stats:")
	assert.Contains(t, dump, "Stats:")
}
