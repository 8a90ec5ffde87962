package controller

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/cpureader"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/device"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/hint"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/model"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/stats"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/timesource"
)

// HintName is the inbound hint that enables/disables the agent.
const HintName = "ADAPTIVE_CPU"

// Func definitions for unit testing
var (
	testHookStopLoop func() bool
	sleepFunc        = time.Sleep
)

// KernelFeatureReader yields recent CPU features from kernel counters.
type KernelFeatureReader interface {
	Init() error
	GetRecentCpuFeatures() ([cpureader.NumCPUPolicies]float64, [cpureader.NumCPUCores]float64, error)
	DumpToStream(w io.Writer) error
}

// ModelRunner maps a feature history to a throttle decision.
type ModelRunner interface {
	Run(inputs []model.ModelInput, cfg config.Config) throttle.Decision
}

// AdaptiveCpu infers CPU throttling hints from recent CPU statistics and
// reported work durations and applies them through the hint manager.
//
// Public methods are safe for concurrent use. ReportWorkDurations is the
// producer fast path and can be called from arbitrary goroutines.
type AdaptiveCpu struct {
	processor   *workdurations.Processor
	reader      KernelFeatureReader
	model       ModelRunner
	stats       *stats.Stats
	hintManager hint.Manager
	time        timesource.TimeSource
	properties  config.PropertyStore
	log         logr.Logger

	// Guards against starting multiple worker goroutines when
	// HintReceived(true) races with itself.
	loopCreationMu sync.Mutex
	loopStarted    bool

	waitMu        sync.Mutex
	workAvailable *sync.Cond

	isEnabled           atomic.Bool
	shouldReloadConfig  atomic.Bool
	lastEnabledHintTime atomic.Int64

	// Owned by the worker goroutine.
	isInitialized        bool
	dev                  device.Device
	cfg                  config.Config
	lastThrottleHintTime time.Duration
}

func New(
	processor *workdurations.Processor,
	reader KernelFeatureReader,
	modelRunner ModelRunner,
	st *stats.Stats,
	hintManager hint.Manager,
	ts timesource.TimeSource,
	properties config.PropertyStore,
	log logr.Logger,
) *AdaptiveCpu {
	c := &AdaptiveCpu{
		processor:   processor,
		reader:      reader,
		model:       modelRunner,
		stats:       st,
		hintManager: hintManager,
		time:        ts,
		properties:  properties,
		log:         log,
		cfg:         config.Default,
	}
	c.workAvailable = sync.NewCond(&c.waitMu)
	return c
}

func (c *AdaptiveCpu) IsEnabled() bool {
	return c.isEnabled.Load()
}

// HintReceived enables or disables the agent. The first enable starts the
// worker goroutine; it is never stopped again, a disable only leaves it
// blocked until the next enable.
func (c *AdaptiveCpu) HintReceived(enable bool) {
	c.log.V(4).Info("Received hint", "enable", enable)
	if enable {
		c.startLoop()
	} else {
		c.suspendLoop()
	}
}

func (c *AdaptiveCpu) startLoop() {
	c.loopCreationMu.Lock()
	defer c.loopCreationMu.Unlock()
	c.log.V(4).Info("Starting control loop")
	c.isEnabled.Store(true)
	c.shouldReloadConfig.Store(true)
	c.lastEnabledHintTime.Store(int64(c.time.Time()))
	if !c.loopStarted {
		c.loopStarted = true
		go func() {
			c.log.V(4).Info("Started control loop goroutine")
			c.runMainLoop()
			c.log.Error(nil, "control loop ended, this should never happen")
		}()
	}
}

func (c *AdaptiveCpu) suspendLoop() {
	c.log.V(4).Info("Suspending control loop")
	// This stops ReportWorkDurations from accepting work, which leaves the
	// worker blocked until re-enabled.
	c.isEnabled.Store(false)
}

// ReportWorkDurations queues a batch of work durations for asynchronous
// processing and returns immediately. When the mailbox overflows the agent
// disables itself until the next enable hint.
func (c *AdaptiveCpu) ReportWorkDurations(durations []workdurations.WorkDuration, target time.Duration) {
	if !c.isEnabled.Load() {
		return
	}
	if !c.processor.ReportWorkDurations(durations, target) {
		c.isEnabled.Store(false)
		return
	}
	c.workAvailable.Signal()
}

func (c *AdaptiveCpu) waitForEnabledAndWorkDurations() {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for !(c.isEnabled.Load() && c.processor.HasWorkDurations()) {
		c.workAvailable.Wait()
	}
}

func (c *AdaptiveCpu) runMainLoop() {
	historicalInputs := make([]model.ModelInput, 0, model.NumHistoricalModelInputs)
	previousDecision := throttle.NoThrottle
	for {
		if testHookStopLoop != nil && testHookStopLoop() {
			return
		}

		c.waitForEnabledAndWorkDurations()

		if time.Duration(c.lastEnabledHintTime.Load())+c.cfg.EnabledHintTimeout < c.time.Time() {
			c.log.V(4).Info("Enable hint timed out",
				"lastEnabledNs", c.lastEnabledHintTime.Load())
			c.isEnabled.Store(false)
			continue
		}

		if c.shouldReloadConfig.Load() {
			cfg, err := config.Load(c.properties, c.log)
			if err != nil {
				c.log.Error(err, "failed to reload config")
				c.isEnabled.Store(false)
				continue
			}
			c.cfg = cfg
			c.log.V(4).Info("Read config", "config", c.cfg.String())
			c.shouldReloadConfig.Store(false)
		}

		c.stats.RegisterStartRun()

		if !c.isInitialized {
			if err := c.reader.Init(); err != nil {
				c.log.Error(err, "failed to initialize feature reader")
				c.isEnabled.Store(false)
				continue
			}
			c.dev = device.Read(c.properties, c.log)
			c.isInitialized = true
		}

		var input model.ModelInput
		input.PreviousThrottleDecision = previousDecision
		input.Device = c.dev

		input.WorkDurationFeatures = c.processor.GetFeatures()
		c.log.V(5).Info("Got work durations",
			"count", input.WorkDurationFeatures.NumDurations,
			"averageNs", input.WorkDurationFeatures.AverageDuration.Nanoseconds())
		if input.WorkDurationFeatures.NumDurations == 0 {
			continue
		}

		frequencies, idleTimes, err := c.reader.GetRecentCpuFeatures()
		if err != nil {
			c.log.Error(err, "failed to read CPU features")
			c.isEnabled.Store(false)
			continue
		}
		input.CpuPolicyAverageFrequencyHz = frequencies
		input.CpuCoreIdleTimesFraction = idleTimes

		historicalInputs = append(historicalInputs, input)
		if len(historicalInputs) > model.NumHistoricalModelInputs {
			historicalInputs = historicalInputs[1:]
		}

		decision := c.model.Run(historicalInputs, c.cfg)
		c.log.V(5).Info("Model decision", "decision", uint32(decision))

		now := c.time.Time()
		// Resend the throttle hints, even unchanged ones, when the previous
		// send is within half the hint timeout of expiring: there is no
		// guarantee the loop runs again before the actual timeout.
		hintMayTimeout := now-c.lastThrottleHintTime > c.cfg.HintTimeout/2
		if decision != previousDecision || hintMayTimeout {
			c.lastThrottleHintTime = now
			for _, name := range decision.HintNames() {
				c.hintManager.DoHint(name, c.cfg.HintTimeout)
			}
		}
		statsPreviousDecision := previousDecision
		if decision != previousDecision {
			for _, name := range previousDecision.HintNames() {
				c.hintManager.EndHint(name)
			}
			previousDecision = decision
		}

		c.stats.RegisterSuccessfulRun(statsPreviousDecision, decision,
			input.WorkDurationFeatures, c.cfg)

		sleepFunc(c.cfg.IterationSleep)
	}
}

// DumpState writes a human-readable report of the agent state to w. Write
// failures are logged and swallowed.
func (c *AdaptiveCpu) DumpState(w io.Writer) {
	var report strings.Builder
	report.WriteString("========== Begin Adaptive CPU stats ==========\n")
	fmt.Fprintf(&report, "Enabled: %t\n", c.isEnabled.Load())
	fmt.Fprintf(&report, "Config: %s\n", c.cfg.String())
	if err := c.reader.DumpToStream(&report); err != nil {
		c.log.Error(err, "failed to dump reader state")
	}
	if err := c.stats.DumpToStream(&report); err != nil {
		c.log.Error(err, "failed to dump stats")
	}
	report.WriteString("==========  End Adaptive CPU stats  ==========\n")
	if _, err := io.WriteString(w, report.String()); err != nil {
		c.log.Error(err, "failed to dump state to sink")
	}
}
