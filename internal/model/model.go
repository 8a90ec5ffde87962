package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/cpureader"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/device"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
)

// NumHistoricalModelInputs is how many recent ModelInputs are passed to the
// model, including the most recent one.
const NumHistoricalModelInputs = 3

// ModelInput is one control step's feature vector.
type ModelInput struct {
	CpuPolicyAverageFrequencyHz [cpureader.NumCPUPolicies]float64
	CpuCoreIdleTimesFraction    [cpureader.NumCPUCores]float64
	WorkDurationFeatures        workdurations.Features
	PreviousThrottleDecision    throttle.Decision
	Device                      device.Device
}

// SetCpuFrequencies fills the per-policy frequency features from a reader
// result. The list must contain exactly one entry per policy, strictly
// increasing by policy id.
func (m *ModelInput) SetCpuFrequencies(frequencies []cpureader.PolicyAverageFrequency) error {
	if len(frequencies) != len(m.CpuPolicyAverageFrequencyHz) {
		return fmt.Errorf("received incorrect amount of CPU policy frequencies, expected %d, received %d",
			len(m.CpuPolicyAverageFrequencyHz), len(frequencies))
	}
	previousPolicyID := int64(-1)
	for i, frequency := range frequencies {
		if previousPolicyID >= int64(frequency.PolicyID) {
			return fmt.Errorf("CPU frequencies weren't sorted by policy ID, found %d then %d",
				previousPolicyID, frequency.PolicyID)
		}
		previousPolicyID = int64(frequency.PolicyID)
		m.CpuPolicyAverageFrequencyHz[i] = float64(frequency.AverageFrequencyHz)
	}
	return nil
}

// Model maps a short history of feature vectors to a throttle decision,
// optionally overridden by a uniform-random exploration draw.
type Model struct {
	rng *rand.Rand
	log logr.Logger
}

func New(log logr.Logger) *Model {
	return &Model{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log: log,
	}
}

// newWithRand is used by tests that need a deterministic draw sequence.
func newWithRand(rng *rand.Rand, log logr.Logger) *Model {
	return &Model{rng: rng, log: log}
}

// Run returns the throttle decision for the given history, ordered least to
// most recent. With probability RandomThrottleDecisionProbability the
// decision is drawn uniformly from RandomThrottleOptions instead of the
// decision tree.
func (m *Model) Run(inputs []ModelInput, cfg config.Config) throttle.Decision {
	if cfg.RandomThrottleDecisionProbability > 0 &&
		m.rng.Float64() < cfg.RandomThrottleDecisionProbability {
		decision := cfg.RandomThrottleOptions[m.rng.IntN(len(cfg.RandomThrottleOptions))]
		m.log.V(5).Info("Randomly overrode throttle decision", "decision", uint32(decision))
		return decision
	}
	return RunDecisionTree(inputs)
}
