package workdurations

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// NormalTarget is the standard target duration, based on 60 FPS. Durations
// submitted with different targets are normalised against this target: a
// duration at 80% of its own target scales to 0.8 * NormalTarget.
const NormalTarget = 16666666 * time.Nanosecond

// MaxDuration is the upper filter bound; longer durations are ignored.
const MaxDuration = 600 * NormalTarget

// maxUnprocessedBatches caps the mailbox. If the processing side stalls but
// producers keep reporting, accepting unboundedly would consume large
// amounts of memory, so the mailbox is cleared and the report rejected.
const maxUnprocessedBatches = 1000

// WorkDuration is one producer-reported work unit.
type WorkDuration struct {
	TimestampNanos int64
	DurationNanos  int64
}

// Batch groups durations reported together against a single target.
type Batch struct {
	Durations []WorkDuration
	Target    time.Duration
}

// Features is the reduction of all pending batches into one feature record.
type Features struct {
	AverageDuration    time.Duration
	MaxDuration        time.Duration
	NumMissedDeadlines uint32
	NumDurations       uint32
}

// Processor is a concurrent mailbox for work-duration batches. Producers
// append with ReportWorkDurations from arbitrary goroutines; the control
// loop drains with GetFeatures.
type Processor struct {
	log logr.Logger

	mu      sync.Mutex
	batches []Batch
}

func NewProcessor(log logr.Logger) *Processor {
	return &Processor{log: log}
}

// ReportWorkDurations appends a batch. It returns false when the mailbox is
// over capacity, in which case all pending batches are dropped.
func (p *Processor) ReportWorkDurations(durations []WorkDuration, target time.Duration) bool {
	p.log.V(5).Info("Received work durations", "count", len(durations), "targetNs", target.Nanoseconds())
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) >= maxUnprocessedBatches {
		p.log.Error(nil, "Work durations aren't being processed fast enough")
		p.batches = nil
		return false
	}
	p.batches = append(p.batches, Batch{Durations: durations, Target: target})
	return true
}

// GetFeatures atomically takes all pending batches and reduces them.
// Durations outside (0, MaxDuration] are discarded; the rest are normalised
// to the 60Hz target so features are comparable across producers. When every
// duration is filtered out the zero Features record is returned and the
// caller must skip the step.
func (p *Processor) GetFeatures() Features {
	p.mu.Lock()
	batches := p.batches
	p.batches = nil
	p.mu.Unlock()

	var durationsSum time.Duration
	var maxDuration time.Duration
	var numMissedDeadlines uint32
	var numDurations uint32
	for _, batch := range batches {
		for _, workDuration := range batch.Durations {
			duration := time.Duration(workDuration.DurationNanos)
			if duration <= 0 || duration > MaxDuration {
				continue
			}

			// MaxDuration * NormalTarget fits comfortably within int64.
			normalized := duration * NormalTarget / batch.Target
			durationsSum += normalized
			if normalized > maxDuration {
				maxDuration = normalized
			}
			if duration > batch.Target {
				numMissedDeadlines++
			}
			numDurations++
		}
	}

	if numDurations == 0 {
		return Features{}
	}
	return Features{
		AverageDuration:    durationsSum / time.Duration(numDurations),
		MaxDuration:        maxDuration,
		NumMissedDeadlines: numMissedDeadlines,
		NumDurations:       numDurations,
	}
}

// HasWorkDurations reports whether a batch has arrived since the last
// GetFeatures call.
func (p *Processor) HasWorkDurations() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches) > 0
}
