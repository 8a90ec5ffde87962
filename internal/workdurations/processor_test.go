package workdurations

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func durations(values ...time.Duration) []WorkDuration {
	result := make([]WorkDuration, len(values))
	for i, value := range values {
		result[i] = WorkDuration{DurationNanos: value.Nanoseconds()}
	}
	return result
}

func TestGetFeaturesSingleBatch(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.True(t, p.ReportWorkDurations(durations(NormalTarget, 3*NormalTarget), NormalTarget))

	features := p.GetFeatures()
	assert.Equal(t, Features{
		AverageDuration:    2 * NormalTarget,
		MaxDuration:        3 * NormalTarget,
		NumMissedDeadlines: 1,
		NumDurations:       2,
	}, features)
}

func TestGetFeaturesMultipleBatches(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.True(t, p.ReportWorkDurations(durations(NormalTarget, 3*NormalTarget), NormalTarget))
	assert.True(t, p.ReportWorkDurations(durations(6*NormalTarget, 2*NormalTarget), NormalTarget))

	features := p.GetFeatures()
	assert.Equal(t, Features{
		AverageDuration:    3 * NormalTarget,
		MaxDuration:        6 * NormalTarget,
		NumMissedDeadlines: 3,
		NumDurations:       4,
	}, features)
}

func TestGetFeaturesNormalizesToStandardTarget(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.True(t, p.ReportWorkDurations(durations(2*NormalTarget, 6*NormalTarget), 2*NormalTarget))

	features := p.GetFeatures()
	assert.Equal(t, Features{
		AverageDuration:    2 * NormalTarget,
		MaxDuration:        3 * NormalTarget,
		NumMissedDeadlines: 1,
		NumDurations:       2,
	}, features)
}

func TestGetFeaturesFiltersOutOfRangeDurations(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.True(t, p.ReportWorkDurations(durations(
		-NormalTarget, 0, MaxDuration+1, 2*NormalTarget), NormalTarget))

	features := p.GetFeatures()
	assert.Equal(t, Features{
		AverageDuration:    2 * NormalTarget,
		MaxDuration:        2 * NormalTarget,
		NumMissedDeadlines: 1,
		NumDurations:       1,
	}, features)
}

func TestGetFeaturesEmptyReturnsZeroRecord(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.Equal(t, Features{}, p.GetFeatures())

	// A batch where everything is filtered also reduces to the zero record.
	assert.True(t, p.ReportWorkDurations(durations(-1), NormalTarget))
	assert.Equal(t, Features{}, p.GetFeatures())
}

func TestMissedDeadlinesUseBatchTarget(t *testing.T) {
	p := NewProcessor(logr.Discard())
	// Against a 2x target, 1.5x the standard target meets the deadline.
	assert.True(t, p.ReportWorkDurations(durations(3*NormalTarget/2), 2*NormalTarget))

	features := p.GetFeatures()
	assert.Equal(t, uint32(0), features.NumMissedDeadlines)
	assert.Equal(t, uint32(1), features.NumDurations)
}

func TestHasWorkDurations(t *testing.T) {
	p := NewProcessor(logr.Discard())
	assert.False(t, p.HasWorkDurations())

	assert.True(t, p.ReportWorkDurations(durations(NormalTarget), NormalTarget))
	assert.True(t, p.HasWorkDurations())

	p.GetFeatures()
	assert.False(t, p.HasWorkDurations())
}

func TestReportWorkDurationsOverflowClearsAndFails(t *testing.T) {
	p := NewProcessor(logr.Discard())
	for i := 0; i < maxUnprocessedBatches; i++ {
		assert.True(t, p.ReportWorkDurations(durations(NormalTarget), NormalTarget))
	}

	assert.False(t, p.ReportWorkDurations(durations(NormalTarget), NormalTarget))
	assert.False(t, p.HasWorkDurations())

	// The mailbox accepts again after being cleared.
	assert.True(t, p.ReportWorkDurations(durations(NormalTarget), NormalTarget))
}
