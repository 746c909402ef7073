package metrics

import (
	"time"

	"github.com/rs/zerolog"
	tally "github.com/uber-go/tally/v4"
)

// LogReporter is a tally.StatsReporter that writes each reported value as a
// debug-level log line.
type LogReporter struct {
	logger zerolog.Logger
}

var _ tally.StatsReporter = (*LogReporter)(nil)

// NewLogReporter creates a reporter logging with component=metrics.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

type reporterCapabilities struct{}

func (reporterCapabilities) Reporting() bool { return true }
func (reporterCapabilities) Tagging() bool   { return true }

// Capabilities implements tally.BaseStatsReporter.
func (r *LogReporter) Capabilities() tally.Capabilities {
	return reporterCapabilities{}
}

// Flush implements tally.BaseStatsReporter. Log lines are written eagerly.
func (r *LogReporter) Flush() {}

// ReportCounter implements tally.StatsReporter.
func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	r.logger.Debug().
		Str("metric", name).
		Fields(tagFields(tags)).
		Int64("delta", value).
		Msg("counter")
}

// ReportGauge implements tally.StatsReporter.
func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.logger.Debug().
		Str("metric", name).
		Fields(tagFields(tags)).
		Float64("value", value).
		Msg("gauge")
}

// ReportTimer implements tally.StatsReporter.
func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.logger.Debug().
		Str("metric", name).
		Fields(tagFields(tags)).
		Dur("duration", interval).
		Msg("timer")
}

// ReportHistogramValueSamples implements tally.StatsReporter.
func (r *LogReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound, bucketUpperBound float64,
	samples int64,
) {
	r.logger.Debug().
		Str("metric", name).
		Fields(tagFields(tags)).
		Float64("lower", bucketLowerBound).
		Float64("upper", bucketUpperBound).
		Int64("samples", samples).
		Msg("histogram")
}

// ReportHistogramDurationSamples implements tally.StatsReporter.
func (r *LogReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound, bucketUpperBound time.Duration,
	samples int64,
) {
	r.logger.Debug().
		Str("metric", name).
		Fields(tagFields(tags)).
		Dur("lower", bucketLowerBound).
		Dur("upper", bucketUpperBound).
		Int64("samples", samples).
		Msg("histogram")
}

func tagFields(tags map[string]string) map[string]interface{} {
	fields := make(map[string]interface{}, len(tags))
	for k, v := range tags {
		fields["tag_"+k] = v
	}
	return fields
}
