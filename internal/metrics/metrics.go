package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCounter returns the number of currently active records.
type ActiveCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// DirectionCounter returns call counts grouped by direction.
type DirectionCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// RecordingCounter returns the number of stored recordings.
type RecordingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// CorrelatorStats exposes the event correlation counters.
type CorrelatorStats interface {
	EventCounts() map[string]uint64
	CorrelationMisses() uint64
	RetryWaits() uint64
}

// Collector is a prometheus.Collector that gathers PBXLink metrics at scrape time.
type Collector struct {
	calls      ActiveCounter
	channels   ActiveCounter
	directions DirectionCounter
	recordings RecordingCounter
	correlator CorrelatorStats
	startTime  time.Time

	// Metric descriptors.
	activeCallsDesc    *prometheus.Desc
	activeChannelsDesc *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	eventsTotalDesc    *prometheus.Desc
	missesDesc         *prometheus.Desc
	retryWaitsDesc     *prometheus.Desc
	recordingsDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	calls ActiveCounter,
	channels ActiveCounter,
	directions DirectionCounter,
	recordings RecordingCounter,
	correlator CorrelatorStats,
	startTime time.Time,
) *Collector {
	return &Collector{
		calls:      calls,
		channels:   channels,
		directions: directions,
		recordings: recordings,
		correlator: correlator,
		startTime:  startTime,

		activeCallsDesc: prometheus.NewDesc(
			"pbxlink_active_calls",
			"Number of currently active calls",
			nil, nil,
		),
		activeChannelsDesc: prometheus.NewDesc(
			"pbxlink_active_channels",
			"Number of currently active channels",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"pbxlink_calls_total",
			"Total number of calls tracked",
			[]string{"direction"}, nil,
		),
		eventsTotalDesc: prometheus.NewDesc(
			"pbxlink_events_total",
			"Total number of switch events processed",
			[]string{"event"}, nil,
		),
		missesDesc: prometheus.NewDesc(
			"pbxlink_correlation_misses_total",
			"Events whose call could not be matched after all retries",
			nil, nil,
		),
		retryWaitsDesc: prometheus.NewDesc(
			"pbxlink_correlation_retry_waits_total",
			"Retry sleeps spent waiting for out-of-order events",
			nil, nil,
		),
		recordingsDesc: prometheus.NewDesc(
			"pbxlink_recordings",
			"Number of stored call recordings",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"pbxlink_uptime_seconds",
			"Seconds since the PBXLink process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.activeChannelsDesc
	ch <- c.callsTotalDesc
	ch <- c.eventsTotalDesc
	ch <- c.missesDesc
	ch <- c.retryWaitsDesc
	ch <- c.recordingsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		count, err := c.calls.CountActive(ctx)
		if err != nil {
			slog.Error("metrics: failed to count active calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	if c.channels != nil {
		count, err := c.channels.CountActive(ctx)
		if err != nil {
			slog.Error("metrics: failed to count active channels", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeChannelsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	// Call volume counters by direction.
	if c.directions != nil {
		counts, err := c.directions.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by direction", "error", err)
		} else {
			for _, dir := range []string{"in", "out"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[dir]), dir,
				)
			}
		}
	}

	// Correlation counters.
	if c.correlator != nil {
		for event, count := range c.correlator.EventCounts() {
			ch <- prometheus.MustNewConstMetric(
				c.eventsTotalDesc, prometheus.CounterValue,
				float64(count), event,
			)
		}
		ch <- prometheus.MustNewConstMetric(
			c.missesDesc, prometheus.CounterValue,
			float64(c.correlator.CorrelationMisses()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.retryWaitsDesc, prometheus.CounterValue,
			float64(c.correlator.RetryWaits()),
		)
	}

	if c.recordings != nil {
		count, err := c.recordings.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count recordings", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.recordingsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
