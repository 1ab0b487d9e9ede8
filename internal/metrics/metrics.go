package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Packet pool metrics
	poolSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_pktqueue_slots",
		Help: "Packet pool slots by state",
	}, []string{"state"})

	// Render metrics
	framesRenderedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_frames_rendered_total",
		Help: "Frames handed to a device sink",
	}, []string{"kind"})

	framesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_frames_dropped_total",
		Help: "Frames skipped before reaching a device sink",
	}, []string{"kind", "reason"})

	avDriftMilliseconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_av_drift_milliseconds",
		Help: "Video presentation time minus the master clock",
	})

	playbackSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_speed_percent",
		Help: "Current playback speed in percent",
	})

	playbackVolume = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_volume_index",
		Help: "Current index into the volume gain table",
	})

	// Pipeline metrics
	decodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_decode_errors_total",
		Help: "Packets that failed to decode",
	}, []string{"kind"})

	seeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_seeks_total",
		Help: "Seek requests by mode and outcome",
	}, []string{"mode", "result"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_reconnects_total",
		Help: "Source reconnection attempts",
	}, []string{"result"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_notifications_total",
		Help: "Notifications delivered to the host",
	}, []string{"message"})

	sourceDatarate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_source_datarate_bytes",
		Help: "Estimated source byte rate per second",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_sessions_active",
		Help: "Open playback sessions",
	})

	goroutinesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_goroutines_active",
		Help: "Running pipeline goroutines",
	}, []string{"component"})
)

// SetPoolStats publishes the packet pool slot distribution.
func SetPoolStats(free, audio, video, inFlight int) {
	poolSlots.WithLabelValues("free").Set(float64(free))
	poolSlots.WithLabelValues("audio").Set(float64(audio))
	poolSlots.WithLabelValues("video").Set(float64(video))
	poolSlots.WithLabelValues("in_flight").Set(float64(inFlight))
}

// IncrementFramesRendered counts a frame handed to a sink
func IncrementFramesRendered(kind string) {
	framesRenderedTotal.WithLabelValues(kind).Inc()
}

// IncrementFramesDropped counts a skipped frame
func IncrementFramesDropped(kind, reason string) {
	framesDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// SetAVDrift records the latest A/V drift measurement
func SetAVDrift(ms int64) {
	avDriftMilliseconds.Set(float64(ms))
}

// SetPlaybackSpeed records the configured speed
func SetPlaybackSpeed(percent int) {
	playbackSpeed.Set(float64(percent))
}

// SetVolume records the current volume table index
func SetVolume(index int) {
	playbackVolume.Set(float64(index))
}

// IncrementDecodeErrors counts a packet the decoder rejected
func IncrementDecodeErrors(kind string) {
	decodeErrorsTotal.WithLabelValues(kind).Inc()
}

// IncrementSeeks counts a seek request
func IncrementSeeks(mode, result string) {
	seeksTotal.WithLabelValues(mode, result).Inc()
}

// IncrementReconnects counts a reconnection attempt
func IncrementReconnects(result string) {
	reconnectsTotal.WithLabelValues(result).Inc()
}

// IncrementNotifications counts a host notification
func IncrementNotifications(message string) {
	notificationsTotal.WithLabelValues(message).Inc()
}

// SetDatarate records the estimated source byte rate
func SetDatarate(bytesPerSec float64) {
	sourceDatarate.Set(bytesPerSec)
}

// IncrementSessions marks a session opened
func IncrementSessions() {
	sessionsActive.Inc()
}

// DecrementSessions marks a session closed
func DecrementSessions() {
	sessionsActive.Dec()
}

// IncrementGoroutine marks a pipeline goroutine started
func IncrementGoroutine(component string) {
	goroutinesActive.WithLabelValues(component).Inc()
}

// DecrementGoroutine marks a pipeline goroutine finished
func DecrementGoroutine(component string) {
	goroutinesActive.WithLabelValues(component).Dec()
}
