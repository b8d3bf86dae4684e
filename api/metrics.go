package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertSMSFailureSpike  AlertType = "sms_failure_spike"
	AlertBrokerThrottling AlertType = "broker_throttling"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts occurrences within a trailing window.
type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records an occurrence at now and reports the count when the threshold
// is reached. The window is reset after a hit so one spike alerts once.
func (w *slidingWindow) add(now time.Time) (int, bool) {
	w.times = append(w.times, now)
	w.times = trimWindow(w.times, now, w.window)
	if len(w.times) < w.threshold {
		return 0, false
	}
	n := len(w.times)
	w.times = w.times[:0]
	return n, true
}

// failureMonitor tracks sliding window counters over audit events.
type failureMonitor struct {
	mu sync.Mutex

	smsFailures slidingWindow
	throttled   slidingWindow

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultSMSFailureWindow    = 1 * time.Minute
	defaultSMSFailureThreshold = 30
	defaultThrottleWindow      = 5 * time.Minute
	defaultThrottleThreshold   = 10
)

func newFailureMonitor(alertFn AlertFunc, now func() time.Time) *failureMonitor {
	if now == nil {
		now = time.Now
	}
	return &failureMonitor{
		smsFailures: slidingWindow{window: defaultSMSFailureWindow, threshold: defaultSMSFailureThreshold},
		throttled:   slidingWindow{window: defaultThrottleWindow, threshold: defaultThrottleThreshold},
		alertFn:     alertFn,
		now:         now,
	}
}

// record inspects an audit event and updates the relevant counters.
func (m *failureMonitor) record(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditSMSFailure:
		m.hit(&m.smsFailures, AlertSMSFailureSpike, "sms verification failure rate exceeds threshold")
	case AuditBrokerRateLimited:
		m.hit(&m.throttled, AlertBrokerThrottling, "broker returned repeated 429 responses")
	}
}

func (m *failureMonitor) hit(w *slidingWindow, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	n, fire := w.add(now)
	m.mu.Unlock()

	if fire {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     n,
			Threshold: w.threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
