package pubsub

import (
	"kvsd/internal/fifoio"
	"kvsd/internal/session"
	"kvsd/internal/wire"
)

// Metrics is the subset of the metrics registry the Notifier reports to.
// Defined locally to avoid an import cycle with internal/metrics, which
// depends on nothing but prometheus.
type Metrics interface {
	NotificationPublished()
	NotificationDelivered()
	NotificationDropped()
}

type noopMetrics struct{}

func (noopMetrics) NotificationPublished() {}
func (noopMetrics) NotificationDelivered() {}
func (noopMetrics) NotificationDropped()   {}

// Notifier implements store.Notifier: on every mutation it scans the
// session table under a single reader lock and writes one notification
// record to each matching subscriber's non-blocking notification sink
// (spec.md §4.C). A write that would block is dropped for that sink only;
// other subscribers are unaffected.
type Notifier struct {
	table   *session.Table
	metrics Metrics
}

// NewNotifier wires a Notifier to the session table it fans out over.
func NewNotifier(table *session.Table, metrics Metrics) *Notifier {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Notifier{table: table, metrics: metrics}
}

// Publish implements store.Notifier. value is either the new value for a
// write or wire.TombstoneValue for a delete.
func (n *Notifier) Publish(key, value string) {
	n.metrics.NotificationPublished()
	text := []byte(wire.NotificationText(key, value))

	n.table.ForEachActive(func(s *session.Session) {
		if !subscribedTo(s, key) {
			return
		}
		if s.NotifFD < 0 {
			return
		}
		if err := fifoio.WriteNonBlockingFD(s.NotifFD, text); err != nil {
			session.MarkLossy(s)
			n.metrics.NotificationDropped()
			return
		}
		n.metrics.NotificationDelivered()
	})
}

func subscribedTo(s *session.Session, key string) bool {
	for _, k := range s.SubscribedKeys {
		if k == key {
			return true
		}
	}
	return false
}
