// Package metrics exposes kvsd's Prometheus collectors, built with
// promauto the way the teacher's go-server-3 registry does, renamed for
// this system's own domain (sessions, subscriptions, notifications, job
// files, backups, admin resets) rather than WebSocket connections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector kvsd reports to. Its methods
// satisfy each internal package's narrow Metrics interface (session.Metrics, pubsub.Metrics, registrar.Metrics,
// jobrunner.Metrics, admin.Metrics) via structural typing.
type Registry struct {
	sessionsActive       prometheus.Gauge
	sessionsOpenedTotal  prometheus.Counter
	sessionsClosedTotal  prometheus.Counter
	sessionsRejectedCap  prometheus.Counter
	sessionsRejectedRate prometheus.Counter
	sessionsEvicted      prometheus.Counter
	registrationErrors   prometheus.Counter

	notificationsPublished prometheus.Counter
	notificationsDelivered prometheus.Counter
	notificationsDropped   prometheus.Counter

	jobFilesStarted   prometheus.Counter
	jobFilesCompleted prometheus.Counter
	jobFilesFailed    prometheus.Counter
	backupsStarted    prometheus.Counter
	backupsFailed     prometheus.Counter

	adminResetsTotal prometheus.Counter
}

// NewRegistry creates and registers every kvsd Prometheus collector.
func NewRegistry() *Registry {
	return &Registry{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_sessions_active",
			Help: "Number of currently active client sessions.",
		}),
		sessionsOpenedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_opened_total",
			Help: "Total number of sessions that entered RUNNING.",
		}),
		sessionsClosedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_closed_total",
			Help: "Total number of sessions that left RUNNING (any reason).",
		}),
		sessionsRejectedCap: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_rejected_capacity_total",
			Help: "Total number of CONNECT frames rejected due to a full session table.",
		}),
		sessionsRejectedRate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_rejected_ratelimit_total",
			Help: "Total number of CONNECT frames rejected by the registration rate limiter.",
		}),
		sessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_sessions_evicted_total",
			Help: "Total number of sessions forcibly closed by an admin reset.",
		}),
		registrationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_registration_errors_total",
			Help: "Total number of malformed or unreadable registration frames.",
		}),

		notificationsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_published_total",
			Help: "Total number of store mutations that triggered a notifier fan-out.",
		}),
		notificationsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_delivered_total",
			Help: "Total number of notification records successfully written to a subscriber.",
		}),
		notificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_dropped_total",
			Help: "Total number of notification records dropped because a subscriber's sink would have blocked.",
		}),

		jobFilesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_job_files_started_total",
			Help: "Total number of .job files picked up by a worker.",
		}),
		jobFilesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_job_files_completed_total",
			Help: "Total number of .job files that ran to EOF without a fatal I/O error.",
		}),
		jobFilesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_job_files_failed_total",
			Help: "Total number of .job files that failed to open or errored during execution.",
		}),
		backupsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_backups_started_total",
			Help: "Total number of BACKUP commands that acquired a backup slot.",
		}),
		backupsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_backups_failed_total",
			Help: "Total number of BACKUP commands that failed to write their snapshot.",
		}),

		adminResetsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_admin_resets_total",
			Help: "Total number of admin reset sweeps performed.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SessionOpened implements session.Metrics.
func (r *Registry) SessionOpened() {
	r.sessionsActive.Inc()
	r.sessionsOpenedTotal.Inc()
}

// SessionClosed implements session.Metrics.
func (r *Registry) SessionClosed() {
	r.sessionsActive.Dec()
	r.sessionsClosedTotal.Inc()
}

// NotificationPublished implements pubsub.Metrics.
func (r *Registry) NotificationPublished() { r.notificationsPublished.Inc() }

// NotificationDelivered implements pubsub.Metrics.
func (r *Registry) NotificationDelivered() { r.notificationsDelivered.Inc() }

// NotificationDropped implements pubsub.Metrics.
func (r *Registry) NotificationDropped() { r.notificationsDropped.Inc() }

// SessionRejectedCapacity implements registrar.Metrics.
func (r *Registry) SessionRejectedCapacity() { r.sessionsRejectedCap.Inc() }

// SessionRejectedRateLimit implements registrar.Metrics.
func (r *Registry) SessionRejectedRateLimit() { r.sessionsRejectedRate.Inc() }

// RegistrationError implements registrar.Metrics.
func (r *Registry) RegistrationError() { r.registrationErrors.Inc() }

// JobFileStarted implements jobrunner.Metrics.
func (r *Registry) JobFileStarted() { r.jobFilesStarted.Inc() }

// JobFileCompleted implements jobrunner.Metrics.
func (r *Registry) JobFileCompleted() { r.jobFilesCompleted.Inc() }

// JobFileFailed implements jobrunner.Metrics.
func (r *Registry) JobFileFailed() { r.jobFilesFailed.Inc() }

// BackupStarted implements jobrunner.Metrics.
func (r *Registry) BackupStarted() { r.backupsStarted.Inc() }

// BackupFailed implements jobrunner.Metrics.
func (r *Registry) BackupFailed() { r.backupsFailed.Inc() }

// AdminResetTriggered implements admin.Metrics.
func (r *Registry) AdminResetTriggered() { r.adminResetsTotal.Inc() }

// SessionEvicted implements admin.Metrics.
func (r *Registry) SessionEvicted() { r.sessionsEvicted.Inc() }
