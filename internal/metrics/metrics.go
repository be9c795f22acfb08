// Package metrics defines the Prometheus collectors exported by chatsync.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can run without metrics wired.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Metrics holds the collectors for one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	messagesSent      *prometheus.CounterVec
	messagesRead      prometheus.Counter
	permissionDenials *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	alertsSuppressed  *prometheus.CounterVec
	assistantReplies  *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	listenerEntries   *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages appended, by content kind.",
		}, []string{"kind"}),
		messagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_marked_read_total",
			Help:      "Messages flipped from unread to read.",
		}),
		permissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denials_total",
			Help:      "Operations rejected by the permission model, by operation.",
		}, []string{"op"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts delivered, by channel.",
		}, []string{"channel"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Conversation updates that produced no alert, by reason.",
		}, []string{"reason"}),
		assistantReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_replies_total",
			Help:      "Assistant reply attempts, by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Media uploads, by outcome.",
		}, []string{"outcome"}),
		listenerEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_list_entries",
			Help:      "Entries in the most recently published chat list, by user.",
		}, []string{"user"}),
	}
	reg.MustRegister(
		m.messagesSent,
		m.messagesRead,
		m.permissionDenials,
		m.alerts,
		m.alertsSuppressed,
		m.assistantReplies,
		m.uploads,
		m.listenerEntries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// MessageSent counts an appended message.
func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
}

// MarkedRead counts messages flipped to read.
func (m *Metrics) MarkedRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesRead.Add(float64(n))
}

// PermissionDenied counts a rejected operation.
func (m *Metrics) PermissionDenied(op string) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(op).Inc()
}

// Alert counts a delivered toast or push.
func (m *Metrics) Alert(channel string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(channel).Inc()
}

// AlertSuppressed counts an update that did not alert.
func (m *Metrics) AlertSuppressed(reason string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(reason).Inc()
}

// AssistantReply counts an assistant reply attempt.
func (m *Metrics) AssistantReply(outcome string) {
	if m == nil {
		return
	}
	m.assistantReplies.WithLabelValues(outcome).Inc()
}

// Upload counts a media upload.
func (m *Metrics) Upload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// ChatListSize records the size of user's latest chat list projection.
func (m *Metrics) ChatListSize(user string, n int) {
	if m == nil {
		return
	}
	m.listenerEntries.WithLabelValues(user).Set(float64(n))
}
