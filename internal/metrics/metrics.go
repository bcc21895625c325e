package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrdersCreated counts orders accepted by the create-order transaction.
var OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "orders_created_total",
	Help: "Number of orders created",
})

// OutboxDispatched counts outbox rows marked sent, per event type.
var OutboxDispatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbox_dispatched_total",
		Help: "Outbox rows successfully dispatched",
	},
	[]string{"event_type"},
)

// DispatchDuration measures one dispatcher iteration: lease, side effects,
// per-row commits. The long tail covers downstream retries.
var DispatchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "outbox_dispatch_duration_seconds",
		Help:    "Duration of one outbox dispatch iteration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
	},
	[]string{"worker"},
)

// InboxApplied counts inbox rows applied to order_status, per event type.
var InboxApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inbox_applied_total",
		Help: "Inbox rows applied to the order state machine",
	},
	[]string{"event_type"},
)

// HTTPRetries counts retried outbound HTTP attempts.
var HTTPRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "http_client_retries_total",
	Help: "Outbound HTTP attempts that were retried",
})

// OutboxPending and InboxPending are sampled by the backlog cron so a
// stalled dispatcher or applier shows up as a growing gauge.
var (
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_rows",
		Help: "Outbox rows currently pending dispatch",
	})
	InboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inbox_pending_rows",
		Help: "Inbox rows currently pending application",
	})
)
