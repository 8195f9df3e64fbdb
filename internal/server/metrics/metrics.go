// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncConnections counts accepted WebSocket sessions by channel tag.
	SyncConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalsync",
		Name:      "ws_connections_total",
		Help:      "Accepted WebSocket sessions.",
	}, []string{"channel"})

	// EntriesWritten counts entries committed to server journals.
	EntriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journalsync",
		Name:      "entries_written_total",
		Help:      "Entries committed to server journals.",
	})

	// QuotaRejections counts typed quota rejections by reason.
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalsync",
		Name:      "quota_rejections_total",
		Help:      "Requests rejected by rate or storage quota.",
	}, []string{"reason"})

	// FanOutMessages counts change batches forwarded to peer replicas.
	FanOutMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journalsync",
		Name:      "fanout_messages_total",
		Help:      "Change batches forwarded to peer replicas.",
	})
)
