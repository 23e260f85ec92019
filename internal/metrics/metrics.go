// Package metrics declares the prometheus instruments shared by the engines.
// They are registered on the default registry and served from the admin
// listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saasforge",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saasforge",
		Subsystem: "auth",
		Name:      "token_refreshes_total",
		Help:      "Refresh-token exchanges by result.",
	}, []string{"result"})

	SecurityAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saasforge",
		Subsystem: "auth",
		Name:      "security_alerts_total",
		Help:      "Security events (token reuse, tenant mismatch, SSRF attempts).",
	}, []string{"kind"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saasforge",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "saasforge",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Wall time of outbound webhook POSTs.",
		Buckets:   prometheus.DefBuckets,
	})

	EmailSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saasforge",
		Subsystem: "mailer",
		Name:      "sends_total",
		Help:      "Email send attempts by outcome.",
	}, []string{"outcome"})
)
