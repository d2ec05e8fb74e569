package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lammac/service")

var registrations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lammac_registrations_total",
	Help: "Registration attempts, by result",
}, []string{"result"})

var logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lammac_logins_total",
	Help: "Login attempts, by result",
}, []string{"result"})

var actionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lammac_actions_total",
	Help: "Agent actions accepted, by action type",
}, []string{"action"})

var actionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lammac_actions_denied_total",
	Help: "Agent actions denied by rate limit or spam detection",
}, []string{"action", "check"})

var keyHashDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "lammac_key_hash_duration_seconds",
	Help:    "Time spent hashing or verifying API keys",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
}, []string{"op"})

var keyCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lammac_key_cache_hits_total",
	Help: "Logins resolved through the API key cache",
})

var keyCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lammac_key_cache_misses_total",
	Help: "Logins that fell back to scanning stored key hashes",
})
