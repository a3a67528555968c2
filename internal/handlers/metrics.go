package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/golden-h/novelrelay/internal/web"
)

var (
	metricEnvelopes       uint64
	metricEnvelopesFailed uint64
)

func recordEnvelope(ok bool) {
	atomic.AddUint64(&metricEnvelopes, 1)
	if !ok {
		atomic.AddUint64(&metricEnvelopesFailed, 1)
	}
}

func snapshotMetrics() map[string]any {
	total := atomic.LoadUint64(&metricRequestsTotal)
	latencySum := atomic.LoadUint64(&metricRequestLatencyN)
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(latencySum) / float64(total)
	}
	return map[string]any{
		"requestsTotal":   total,
		"requestsFailed":  atomic.LoadUint64(&metricRequestsFailed),
		"avgLatencyMs":    avgMs,
		"rateLimited":     atomic.LoadUint64(&metricRateLimited),
		"envelopes":       atomic.LoadUint64(&metricEnvelopes),
		"envelopesFailed": atomic.LoadUint64(&metricEnvelopesFailed),
	}
}

func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := snapshotMetrics()
	m["subscribers"] = h.Bus.Subscribers()
	web.JSON(w, 200, map[string]any{"metrics": m})
}
