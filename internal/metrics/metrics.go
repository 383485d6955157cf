package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dmsync"

// Sync holds the collectors updated by a chat session.
type Sync struct {
	PollTicks        *prometheus.CounterVec
	PollFailures     *prometheus.CounterVec
	MessagesAdmitted prometheus.Counter
	UnreadRaised     prometheus.Counter
	SendFailures     prometheus.Counter
}

// NewSync builds the session collectors and registers them on reg when it is non-nil.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Completed poll cycles by poller.",
		}, []string{"poller"}),
		PollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Poll cycles skipped because the fetch failed.",
		}, []string{"poller"}),
		MessagesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_admitted_total",
			Help:      "Server messages newly admitted into the local store.",
		}),
		UnreadRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unread_raised_total",
			Help:      "Times the global unread flag went from false to true.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Optimistic sends whose request failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PollTicks, m.PollFailures, m.MessagesAdmitted, m.UnreadRaised, m.SendFailures)
	}
	return m
}

// HTTP counts requests served by the conversation API.
type HTTP struct {
	requests *prometheus.CounterVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code.",
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests)
	}
	return m
}

// Middleware records one sample per request once the handler returns.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
