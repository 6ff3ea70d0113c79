// Package metrics holds the Prometheus counters of the auth flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	loginAttempts   *prometheus.CounterVec
	tokenReissue    *prometheus.CounterVec
	refreshReuse    prometheus.Counter
	authnRejections *prometheus.CounterVec
}

// New registers the counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberauth_login_attempts_total",
			Help: "The total number of login attempts",
		}, []string{"status"}),
		tokenReissue: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberauth_token_reissue_total",
			Help: "The total number of token reissues",
		}, []string{"status"}),
		refreshReuse: f.NewCounter(prometheus.CounterOpts{
			Name: "memberauth_refresh_reuse_detected_total",
			Help: "Refresh tokens presented after they were already rotated",
		}),
		authnRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberauth_authn_rejections_total",
			Help: "Requests rejected by access token authentication",
		}, []string{"code"}),
	}
}

func (m *Metrics) LoginAttempt(status string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) TokenReissue(status string) {
	if m == nil {
		return
	}
	m.tokenReissue.WithLabelValues(status).Inc()
}

func (m *Metrics) RefreshReuseDetected() {
	if m == nil {
		return
	}
	m.refreshReuse.Inc()
}

func (m *Metrics) AuthnRejected(code string) {
	if m == nil {
		return
	}
	m.authnRejections.WithLabelValues(code).Inc()
}
