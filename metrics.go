package authcore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricID names an engine event counted in authcore_events_total.
type MetricID string

const (
	MetricRegisterSuccess          MetricID = "register_success"
	MetricRegisterRejected         MetricID = "register_rejected"
	MetricLoginSuccess             MetricID = "login_success"
	MetricLoginFailure             MetricID = "login_failure"
	MetricLoginRateLimited         MetricID = "login_rate_limited"
	MetricMFARequired              MetricID = "mfa_required"
	MetricMFASuccess               MetricID = "mfa_success"
	MetricMFAFailure               MetricID = "mfa_failure"
	MetricRefreshSuccess           MetricID = "refresh_success"
	MetricRefreshFailure           MetricID = "refresh_failure"
	MetricPasswordChangeSuccess    MetricID = "password_change_success"
	MetricPasswordChangeFailure    MetricID = "password_change_failure"
	MetricPasswordRehash           MetricID = "password_rehash"
	MetricPasswordResetRequest     MetricID = "password_reset_request"
	MetricPasswordResetSuccess     MetricID = "password_reset_success"
	MetricPasswordResetFailure     MetricID = "password_reset_failure"
	MetricEmailVerificationRequest MetricID = "email_verification_request"
	MetricEmailVerificationSuccess MetricID = "email_verification_success"
	MetricEmailVerificationFailure MetricID = "email_verification_failure"
	MetricTOTPEnabled              MetricID = "totp_enabled"
	MetricTOTPDisabled             MetricID = "totp_disabled"
	MetricAPIKeyCreated            MetricID = "api_key_created"
	MetricAPIKeyRevoked            MetricID = "api_key_revoked"
	MetricAPIKeyResolved           MetricID = "api_key_resolved"
	MetricAPIKeyRejected           MetricID = "api_key_rejected"
	MetricFederatedLinked          MetricID = "federated_linked"
	MetricFederatedLogin           MetricID = "federated_login"
	MetricFederatedCreated         MetricID = "federated_created"
	MetricFederatedCollision       MetricID = "federated_collision"
	MetricRateLimitHit             MetricID = "rate_limit_hit"
	MetricNotificationFailure      MetricID = "notification_failure"
	MetricAccountDeleted           MetricID = "account_deleted"
)

// Metrics counts engine events on a Prometheus counter vector. A nil or
// disabled Metrics is a no-op.
type Metrics struct {
	enabled bool
	events  *prometheus.CounterVec
}

// NewMetrics builds the counter vector and registers it with reg when reg
// is non-nil.
func NewMetrics(cfg MetricsConfig, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return m, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "authcore"
	}
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Authentication engine events by type.",
	}, []string{"event"})

	if reg != nil {
		if err := reg.Register(m.events); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			m.events = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m, nil
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() {
		return
	}
	m.events.WithLabelValues(string(id)).Inc()
}

// Collector exposes the underlying vector, mainly for tests.
func (m *Metrics) Collector() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.events
}
