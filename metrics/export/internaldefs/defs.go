package internaldefs

import "github.com/portfolio/adminauth"

// BucketCount matches the engine's fixed latency buckets.
const BucketCount = 8

// Def names one engine series.
type Def struct {
	ID   adminauth.MetricID
	Name string
	Help string
}

var CounterDefs = []Def{
	{ID: adminauth.MetricLoginSuccess, Name: "adminauth_login_success_total", Help: "Logins that passed the password check."},
	{ID: adminauth.MetricLoginFailure, Name: "adminauth_login_failure_total", Help: "Logins rejected for unknown email or wrong password."},
	{ID: adminauth.MetricLoginRateLimited, Name: "adminauth_login_rate_limited_total", Help: "Logins refused by the failure rate limit."},
	{ID: adminauth.MetricMFASuccess, Name: "adminauth_mfa_success_total", Help: "Accepted second-factor codes."},
	{ID: adminauth.MetricMFAFailure, Name: "adminauth_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: adminauth.MetricSessionCreated, Name: "adminauth_session_created_total", Help: "Sessions created."},
	{ID: adminauth.MetricLogout, Name: "adminauth_logout_total", Help: "Sessions deleted by logout."},
	{ID: adminauth.MetricAuthorizeAllowed, Name: "adminauth_authorize_allowed_total", Help: "Protected requests allowed."},
	{ID: adminauth.MetricAuthorizeDenied, Name: "adminauth_authorize_denied_total", Help: "Protected requests denied."},
	{ID: adminauth.MetricStoreFailure, Name: "adminauth_store_failure_total", Help: "Session store, attempt log or user lookup failures."},
	{ID: adminauth.MetricAttemptRecordFailure, Name: "adminauth_attempt_record_failure_total", Help: "Login attempts that could not be recorded."},
	{ID: adminauth.MetricNotificationQueued, Name: "adminauth_notification_queued_total", Help: "Mail jobs accepted by the notification queue."},
	{ID: adminauth.MetricSessionsSwept, Name: "adminauth_sessions_swept_total", Help: "Expired sessions removed by the sweeper."},
}

var HistogramDefs = []Def{
	{ID: adminauth.MetricLoginLatency, Name: "adminauth_login_latency_seconds", Help: "Login latency."},
	{ID: adminauth.MetricAuthorizeLatency, Name: "adminauth_authorize_latency_seconds", Help: "Authorize latency."},
}

// NotifyDropped is published next to the engine counters.
var NotifyDropped = Def{
	Name: "adminauth_notify_dropped_total",
	Help: "Mail jobs dropped because the notification queue was full.",
}

// Bounds are the upper bucket bounds in seconds, as Prometheus le labels.
var Bounds = [BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// BoundSuffixes are Bounds made safe for instrument names.
var BoundSuffixes = [BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns the engine's per-bucket counts into running totals.
// Short or nil input is padded with zeros.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
