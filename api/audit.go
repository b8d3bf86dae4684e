package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginRequested    AuditEvent = "login_requested"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditSMSVerified       AuditEvent = "sms_verified"
	AuditSMSFailure        AuditEvent = "sms_failure"
	AuditVerifyLockedOut   AuditEvent = "verify_locked_out"
	AuditSessionRefreshed  AuditEvent = "session_refreshed"
	AuditSessionRejected   AuditEvent = "session_rejected"
	AuditLogout            AuditEvent = "logout"
	AuditOrderSent         AuditEvent = "order_sent"
	AuditOrderDeleted      AuditEvent = "order_deleted"
	AuditOrderModified     AuditEvent = "order_modified"
	AuditBrokerTest        AuditEvent = "broker_test"
	AuditCallerRejected    AuditEvent = "caller_rejected"
	AuditBrokerRateLimited AuditEvent = "broker_rate_limited"
)

// auditLogger wraps zerolog.Logger for structured security audit logging.
// Passwords, SMS codes and auth hashes are never passed to it.
type auditLogger struct {
	logger  zerolog.Logger
	monitor *failureMonitor
	now     func() time.Time
}

func newAuditLogger(logger zerolog.Logger, monitor *failureMonitor, now func() time.Time) *auditLogger {
	if now == nil {
		now = time.Now
	}
	return &auditLogger{
		logger:  logger.With().Str("component", "audit").Logger(),
		monitor: monitor,
		now:     now,
	}
}

// log writes a structured audit log entry. fields may add event-specific
// attributes.
func (al *auditLogger) log(event AuditEvent, r *http.Request, fields func(e *zerolog.Event)) {
	if al == nil {
		return
	}
	e := al.logger.Info().
		Str("event", string(event)).
		Str("remote_addr", r.RemoteAddr).
		Str("timestamp", al.now().UTC().Format(time.RFC3339))
	if c := callerFromContext(r.Context()); c.Method != "" {
		e = e.Str("caller_method", c.Method)
		if c.UserID != "" {
			e = e.Str("caller_user", c.UserID)
		}
	}
	if fields != nil {
		fields(e)
	}
	e.Msg("audit")
	if al.monitor != nil {
		al.monitor.record(event)
	}
}

// logFailure logs a rejected request with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string) {
	al.log(event, r, func(e *zerolog.Event) { e.Str("reason", reason) })
}
