package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLogin           = "login"
	EventRefresh         = "token_refresh"
	EventRefreshReuse    = "refresh_token_reuse"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventSessionsRevoked = "sessions_revoked"
	EventResetRequested  = "password_reset_requested"
	EventPasswordReset   = "password_reset"
	EventAccessDenied    = "access_denied"
	EventAccountCreated  = "account_created"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	AccountID     string
	ActorID       string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events to a dedicated slog stream
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// Log records an audit event. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLogin records a login attempt
func (al *AuditLogger) LogLogin(ctx context.Context, accountID, ipAddress, userAgent string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventLogin,
		AccountID:     accountID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       success,
		FailureReason: reason,
	})
}

// LogRefreshReuse records presentation of an already-rotated refresh token
func (al *AuditLogger) LogRefreshReuse(ctx context.Context, accountID, familyID string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventRefreshReuse,
		AccountID:     accountID,
		Success:       false,
		FailureReason: "revoked token presented",
		Metadata:      map[string]string{"family_id": familyID},
	})
}

// LogAccountAction records a successful account-level action
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, accountID, actorID string, metadata map[string]string) {
	al.Log(ctx, AuditEvent{
		EventType: eventType,
		AccountID: accountID,
		ActorID:   actorID,
		Success:   true,
		Metadata:  metadata,
	})
}
