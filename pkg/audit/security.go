// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags a free-text answer.
	EventInjectionAttempt SecurityEventType = "injection_attempt"
	// EventTenantIsolation is logged when a data access escapes or lacks its tenant scope.
	EventTenantIsolation SecurityEventType = "tenant_isolation_violation"
	// EventCrossTenantAccess is logged whenever a consultant acts on a client tenant.
	EventCrossTenantAccess SecurityEventType = "cross_tenant_access"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    SecurityEventType `json:"event_type"`
	TenantID     uuid.UUID         `json:"tenant_id"`
	AssessmentID uuid.UUID         `json:"assessment_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	ClientIP     string            `json:"client_ip,omitempty"`
	Details      any               `json:"details"`
	Severity     string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged answer value.
type InjectionDetails struct {
	QuestionID  string `json:"question_id"`
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

type clientIPKey struct{}

// WithClientIP records the caller's address for events logged further down the stack.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}


// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a flagged answer value.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(
	ctx context.Context,
	tenantID, assessmentID uuid.UUID,
	details InjectionDetails,
) {
	details.Value = logging.SanitizeValue(details.Value)
	event := a.event(ctx, EventInjectionAttempt, tenantID, assessmentID, details, "critical")

	a.logger.Error("Injection attempt detected in answer",
		zap.String("event_json", marshal(event)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("assessment_id", assessmentID.String()),
		zap.String("question_id", details.QuestionID),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", "critical"),
	)
}

// LogTenantIsolationViolation records a fail-closed data access.
// Always ERROR with "critical" severity.
func (a *SecurityAuditor) LogTenantIsolationViolation(
	ctx context.Context,
	tenantID uuid.UUID,
	operation, reason string,
) {
	details := map[string]string{"operation": operation, "reason": reason}
	event := a.event(ctx, EventTenantIsolation, tenantID, uuid.Nil, details, "critical")

	a.logger.Error("Tenant isolation violation",
		zap.String("event_json", marshal(event)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", "critical"),
	)
}

// LogCrossTenantAccess records a consultant acting on a client tenant.
// Granted access is INFO; denied access is WARN.
func (a *SecurityAuditor) LogCrossTenantAccess(
	ctx context.Context,
	clientTenantID, homeTenantID, assessmentID uuid.UUID,
	action string,
	granted bool,
) {
	severity := "info"
	if !granted {
		severity = "warning"
	}
	details := map[string]any{
		"home_tenant_id": homeTenantID.String(),
		"action":         action,
		"granted":        granted,
	}
	event := a.event(ctx, EventCrossTenantAccess, clientTenantID, assessmentID, details, severity)

	fields := []zap.Field{
		zap.String("event_json", marshal(event)),
		zap.String("tenant_id", clientTenantID.String()),
		zap.String("home_tenant_id", homeTenantID.String()),
		zap.String("assessment_id", assessmentID.String()),
		zap.String("action", action),
		zap.String("user_id", event.UserID),
		zap.String("severity", severity),
	}
	if granted {
		a.logger.Info("Cross-tenant access", fields...)
	} else {
		a.logger.Warn("Cross-tenant access denied", fields...)
	}
}

func (a *SecurityAuditor) event(
	ctx context.Context,
	eventType SecurityEventType,
	tenantID, assessmentID uuid.UUID,
	details any,
	severity string,
) SecurityEvent {
	return SecurityEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		TenantID:     tenantID,
		AssessmentID: assessmentID,
		UserID:       auth.GetUserIDFromContext(ctx),
		ClientIP:     clientIP(ctx),
		Details:      details,
		Severity:     severity,
	}
}

// Ignoring error as marshaling known types should never fail.
func marshal(event SecurityEvent) string {
	b, _ := json.Marshal(event)
	return string(b)
}
