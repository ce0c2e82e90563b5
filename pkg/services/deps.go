package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/audit"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/cache"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/metrics"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories"
)

var tracer = otel.Tracer("github.com/Shamoka80/r2ready-sub010/pkg/services")

// Deps holds everything the compliance services share. Logger, Cache and
// Auditor default when nil; Metrics may stay nil.
type Deps struct {
	Repos       repositories.Set
	Catalog     *catalog.Registry
	Cache       cache.ScoreCache
	Scoring     config.ScoringConfig
	Workflow    config.WorkflowConfig
	Remediation config.RemediationConfig
	Auditor     *audit.SecurityAuditor
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	cp := *d
	if cp.Logger == nil {
		cp.Logger = zap.NewNop()
	}
	if cp.Cache == nil {
		cp.Cache = cache.NewMemoryScoreCache()
	}
	if cp.Auditor == nil {
		cp.Auditor = audit.NewSecurityAuditor(cp.Logger)
	}
	if cp.Now == nil {
		cp.Now = func() time.Time { return time.Now().UTC() }
	}
	return &cp
}

func (d *Deps) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish closes the span and reports tenant isolation failures on the
// security channel. Every public service method funnels its error through it.
func (d *Deps) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, operation+" failed")

	var isoErr *apperrors.TenantIsolationError
	if errors.As(err, &isoErr) {
		d.Metrics.IncTenantIsolation()
		d.Auditor.LogTenantIsolationViolation(ctx, auth.GetTenantIDFromContext(ctx), isoErr.Operation, isoErr.Reason)
	}
}
