// Package memory is an in-process implementation of the repository
// interfaces. Writes are applied to a private copy of the state and published
// on commit, so readers always see a committed snapshot.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories"
)

type answerKey struct {
	assessment uuid.UUID
	question   string
}

// state is immutable once committed. Stored structs are never modified in
// place; writers replace them with fresh copies.
type state struct {
	facilities  map[uuid.UUID]*models.FacilityProfile
	assessments map[uuid.UUID]*models.Assessment
	answers     map[answerKey]*models.Answer
	audit       map[answerKey][]*models.AnswerAuditEntry
	workflows   map[uuid.UUID]*models.ReviewWorkflow // keyed by assessment
	stages      map[uuid.UUID][]*models.StageRecord  // keyed by workflow
	actions     map[uuid.UUID]*models.CorrectiveAction
	events      []*models.WorkflowEvent
}

func newState() *state {
	return &state{
		facilities:  map[uuid.UUID]*models.FacilityProfile{},
		assessments: map[uuid.UUID]*models.Assessment{},
		answers:     map[answerKey]*models.Answer{},
		audit:       map[answerKey][]*models.AnswerAuditEntry{},
		workflows:   map[uuid.UUID]*models.ReviewWorkflow{},
		stages:      map[uuid.UUID][]*models.StageRecord{},
		actions:     map[uuid.UUID]*models.CorrectiveAction{},
	}
}

func (s *state) clone() *state {
	return &state{
		facilities:  maps.Clone(s.facilities),
		assessments: maps.Clone(s.assessments),
		answers:     maps.Clone(s.answers),
		audit:       maps.Clone(s.audit),
		workflows:   maps.Clone(s.workflows),
		stages:      maps.Clone(s.stages),
		actions:     maps.Clone(s.actions),
		events:      slices.Clone(s.events),
	}
}

type txKey struct{}

// Store holds all tenants' data in memory.
type Store struct {
	writeMu   sync.Mutex // serializes writers
	mu        sync.RWMutex
	committed *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{committed: newState()}
}

var _ repositories.TxRunner = (*Store)(nil)

// WithinTx runs fn against a private copy of the state and publishes it if fn
// succeeds. Nested calls join the outer unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}
	if _, err := database.RequireAnyScope(ctx, "begin transaction"); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	work := s.snapshot().clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

func (s *Store) read(ctx context.Context) *state {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return st
	}
	return s.snapshot()
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

// Facilities returns the facility repository view of the store.
func (s *Store) Facilities() repositories.FacilityRepository { return &facilityRepo{s} }

// Assessments returns the assessment repository view of the store.
func (s *Store) Assessments() repositories.AssessmentRepository { return &assessmentRepo{s} }

// Answers returns the answer repository view of the store.
func (s *Store) Answers() repositories.AnswerRepository { return &answerRepo{s} }

// Workflows returns the workflow repository view of the store.
func (s *Store) Workflows() repositories.WorkflowRepository { return &workflowRepo{s} }

// Actions returns the corrective action repository view of the store.
func (s *Store) Actions() repositories.CorrectiveActionRepository { return &actionRepo{s} }

// Outbox returns the outbox repository view of the store.
func (s *Store) Outbox() repositories.OutboxRepository { return &outboxRepo{s} }

func claim(scope *database.TenantScope, tenantID *uuid.UUID, op string) error {
	if *tenantID == uuid.Nil {
		*tenantID = scope.TenantID
		return nil
	}
	return owned(scope, *tenantID, op)
}

func owned(scope *database.TenantScope, rowTenant uuid.UUID, op string) error {
	if rowTenant != scope.TenantID {
		return &apperrors.TenantIsolationError{Operation: op, Reason: "row belongs to another tenant"}
	}
	return nil
}

// Set returns every repository view of the store with the store itself as
// the transaction runner.
func (s *Store) Set() repositories.Set {
	return repositories.Set{
		Tx:          s,
		Facilities:  s.Facilities(),
		Assessments: s.Assessments(),
		Answers:     s.Answers(),
		Workflows:   s.Workflows(),
		Actions:     s.Actions(),
		Outbox:      s.Outbox(),
	}
}
