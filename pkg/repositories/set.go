package repositories

// Set bundles the repositories the compliance services depend on together
// with the unit-of-work runner that makes their writes atomic.
type Set struct {
	Tx          TxRunner
	Facilities  FacilityRepository
	Assessments AssessmentRepository
	Answers     AnswerRepository
	Workflows   WorkflowRepository
	Actions     CorrectiveActionRepository
	Outbox      OutboxRepository
}

// NewPostgresSet returns the pgx-backed repositories. Each call reads its
// connection from the tenant scope in the request context.
func NewPostgresSet() Set {
	return Set{
		Tx:          NewTxRunner(),
		Facilities:  NewFacilityRepository(),
		Assessments: NewAssessmentRepository(),
		Answers:     NewAnswerRepository(),
		Workflows:   NewWorkflowRepository(),
		Actions:     NewCorrectiveActionRepository(),
		Outbox:      NewOutboxRepository(),
	}
}
