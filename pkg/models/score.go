package models

import (
	"sort"

	"github.com/google/uuid"
)

// ClauseScore is one entry of ScoreSummary.ByClause.
type ClauseScore struct {
	ClauseID   string  `json:"clause_id"`
	Score      float64 `json:"score"`
	Earned     float64 `json:"earned"`
	Possible   float64 `json:"possible"`
	Compliant  int     `json:"compliant"`
	Deficient  int     `json:"non_compliant"`
	Excluded   int     `json:"not_applicable"`
	Unanswered int     `json:"unanswered"`
}

// ScoreSummary is the result of scoring an assessment. Overall is a
// percentage in [0, 100].
type ScoreSummary struct {
	AssessmentID   uuid.UUID               `json:"assessment_id"`
	CatalogVersion string                  `json:"catalog_version"`
	Overall        float64                 `json:"overall"`
	ByClause       map[string]*ClauseScore `json:"by_clause"`
	Applicable     int                     `json:"applicable"`
	Answered       int                     `json:"answered"`
	Unanswered     []string                `json:"unanswered"`
	Complete       bool                    `json:"complete"`
}

// ClauseTally holds the running subtotals for one clause.
type ClauseTally struct {
	Earned     float64 `json:"earned"`
	Possible   float64 `json:"possible"`
	Compliant  int     `json:"compliant"`
	Deficient  int     `json:"deficient"`
	Excluded   int     `json:"excluded"`
	Unanswered int     `json:"unanswered"`
}

// QuestionContribution is what one applicable question adds to its clause.
type QuestionContribution struct {
	ClauseID string         `json:"clause_id"`
	Weight   float64        `json:"weight"`
	Flag     ComplianceFlag `json:"flag,omitempty"`
}

// ScoreTally is the cached, incrementally maintained form of a score. It is
// valid only for the AnswerRevision and CatalogVersion it was built at.
type ScoreTally struct {
	AssessmentID   uuid.UUID                        `json:"assessment_id"`
	CatalogVersion string                           `json:"catalog_version"`
	AnswerRevision int64                            `json:"answer_revision"`
	Clauses        map[string]*ClauseTally          `json:"clauses"`
	Questions      map[string]*QuestionContribution `json:"questions"`
}

// NewScoreTally returns an empty tally.
func NewScoreTally(assessmentID uuid.UUID, catalogVersion string, revision int64) *ScoreTally {
	return &ScoreTally{
		AssessmentID:   assessmentID,
		CatalogVersion: catalogVersion,
		AnswerRevision: revision,
		Clauses:        make(map[string]*ClauseTally),
		Questions:      make(map[string]*QuestionContribution),
	}
}

// Add records a question's contribution. An empty flag means unanswered.
func (t *ScoreTally) Add(questionID string, c QuestionContribution) {
	ct, ok := t.Clauses[c.ClauseID]
	if !ok {
		ct = &ClauseTally{}
		t.Clauses[c.ClauseID] = ct
	}
	switch c.Flag {
	case FlagCompliant:
		ct.Earned += c.Weight
		ct.Possible += c.Weight
		ct.Compliant++
	case FlagNonCompliant:
		ct.Possible += c.Weight
		ct.Deficient++
	case FlagNotApplicable:
		ct.Excluded++
	default:
		ct.Unanswered++
	}
	cc := c
	t.Questions[questionID] = &cc
}

// Remove reverses a prior Add for the question, if any.
func (t *ScoreTally) Remove(questionID string) {
	c, ok := t.Questions[questionID]
	if !ok {
		return
	}
	ct := t.Clauses[c.ClauseID]
	switch c.Flag {
	case FlagCompliant:
		ct.Earned -= c.Weight
		ct.Possible -= c.Weight
		ct.Compliant--
	case FlagNonCompliant:
		ct.Possible -= c.Weight
		ct.Deficient--
	case FlagNotApplicable:
		ct.Excluded--
	default:
		ct.Unanswered--
	}
	delete(t.Questions, questionID)
}

// Summary converts the tally into a ScoreSummary.
func (t *ScoreTally) Summary() *ScoreSummary {
	s := &ScoreSummary{
		AssessmentID:   t.AssessmentID,
		CatalogVersion: t.CatalogVersion,
		ByClause:       make(map[string]*ClauseScore),
		Unanswered:     []string{},
	}

	var earned, possible float64
	for id, ct := range t.Clauses {
		earned += ct.Earned
		possible += ct.Possible
		if ct.Possible <= 0 {
			continue
		}
		s.ByClause[id] = &ClauseScore{
			ClauseID:   id,
			Score:      percent(ct.Earned, ct.Possible),
			Earned:     ct.Earned,
			Possible:   ct.Possible,
			Compliant:  ct.Compliant,
			Deficient:  ct.Deficient,
			Excluded:   ct.Excluded,
			Unanswered: ct.Unanswered,
		}
	}
	for qid, c := range t.Questions {
		s.Applicable++
		if c.Flag == "" {
			s.Unanswered = append(s.Unanswered, qid)
		} else {
			s.Answered++
		}
	}
	sort.Strings(s.Unanswered)

	s.Overall = percent(earned, possible)
	s.Complete = len(s.Unanswered) == 0
	return s
}

func percent(earned, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	p := 100 * earned / possible
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clone returns a deep copy so cached tallies can be adjusted without
// aliasing the cached value.
func (t *ScoreTally) Clone() *ScoreTally {
	if t == nil {
		return nil
	}
	cp := NewScoreTally(t.AssessmentID, t.CatalogVersion, t.AnswerRevision)
	for id, ct := range t.Clauses {
		c := *ct
		cp.Clauses[id] = &c
	}
	for qid, qc := range t.Questions {
		c := *qc
		cp.Questions[qid] = &c
	}
	return cp
}
