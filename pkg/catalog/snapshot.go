// Package catalog holds the published question catalog: an immutable,
// versioned snapshot shared read-only by every tenant.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// DefaultRecCodes is the R2v3 REC catalog: core requirements CR1..CR10 and
// appendices A..G.
var DefaultRecCodes = []models.RecCode{
	{Code: "CR1", Title: "Scope"},
	{Code: "CR2", Title: "Hierarchy of Responsible Management Strategies"},
	{Code: "CR3", Title: "EH&S Management System"},
	{Code: "CR4", Title: "Legal and Other Requirements"},
	{Code: "CR5", Title: "Tracking Throughput"},
	{Code: "CR6", Title: "Sorting, Categorization and Processing"},
	{Code: "CR7", Title: "Data Security"},
	{Code: "CR8", Title: "Focus Materials"},
	{Code: "CR9", Title: "Facility Requirements"},
	{Code: "CR10", Title: "Transport"},
	{Code: "A", Title: "Downstream Recycling Chain", ParentCode: "CR8"},
	{Code: "B", Title: "Data Sanitization", ParentCode: "CR7"},
	{Code: "C", Title: "Test and Repair"},
	{Code: "D", Title: "Specialty Electronics Reuse"},
	{Code: "E", Title: "Materials Recovery"},
	{Code: "F", Title: "Brokering"},
	{Code: "G", Title: "Photovoltaic Modules"},
}

// Snapshot is one published catalog version. It is never mutated after
// NewSnapshot returns; a reload builds a new Snapshot.
type Snapshot struct {
	version    string
	loadedAt   time.Time
	questions  []*models.Question
	index      map[string]int
	recCodes   []models.RecCode
	recByCode  map[string]models.RecCode
	mappings   map[string][]models.RecMapping
	dependents map[string][]string
}

// NewSnapshot validates and indexes a catalog. Mappings may be nil, in which
// case each question's RecCodes are used as-is.
func NewSnapshot(version string, recCodes []models.RecCode, questions []*models.Question, mappings []models.RecMapping) (*Snapshot, error) {
	if version == "" {
		return nil, fmt.Errorf("catalog version is required")
	}
	if len(recCodes) == 0 {
		recCodes = DefaultRecCodes
	}

	s := &Snapshot{
		version:    version,
		loadedAt:   time.Now().UTC(),
		index:      make(map[string]int, len(questions)),
		recByCode:  make(map[string]models.RecCode, len(recCodes)),
		mappings:   make(map[string][]models.RecMapping),
		dependents: make(map[string][]string),
	}

	for _, rc := range recCodes {
		code := strings.ToUpper(strings.TrimSpace(rc.Code))
		if code == "" {
			return nil, fmt.Errorf("REC code with empty code")
		}
		if _, dup := s.recByCode[code]; dup {
			return nil, fmt.Errorf("duplicate REC code %s", code)
		}
		rc.Code = code
		rc.ParentCode = strings.ToUpper(strings.TrimSpace(rc.ParentCode))
		s.recByCode[code] = rc
		s.recCodes = append(s.recCodes, rc)
	}
	for _, rc := range s.recCodes {
		if rc.ParentCode != "" {
			if _, ok := s.recByCode[rc.ParentCode]; !ok {
				return nil, fmt.Errorf("REC code %s has unknown parent %s", rc.Code, rc.ParentCode)
			}
		}
		depth := 0
		for p := rc.ParentCode; p != ""; p = s.recByCode[p].ParentCode {
			if depth++; depth > len(s.recCodes) {
				return nil, fmt.Errorf("REC code %s has a cyclic parent chain", rc.Code)
			}
		}
	}

	if mappings == nil {
		for _, q := range questions {
			for _, code := range q.RecCodes {
				mappings = append(mappings, models.RecMapping{QuestionID: q.ID, RecCode: code})
			}
		}
	}

	for i, q := range questions {
		if err := validateQuestion(q); err != nil {
			return nil, err
		}
		if _, dup := s.index[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %s", q.ID)
		}
		for _, ref := range q.Applicability.ReferencedQuestions() {
			if _, earlier := s.index[ref]; !earlier {
				return nil, fmt.Errorf("question %s: applicability references %s which is not an earlier question", q.ID, ref)
			}
			s.dependents[ref] = append(s.dependents[ref], q.ID)
		}
		s.index[q.ID] = i
	}

	for _, m := range mappings {
		m.RecCode = strings.ToUpper(m.RecCode)
		m.ParentRecCode = strings.ToUpper(m.ParentRecCode)
		if _, ok := s.index[m.QuestionID]; !ok {
			return nil, fmt.Errorf("mapping references unknown question %s", m.QuestionID)
		}
		if _, ok := s.recByCode[m.RecCode]; !ok {
			return nil, fmt.Errorf("question %s maps to unknown REC code %s", m.QuestionID, m.RecCode)
		}
		if m.ParentRecCode != "" {
			if _, ok := s.recByCode[m.ParentRecCode]; !ok {
				return nil, fmt.Errorf("question %s maps to unknown parent REC code %s", m.QuestionID, m.ParentRecCode)
			}
		}
		s.mappings[m.QuestionID] = append(s.mappings[m.QuestionID], m)
	}

	// Questions are copied so callers cannot mutate published entries.
	s.questions = make([]*models.Question, len(questions))
	for i, q := range questions {
		cp := *q
		cp.RecCodes = nil
		seen := make(map[string]bool)
		for _, m := range s.mappings[q.ID] {
			if !seen[m.RecCode] {
				seen[m.RecCode] = true
				cp.RecCodes = append(cp.RecCodes, m.RecCode)
			}
		}
		cp.Choices = append([]string(nil), q.Choices...)
		if cp.ClauseID == "" && len(cp.RecCodes) > 0 {
			cp.ClauseID = cp.RecCodes[0]
		}
		s.questions[i] = &cp
	}

	return s, nil
}

func validateQuestion(q *models.Question) error {
	if q == nil || strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("question with empty id")
	}
	if q.Weight < 0 {
		return fmt.Errorf("question %s: negative weight", q.ID)
	}
	if !models.IsValidAnswerType(q.AnswerType) {
		return fmt.Errorf("question %s: invalid answer type %q", q.ID, q.AnswerType)
	}
	if q.AnswerType == models.AnswerTypeChoice && len(q.Choices) == 0 {
		return fmt.Errorf("question %s: choice question without choices", q.ID)
	}
	if err := q.Applicability.Validate(); err != nil {
		return fmt.Errorf("question %s: %w", q.ID, err)
	}
	return nil
}

// Version returns the catalog version string.
func (s *Snapshot) Version() string { return s.version }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Questions returns the questions in catalog order. The slice must not be modified.
func (s *Snapshot) Questions() []*models.Question { return s.questions }

// Len returns the number of questions.
func (s *Snapshot) Len() int { return len(s.questions) }

// Question looks up a question by id.
func (s *Snapshot) Question(id string) (*models.Question, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.questions[i], true
}

// Position returns the catalog order index of a question, or -1.
func (s *Snapshot) Position(id string) int {
	i, ok := s.index[id]
	if !ok {
		return -1
	}
	return i
}

// RecCodes returns the REC catalog in declaration order.
func (s *Snapshot) RecCodes() []models.RecCode { return s.recCodes }

// RecCode looks up a REC code.
func (s *Snapshot) RecCode(code string) (models.RecCode, bool) {
	rc, ok := s.recByCode[strings.ToUpper(code)]
	return rc, ok
}

// Mappings returns the REC mappings of a question.
func (s *Snapshot) Mappings(questionID string) []models.RecMapping {
	return s.mappings[questionID]
}

// MappingCount returns the total number of question to REC mappings.
func (s *Snapshot) MappingCount() int {
	n := 0
	for _, m := range s.mappings {
		n += len(m)
	}
	return n
}

// Dependents returns the questions whose applicability reads the given question's answer.
func (s *Snapshot) Dependents(questionID string) []string {
	return s.dependents[questionID]
}

// HasDependents reports whether any predicate references the question.
func (s *Snapshot) HasDependents(questionID string) bool {
	return len(s.dependents[questionID]) > 0
}

// Scope is an expanded set of REC codes.
type Scope map[string]bool

// ExpandScope normalizes codes and adds every descendant code whose parent
// chain reaches a code in scope. Unknown codes are kept so callers can
// report them.
func (s *Snapshot) ExpandScope(codes []string) Scope {
	scope := make(Scope, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			scope[c] = true
		}
	}
	for _, rc := range s.recCodes {
		for p := rc.ParentCode; p != ""; p = s.recByCode[p].ParentCode {
			if scope[p] {
				scope[rc.Code] = true
				break
			}
		}
	}
	return scope
}

// InScope reports whether any of the question's mappings fall inside scope,
// either directly or through the mapping's parent rollup code.
func (s *Snapshot) InScope(questionID string, scope Scope) bool {
	for _, m := range s.mappings[questionID] {
		if scope[m.RecCode] || (m.ParentRecCode != "" && scope[m.ParentRecCode]) {
			return true
		}
	}
	return false
}

// Stats summarizes the catalog for the catalog endpoint.
type Stats struct {
	Version      string         `json:"version"`
	LoadedAt     time.Time      `json:"loaded_at"`
	Questions    int            `json:"questions"`
	Mappings     int            `json:"mappings"`
	RecCodes     int            `json:"rec_codes"`
	ByCategory   map[string]int `json:"by_category"`
	EvidenceReqd int            `json:"evidence_required"`
}

// Stats computes catalog counts.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Version:    s.version,
		LoadedAt:   s.loadedAt,
		Questions:  len(s.questions),
		Mappings:   s.MappingCount(),
		RecCodes:   len(s.recCodes),
		ByCategory: make(map[string]int),
	}
	for _, q := range s.questions {
		if q.Category != "" {
			st.ByCategory[q.Category]++
		}
		if q.EvidenceRequired {
			st.EvidenceReqd++
		}
	}
	return st
}

// SortedCodes returns the codes of a scope in a stable order.
func (sc Scope) SortedCodes() []string {
	out := make([]string, 0, len(sc))
	for c := range sc {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
