package catalog

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

type catalogFile struct {
	Version   string           `yaml:"version"`
	RecCodes  []models.RecCode `yaml:"rec_codes"`
	Questions []fileQuestion   `yaml:"questions"`
}

type fileQuestion struct {
	ID               string            `yaml:"id"`
	Text             string            `yaml:"text"`
	Category         string            `yaml:"category"`
	Clause           string            `yaml:"clause"`
	Weight           *float64          `yaml:"weight"`
	AnswerType       models.AnswerType `yaml:"answer_type"`
	Choices          []string          `yaml:"choices"`
	EvidenceRequired bool              `yaml:"evidence_required"`
	Critical         bool              `yaml:"critical"`
	RecCodes         []string          `yaml:"rec_codes"`
	Mappings         []fileMapping     `yaml:"mappings"`
	AppliesWhen      *models.Predicate `yaml:"applies_when"`
}

type fileMapping struct {
	Code   string `yaml:"code"`
	Parent string `yaml:"parent"`
}

// LoadYAML parses a catalog document and builds a snapshot from it.
//
//	version: "2025.1"
//	rec_codes: [{code: CR1, title: Scope}, ...]   # optional, defaults to R2v3
//	questions:
//	  - id: Q-CR7-001
//	    clause: CR7
//	    rec_codes: [CR7]
//	    mappings: [{code: B, parent: CR7}]
//	    applies_when: {kind: answer_equals, question: Q-CR7-000, value: "yes"}
func LoadYAML(r io.Reader) (*Snapshot, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog yaml: %w", err)
	}

	questions := make([]*models.Question, 0, len(doc.Questions))
	var mappings []models.RecMapping
	for _, fq := range doc.Questions {
		q := &models.Question{
			ID:               fq.ID,
			Text:             fq.Text,
			Category:         fq.Category,
			ClauseID:         fq.Clause,
			Weight:           1,
			AnswerType:       fq.AnswerType,
			Choices:          fq.Choices,
			EvidenceRequired: fq.EvidenceRequired,
			Critical:         fq.Critical,
			Applicability:    fq.AppliesWhen,
		}
		if fq.Weight != nil {
			q.Weight = *fq.Weight
		}
		if q.AnswerType == "" {
			q.AnswerType = models.AnswerTypeYesNo
		}
		for _, code := range fq.RecCodes {
			for _, c := range NormalizeTags(code) {
				mappings = append(mappings, models.RecMapping{QuestionID: fq.ID, RecCode: c})
			}
		}
		for _, m := range fq.Mappings {
			mappings = append(mappings, models.RecMapping{
				QuestionID:    fq.ID,
				RecCode:       normalizeToken(m.Code),
				ParentRecCode: normalizeToken(m.Parent),
			})
		}
		questions = append(questions, q)
	}

	if mappings == nil {
		mappings = []models.RecMapping{}
	}
	return NewSnapshot(doc.Version, doc.RecCodes, questions, mappings)
}
