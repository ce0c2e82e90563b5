package models

// AnswerType describes the shape of the value a question accepts.
type AnswerType string

const (
	AnswerTypeYesNo  AnswerType = "yes_no"
	AnswerTypeChoice AnswerType = "choice"
	AnswerTypeText   AnswerType = "text"
	AnswerTypeNumber AnswerType = "number"
)

// ValidAnswerTypes contains all valid answer type values.
var ValidAnswerTypes = []AnswerType{
	AnswerTypeYesNo,
	AnswerTypeChoice,
	AnswerTypeText,
	AnswerTypeNumber,
}

// IsValidAnswerType checks if the given answer type is valid.
func IsValidAnswerType(t AnswerType) bool {
	for _, v := range ValidAnswerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Question is a published catalog entry. Questions are immutable once a
// catalog snapshot is built; a catalog update produces a new snapshot.
type Question struct {
	ID               string     `json:"id"`
	Text             string     `json:"text"`
	Category         string     `json:"category"`
	ClauseID         string     `json:"clause_id"`
	RecCodes         []string   `json:"rec_codes"`
	Weight           float64    `json:"weight"`
	AnswerType       AnswerType `json:"answer_type"`
	Choices          []string   `json:"choices,omitempty"`
	EvidenceRequired bool       `json:"evidence_required"`
	Critical         bool       `json:"critical"`
	Applicability    *Predicate `json:"applicability,omitempty"`
}

// HasRecCode reports whether the question is mapped to the given REC code.
func (q *Question) HasRecCode(code string) bool {
	for _, c := range q.RecCodes {
		if c == code {
			return true
		}
	}
	return false
}

// AcceptsChoice reports whether value is one of the question's choices.
func (q *Question) AcceptsChoice(value string) bool {
	for _, c := range q.Choices {
		if c == value {
			return true
		}
	}
	return false
}

// RecCode is an entry of the REC (Regulatory Evaluation Criterion) catalog.
type RecCode struct {
	Code       string `json:"code" yaml:"code"`
	Title      string `json:"title" yaml:"title"`
	ParentCode string `json:"parent_code,omitempty" yaml:"parent"`
}

// RecMapping links a question to a REC code. ParentRecCode supports
// hierarchical rollup (e.g. an appendix requirement rolling up to a core one).
type RecMapping struct {
	QuestionID    string `json:"question_id"`
	RecCode       string `json:"rec_code"`
	ParentRecCode string `json:"parent_rec_code,omitempty"`
}
