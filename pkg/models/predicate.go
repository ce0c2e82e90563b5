package models

import "fmt"

// PredicateKind tags an applicability predicate variant. The set is closed:
// Evaluate switches over every kind and unknown kinds never match.
type PredicateKind string

const (
	PredicateAlways       PredicateKind = "always"
	PredicateAttrEquals   PredicateKind = "attr_equals"
	PredicateAttrIn       PredicateKind = "attr_in"
	PredicateAnswerEquals PredicateKind = "answer_equals"
	PredicateAnswerIn     PredicateKind = "answer_in"
	PredicateAll          PredicateKind = "all"
	PredicateAny          PredicateKind = "any"
	PredicateNot          PredicateKind = "not"
)

// Predicate decides whether a question applies to a facility. Leaf variants
// compare a facility attribute or an earlier answer; All/Any/Not compose.
type Predicate struct {
	Kind       PredicateKind `json:"kind" yaml:"kind"`
	Attribute  string        `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	QuestionID string        `json:"question_id,omitempty" yaml:"question,omitempty"`
	Value      string        `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []string      `json:"values,omitempty" yaml:"values,omitempty"`
	Children   []*Predicate  `json:"children,omitempty" yaml:"children,omitempty"`
}

// PredicateEnv supplies the facts a predicate is evaluated against.
type PredicateEnv interface {
	// Attribute returns a facility attribute (facility_type, operating_status, or a custom key).
	Attribute(name string) (string, bool)
	// AnswerValue returns the current answer value for a question, if answered.
	AnswerValue(questionID string) (string, bool)
}

// Evaluate interprets the predicate. A nil predicate always applies.
func (p *Predicate) Evaluate(env PredicateEnv) bool {
	if p == nil {
		return true
	}

	switch p.Kind {
	case PredicateAlways:
		return true
	case PredicateAttrEquals:
		v, ok := env.Attribute(p.Attribute)
		return ok && v == p.Value
	case PredicateAttrIn:
		v, ok := env.Attribute(p.Attribute)
		return ok && contains(p.Values, v)
	case PredicateAnswerEquals:
		v, ok := env.AnswerValue(p.QuestionID)
		return ok && v == p.Value
	case PredicateAnswerIn:
		v, ok := env.AnswerValue(p.QuestionID)
		return ok && contains(p.Values, v)
	case PredicateAll:
		for _, c := range p.Children {
			if !c.Evaluate(env) {
				return false
			}
		}
		return true
	case PredicateAny:
		for _, c := range p.Children {
			if c.Evaluate(env) {
				return true
			}
		}
		return false
	case PredicateNot:
		if len(p.Children) != 1 {
			return false
		}
		return !p.Children[0].Evaluate(env)
	default:
		return false
	}
}

// ReferencedQuestions returns the question IDs the predicate depends on, in
// first-seen order without duplicates.
func (p *Predicate) ReferencedQuestions() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Predicate)
	walk = func(n *Predicate) {
		if n == nil {
			return
		}
		if (n.Kind == PredicateAnswerEquals || n.Kind == PredicateAnswerIn) && !seen[n.QuestionID] {
			seen[n.QuestionID] = true
			out = append(out, n.QuestionID)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(p)
	return out
}

// Validate checks the structural shape of every node.
func (p *Predicate) Validate() error {
	if p == nil {
		return nil
	}

	switch p.Kind {
	case PredicateAlways:
	case PredicateAttrEquals:
		if p.Attribute == "" {
			return fmt.Errorf("%s requires attribute", p.Kind)
		}
	case PredicateAttrIn:
		if p.Attribute == "" || len(p.Values) == 0 {
			return fmt.Errorf("%s requires attribute and values", p.Kind)
		}
	case PredicateAnswerEquals:
		if p.QuestionID == "" {
			return fmt.Errorf("%s requires question", p.Kind)
		}
	case PredicateAnswerIn:
		if p.QuestionID == "" || len(p.Values) == 0 {
			return fmt.Errorf("%s requires question and values", p.Kind)
		}
	case PredicateAll, PredicateAny:
		if len(p.Children) == 0 {
			return fmt.Errorf("%s requires at least one child", p.Kind)
		}
	case PredicateNot:
		if len(p.Children) != 1 {
			return fmt.Errorf("not requires exactly one child")
		}
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}

	for _, c := range p.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
