package catalog

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// CoverageRow reports how many questions cover one REC code.
type CoverageRow struct {
	Requirement      string   `json:"requirement"`
	Title            string   `json:"title"`
	Covered          bool     `json:"covered"`
	Count            int      `json:"count"`
	QuestionIDs      []string `json:"question_ids"`
	ProposedAddIfGap string   `json:"proposed_add_if_gap,omitempty"`
}

// CoverageReport is the REC coverage of a catalog.
type CoverageReport struct {
	CatalogVersion string        `json:"catalog_version"`
	TotalQuestions int           `json:"total_questions"`
	Rows           []CoverageRow `json:"rows"`
	Gaps           []string      `json:"gaps"`
	Unmapped       []string      `json:"unmapped"`
	Summary        string        `json:"summary"`
}

// Coverage builds the coverage report for a snapshot.
func Coverage(s *Snapshot) *CoverageReport {
	ids := make(map[string][]string)
	var unmapped []string
	for _, q := range s.Questions() {
		if len(q.RecCodes) == 0 {
			unmapped = append(unmapped, q.ID)
		}
		for _, c := range q.RecCodes {
			ids[c] = append(ids[c], q.ID)
		}
	}
	return buildCoverage(s.Version(), s.Len(), s.RecCodes(), ids, unmapped)
}

// CoverageFromCSV builds the coverage report directly from parsed CSV rows.
func CoverageFromCSV(rows []CSVQuestion, recCodes []models.RecCode) *CoverageReport {
	ids := make(map[string][]string)
	var unmapped []string
	for _, row := range rows {
		codes := row.RecCodes(recCodes)
		if len(codes) == 0 {
			unmapped = append(unmapped, row.ID)
		}
		for _, c := range codes {
			ids[c] = append(ids[c], row.ID)
		}
	}
	return buildCoverage("csv", len(rows), recCodes, ids, unmapped)
}

func buildCoverage(version string, total int, recCodes []models.RecCode, ids map[string][]string, unmapped []string) *CoverageReport {
	r := &CoverageReport{
		CatalogVersion: version,
		TotalQuestions: total,
		Gaps:           []string{},
		Unmapped:       unmapped,
	}
	for _, rc := range recCodes {
		qids := ids[rc.Code]
		row := CoverageRow{
			Requirement: rc.Code,
			Title:       rc.Title,
			Covered:     len(qids) > 0,
			Count:       len(qids),
			QuestionIDs: append([]string{}, qids...),
		}
		if !row.Covered {
			row.ProposedAddIfGap = fmt.Sprintf("ADD_%s_QUESTION", rc.Code)
			r.Gaps = append(r.Gaps, rc.Code)
		}
		r.Rows = append(r.Rows, row)
	}

	covered := len(recCodes) - len(r.Gaps)
	r.Summary = fmt.Sprintf("%d of %d %s covered by %d %s",
		covered, len(recCodes), pluralize("requirement", len(recCodes)),
		total, pluralize("question", total))
	if len(r.Gaps) > 0 {
		r.Summary += fmt.Sprintf("; %s without questions: %s",
			pluralize("gap", len(r.Gaps)), strings.Join(r.Gaps, ", "))
	}
	return r
}

// EvidenceGap is one entry of a missing-evidence report.
type EvidenceGap struct {
	QuestionID string `json:"question_id"`
	ClauseID   string `json:"clause_id,omitempty"`
	Tags       string `json:"tags,omitempty"`
	Reason     string `json:"reason"`
}

// Evidence gap reasons.
const (
	EvidenceGapUnanswered = "unanswered"
	EvidenceGapMissing    = "no_evidence"
)

// MissingEvidence lists evidence-required questions whose answer carries no
// evidence reference. Not-applicable answers are skipped.
func MissingEvidence(questions []*models.Question, answers models.AnswerSet) []EvidenceGap {
	gaps := []EvidenceGap{}
	for _, q := range questions {
		if !q.EvidenceRequired {
			continue
		}
		a, ok := answers[q.ID]
		switch {
		case !ok || a == nil:
			gaps = append(gaps, EvidenceGap{QuestionID: q.ID, ClauseID: q.ClauseID, Reason: EvidenceGapUnanswered})
		case a.ComplianceFlag == models.FlagNotApplicable:
		case len(a.EvidenceRefs) == 0:
			gaps = append(gaps, EvidenceGap{QuestionID: q.ID, ClauseID: q.ClauseID, Reason: EvidenceGapMissing})
		}
	}
	return gaps
}

// MissingEvidenceFromCSV lists rows tagged EVIDENCE_REQUIRED with an empty
// evidence cell.
func MissingEvidenceFromCSV(rows []CSVQuestion) []EvidenceGap {
	gaps := []EvidenceGap{}
	for _, row := range rows {
		if row.HasTag(TagEvidenceRequired) && row.Evidence == "" {
			gaps = append(gaps, EvidenceGap{
				QuestionID: row.ID,
				ClauseID:   row.Clause,
				Tags:       strings.Join(row.Tags, ","),
				Reason:     EvidenceGapMissing,
			})
		}
	}
	return gaps
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return inflection.Plural(word)
}
