package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// Tags with special meaning in CSV catalogs.
const (
	TagEvidenceRequired = "EVIDENCE_REQUIRED"
	TagCritical         = "CRITICAL"
)

var (
	idColumns   = []string{"id", "question_id", "qid", "key", "ref"}
	textColumns = []string{"text", "question", "prompt", "body", "label"}
	tagColumns  = []string{"tags", "tag", "controls", "control", "categories", "category", "cr", "mapping"}
	evColumns   = []string{"evidence", "evidence_path"}

	tagSeparators = regexp.MustCompile(`[,|;/\s]+`)
	crCompact     = regexp.MustCompile(`[\s_-]+`)
	crInText      = regexp.MustCompile(`(?i)\bCR[-_ ]?0?([1-9]|10)\b`)
)

// CSVQuestion is one parsed row of a CSV question catalog.
type CSVQuestion struct {
	Row         int
	ID          string
	Text        string
	Category    string
	Clause      string
	Weight      float64
	Tags        []string
	Evidence    string
	HasEvidence bool
}

// HasTag reports whether the normalized tag set contains tag.
func (q CSVQuestion) HasTag(tag string) bool {
	for _, t := range q.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RecCodes returns the REC codes this row covers: any tag naming a known code,
// plus CR codes mentioned in the question text. Appendix letters count only
// when tagged.
func (q CSVQuestion) RecCodes(known []models.RecCode) []string {
	knownSet := make(map[string]bool, len(known))
	for _, rc := range known {
		knownSet[rc.Code] = true
	}

	var out []string
	seen := make(map[string]bool)
	add := func(code string) {
		if knownSet[code] && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	for _, t := range q.Tags {
		add(t)
	}
	for _, m := range crInText.FindAllStringSubmatch(q.Text, -1) {
		n, _ := strconv.Atoi(m[1])
		add(fmt.Sprintf("CR%d", n))
	}
	return out
}

// NormalizeTags splits a tag cell on , ; | / and whitespace, upper-cases each
// token and folds CR spellings such as "cr-01" to "CR1".
func NormalizeTags(val string) []string {
	var out []string
	for _, tok := range tagSeparators.Split(val, -1) {
		if t := normalizeToken(tok); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeToken(tok string) string {
	t := strings.ToUpper(strings.TrimSpace(tok))
	if t == "" {
		return ""
	}
	compact := crCompact.ReplaceAllString(t, "")
	if strings.HasPrefix(compact, "CR") {
		if n, err := strconv.Atoi(compact[2:]); err == nil && n >= 1 && n <= 10 {
			return fmt.Sprintf("CR%d", n)
		}
	}
	return t
}

// ParseCSV reads a CSV catalog with flexible column discovery. At least an id
// or a tag column must be present.
func ParseCSV(r io.Reader) ([]CSVQuestion, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv catalog is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idCol := firstColumn(cols, idColumns)
	textCol := firstColumn(cols, textColumns)
	evCol := firstColumn(cols, evColumns)
	categoryCol := firstColumn(cols, []string{"category"})
	clauseCol := firstColumn(cols, []string{"clause", "clause_id"})
	weightCol := firstColumn(cols, []string{"weight"})
	var tagCols []int
	for _, name := range tagColumns {
		if i, ok := cols[name]; ok {
			tagCols = append(tagCols, i)
		}
	}
	if idCol < 0 && len(tagCols) == 0 {
		return nil, fmt.Errorf("csv catalog needs an id or tags column")
	}

	var out []CSVQuestion
	for row := 1; ; row++ {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", row, err)
		}

		q := CSVQuestion{
			Row:         row,
			ID:          cell(rec, idCol),
			Text:        cell(rec, textCol),
			Category:    cell(rec, categoryCol),
			Clause:      normalizeToken(cell(rec, clauseCol)),
			Weight:      1,
			Evidence:    cell(rec, evCol),
			HasEvidence: evCol >= 0,
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("row%d", row)
		}
		if w := cell(rec, weightCol); w != "" {
			f, err := strconv.ParseFloat(w, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid weight %q", row, w)
			}
			q.Weight = f
		}
		seen := make(map[string]bool)
		for _, i := range tagCols {
			for _, t := range NormalizeTags(cell(rec, i)) {
				if !seen[t] {
					seen[t] = true
					q.Tags = append(q.Tags, t)
				}
			}
		}
		out = append(out, q)
	}
	return out, nil
}

// LoadCSV parses a CSV catalog into a snapshot against the default REC
// catalog. CSV questions are yes/no and always applicable.
func LoadCSV(r io.Reader, version string) (*Snapshot, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}

	questions := make([]*models.Question, 0, len(rows))
	mappings := []models.RecMapping{}
	for _, row := range rows {
		codes := row.RecCodes(DefaultRecCodes)
		q := &models.Question{
			ID:               row.ID,
			Text:             row.Text,
			Category:         row.Category,
			ClauseID:         row.Clause,
			Weight:           row.Weight,
			AnswerType:       models.AnswerTypeYesNo,
			EvidenceRequired: row.HasTag(TagEvidenceRequired),
			Critical:         row.HasTag(TagCritical),
		}
		for _, c := range codes {
			mappings = append(mappings, models.RecMapping{QuestionID: row.ID, RecCode: c})
		}
		questions = append(questions, q)
	}
	return NewSnapshot(version, DefaultRecCodes, questions, mappings)
}

func firstColumn(cols map[string]int, candidates []string) int {
	for _, c := range candidates {
		if i, ok := cols[c]; ok {
			return i
		}
	}
	return -1
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
