// Package screening checks free-text input for injection payloads before it
// is stored and later rendered into reports.
package screening

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a field value.
type InjectionCheckResult struct {
	Field       string
	Value       string
	Fingerprint string // libinjection fingerprint, empty for XSS hits
	Kind        string // "sqli" or "xss"
}

// CheckText runs the libinjection SQLi and XSS detectors over value.
// Returns nil when the value is clean.
func CheckText(field, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return &InjectionCheckResult{Field: field, Value: value, Fingerprint: string(fingerprint), Kind: "sqli"}
	}
	if libinjection.IsXSS(value) {
		return &InjectionCheckResult{Field: field, Value: value, Kind: "xss"}
	}
	return nil
}

// CheckAll validates every field and returns the flagged ones ordered by field name.
func CheckAll(fields map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range fields {
		if r := CheckText(name, value); r != nil {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Field < results[j].Field })
	return results
}
