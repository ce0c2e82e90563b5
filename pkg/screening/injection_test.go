package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckText(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantKind string
	}{
		{"empty", "", ""},
		{"plain answer", "We wipe drives with NIST 800-88 purge before resale.", ""},
		{"numbers", "42", ""},
		{"sql injection", "1' OR '1'='1", "sqli"},
		{"stacked query", "'; DROP TABLE answers--", "sqli"},
		{"script tag", "<script>alert(1)</script>", "xss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckText("value", tt.value)
			if tt.wantKind == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, "value", got.Field)
		})
	}
}

func TestCheckAll(t *testing.T) {
	results := CheckAll(map[string]string{
		"value":  "1' OR '1'='1",
		"note":   "all clear",
		"reason": "<script>alert(1)</script>",
	})
	require.Len(t, results, 2)
	assert.Equal(t, "reason", results[0].Field)
	assert.Equal(t, "value", results[1].Field)
}
