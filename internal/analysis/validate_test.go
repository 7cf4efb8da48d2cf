package analysis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorAcceptsCompleteAnalysis(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	issues, err := v.Validate(json.RawMessage(mustJSON(sampleAnalysis(15))))
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidatorFindings(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	testCases := []struct {
		name       string
		mutate     func(doc map[string]any)
		wantPrefix string
		wantText   string
	}{
		{
			name:       "missing summary",
			mutate:     func(doc map[string]any) { delete(doc, "summary") },
			wantPrefix: "/:",
			wantText:   "summary",
		},
		{
			name: "bad severity",
			mutate: func(doc map[string]any) {
				doc["conflict_audit"] = []any{map[string]any{"category": "Fees", "severity": "urgent"}}
			},
			wantPrefix: "/conflict_audit/0/severity:",
		},
		{
			name:       "milestones not a list",
			mutate:     func(doc map[string]any) { doc["timeline"] = map[string]any{"milestones": "soon"} },
			wantPrefix: "/timeline/milestones:",
		},
		{
			name: "few milestones",
			mutate: func(doc map[string]any) {
				timeline := doc["timeline"].(map[string]any)
				timeline["milestones"] = timeline["milestones"].([]any)[:5]
			},
			wantPrefix: "/timeline/milestones:",
			wantText:   "expected at least 8 milestones, got 5",
		},
		{
			name:       "thin checklist",
			mutate:     func(doc map[string]any) { doc["operational_checklist"] = sampleAnalysis(14)["operational_checklist"] },
			wantPrefix: "/operational_checklist:",
			wantText:   "expected at least 15 checklist items, got 14",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := sampleAnalysis(15)
			tc.mutate(doc)
			issues, err := v.Validate(json.RawMessage(mustJSON(doc)))
			require.NoError(t, err)
			require.Len(t, issues, 1, "issues: %v", issues)
			assert.True(t, strings.HasPrefix(issues[0], tc.wantPrefix), issues[0])
			assert.Contains(t, issues[0], tc.wantText)
		})
	}
}

func TestValidatorRejectsNonJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	_, err = v.Validate(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}
