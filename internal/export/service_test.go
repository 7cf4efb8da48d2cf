package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

const analysisDoc = `{
  "case_name": "Doe v. Acme",
  "timeline": {
    "milestones": [
      {"label": "Preliminary Approval", "date": "[TBD - Post-Preliminary Approval]", "t_minus": "T+0", "status": "pending", "owner": "Court", "notes": ""},
      {"label": "Notice Deadline", "date": 30, "t_minus": "T+30", "status": "upcoming", "owner": "Administrator", "notes": null}
    ]
  },
  "operational_checklist": {
    "reporting": [{"task": "Final report", "details": "File with court", "deadline_ref": "Distribution"}],
    "data_intake": [
      {"task": "Receive class list", "details": "CSV from defendant", "deadline_ref": "T+14"},
      {"task": "NCOA update", "details": true, "deadline_ref": "T+20"}
    ],
    "escrow": ["Open QSF account"]
  },
  "conflict_audit": [
    {"category": "Admin Cap", "settlement_says": "$250,000", "bid_says": "$310,000", "severity": "critical", "recommendation": "Renegotiate"}
  ]
}`

func completedCase(withBid bool) *model.Case {
	c := &model.Case{
		ID:             3,
		Settlement:     model.DocumentRef{Filename: "s.pdf"},
		AnalysisStatus: model.StatusCompleted,
		AnalysisJSON:   json.RawMessage(analysisDoc),
	}
	if withBid {
		c.Bid = &model.DocumentRef{Filename: "b.pdf"}
	}
	return c
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCaseWorkbookWithBid(t *testing.T) {
	data, err := NewService(nil).CaseWorkbook(completedCase(true))
	require.NoError(t, err)
	f := openWorkbook(t, data)

	assert.Equal(t, []string{SheetChecklist, SheetTimeline, SheetConflicts}, f.GetSheetList())

	rows, err := f.GetRows(SheetChecklist)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Phase", "Task", "Details", "Deadline Ref"}, rows[0])
	assert.Equal(t, []string{"Data Intake", "Receive class list", "CSV from defendant", "T+14"}, rows[1])
	assert.Equal(t, []string{"Data Intake", "NCOA update", "true", "T+20"}, rows[2])
	assert.Equal(t, []string{"Reporting", "Final report", "File with court", "Distribution"}, rows[3])
	assert.Equal(t, []string{"Escrow", "Open QSF account"}, rows[4])

	rows, err = f.GetRows(SheetTimeline)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Preliminary Approval", rows[1][0])
	assert.Equal(t, "30", rows[2][1])

	rows, err = f.GetRows(SheetConflicts)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Admin Cap", "$250,000", "$310,000", "critical", "Renegotiate"}, rows[1])
}

func TestCaseWorkbookWithoutBid(t *testing.T) {
	data, err := NewService(nil).CaseWorkbook(completedCase(false))
	require.NoError(t, err)
	f := openWorkbook(t, data)
	assert.Equal(t, []string{SheetChecklist, SheetTimeline}, f.GetSheetList())
}

func TestCaseWorkbookRequiresAnalysis(t *testing.T) {
	c := completedCase(false)
	c.AnalysisStatus = model.StatusFailed
	_, err := NewService(nil).CaseWorkbook(c)
	assert.ErrorIs(t, err, ErrNotAnalyzed)
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "Claims Processing", phaseLabel("claims_processing"))
	assert.Equal(t, "Support", phaseLabel("support"))
}
