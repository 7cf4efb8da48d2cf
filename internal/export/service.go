// Package export renders a completed analysis as an XLSX workbook for the
// administration team.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/model"
	"github.com/dharsanguruparan/settlementops/internal/prompt"
)

// ErrNotAnalyzed is returned for cases without a completed analysis.
var ErrNotAnalyzed = errors.New("case has no completed analysis")

const (
	SheetChecklist = "Checklist"
	SheetTimeline  = "Timeline"
	SheetConflicts = "Conflicts"
)

// Service produces workbook bytes.
type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// CaseWorkbook builds the Checklist and Timeline sheets, plus Conflicts when
// the case has a bid. Values of any JSON type are written as text.
func (s *Service) CaseWorkbook(c *model.Case) ([]byte, error) {
	if !c.Analyzed() {
		return nil, ErrNotAnalyzed
	}
	start := time.Now()

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(c.AnalysisJSON))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetChecklist); err != nil {
		return nil, err
	}

	checklist := checklistRows(doc)
	writeSheet(f, SheetChecklist, []string{"Phase", "Task", "Details", "Deadline Ref"}, checklist)
	_ = f.SetColWidth(SheetChecklist, "A", "A", 20)
	_ = f.SetColWidth(SheetChecklist, "B", "B", 40)
	_ = f.SetColWidth(SheetChecklist, "C", "C", 60)
	_ = f.SetColWidth(SheetChecklist, "D", "D", 24)

	if _, err := f.NewSheet(SheetTimeline); err != nil {
		return nil, err
	}
	timeline := objectRows(path(doc, "timeline", "milestones"), "label", "date", "t_minus", "status", "owner", "notes")
	writeSheet(f, SheetTimeline, []string{"Label", "Date", "T-minus", "Status", "Owner", "Notes"}, timeline)
	_ = f.SetColWidth(SheetTimeline, "A", "A", 36)
	_ = f.SetColWidth(SheetTimeline, "F", "F", 48)

	conflicts := 0
	if c.HasBid() {
		if _, err := f.NewSheet(SheetConflicts); err != nil {
			return nil, err
		}
		rows := objectRows(doc["conflict_audit"], "category", "settlement_says", "bid_says", "severity", "recommendation")
		writeSheet(f, SheetConflicts, []string{"Category", "Settlement Says", "Bid Says", "Severity", "Recommendation"}, rows)
		_ = f.SetColWidth(SheetConflicts, "B", "C", 48)
		_ = f.SetColWidth(SheetConflicts, "E", "E", 48)
		conflicts = len(rows)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		zap.Int64("case_id", c.ID),
		zap.Int("checklist_rows", len(checklist)),
		zap.Int("milestone_rows", len(timeline)),
		zap.Int("conflict_rows", conflicts),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range rows {
		for col, v := range row {
			if v == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

// checklistRows walks the known phases in schema order, then any extra
// phases the model invented, alphabetically.
func checklistRows(doc map[string]any) [][]string {
	phases, _ := doc["operational_checklist"].(map[string]any)
	order := append([]string(nil), prompt.ChecklistPhases...)
	var extra []string
	for name := range phases {
		if !contains(prompt.ChecklistPhases, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	var rows [][]string
	for _, phase := range order {
		items, _ := phases[phase].([]any)
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				rows = append(rows, []string{phaseLabel(phase), text(item), "", ""})
				continue
			}
			rows = append(rows, []string{phaseLabel(phase), text(obj["task"]), text(obj["details"]), text(obj["deadline_ref"])})
		}
	}
	return rows
}

func objectRows(v any, keys ...string) [][]string {
	items, _ := v.([]any)
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		obj, _ := item.(map[string]any)
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = text(obj[k])
		}
		rows = append(rows, row)
	}
	return rows
}

func path(doc map[string]any, keys ...string) any {
	var cur any = doc
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// phaseLabel turns "claims_processing" into "Claims Processing".
func phaseLabel(phase string) string {
	words := strings.Split(phase, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
