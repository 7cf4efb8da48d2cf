package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/dharsanguruparan/settlementops/internal/prompt"
)

// sampleAnalysis builds a schema-conformant analysis with the given number
// of checklist items spread across the phases.
func sampleAnalysis(checklistItems int) map[string]any {
	checklist := make(map[string]any, len(prompt.ChecklistPhases))
	for _, phase := range prompt.ChecklistPhases {
		checklist[phase] = []any{}
	}
	for i := 0; i < checklistItems; i++ {
		phase := prompt.ChecklistPhases[i%len(prompt.ChecklistPhases)]
		checklist[phase] = append(checklist[phase].([]any), map[string]any{
			"task":         fmt.Sprintf("Task %d", i+1),
			"details":      "Details",
			"deadline_ref": "Notice Deadline",
		})
	}
	milestones := make([]any, 0, 8)
	for i := 0; i < 8; i++ {
		milestones = append(milestones, map[string]any{
			"label":   fmt.Sprintf("Milestone %d", i+1),
			"date":    prompt.TBD,
			"t_minus": fmt.Sprintf("T+%d", i*10),
			"status":  "pending",
			"owner":   "Administrator",
			"notes":   "",
		})
	}
	return map[string]any{
		"case_name":       "Doe v. Acme Corp.",
		"case_number":     "3:24-cv-01234",
		"jurisdiction":    "N.D. Cal.",
		"settlement_type": "Claims-Made",
		"summary":         "Data breach settlement.",
		"timeline": map[string]any{
			"preliminary_approval": prompt.TBD,
			"milestones":           milestones,
		},
		"class_specs": map[string]any{
			"estimated_size":   "1,200,000",
			"subclasses":       2,
			"subclass_details": []any{"California", "Nationwide"},
		},
		"notice_plan": map[string]any{
			"channels":  []any{"Email", "Postcard"},
			"languages": []any{"English", "Spanish"},
		},
		"fund_logistics": map[string]any{
			"gross_settlement": "$5,000,000",
			"qsf_required":     true,
			"payment_methods":  []any{"Check", "PayPal"},
		},
		"claims_logic": map[string]any{
			"type":            "Claims-Made",
			"form_required":   true,
			"required_fields": []any{"Name"},
			"claim_tiers": []any{
				map[string]any{"tier": "Documented Loss", "amount": "$5,000", "requirements": "Receipts"},
			},
		},
		"operational_checklist": checklist,
		"conflict_audit":        []any{},
		"citations": map[string]any{
			"fund_logistics.gross_settlement": []any{
				map[string]any{"doc": "settlement", "page": 4, "quote": "a non-reversionary Settlement Fund of $5,000,000"},
			},
		},
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
