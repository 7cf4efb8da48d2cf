package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dharsanguruparan/settlementops/internal/prompt"
)

const schemaURL = "analysis.schema.json"

// analysisSchema describes the shape the analysis prompt asks for. Scalar
// leaves accept strings because the model writes placeholders such as
// "[Not Specified]" where a number or flag is missing.
const analysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": [
    "case_name", "case_number", "jurisdiction", "settlement_type", "summary",
    "timeline", "class_specs", "notice_plan", "fund_logistics", "claims_logic",
    "operational_checklist", "conflict_audit"
  ],
  "properties": {
    "case_name": {"type": "string"},
    "case_number": {"type": "string"},
    "jurisdiction": {"type": "string"},
    "settlement_type": {"type": "string"},
    "summary": {"type": "string"},
    "timeline": {
      "type": "object",
      "required": ["milestones"],
      "properties": {
        "milestones": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["label", "date"],
            "properties": {
              "label": {"type": "string"},
              "date": {"type": "string"},
              "t_minus": {"type": "string"},
              "status": {"type": "string"},
              "owner": {"type": "string"},
              "notes": {"type": "string"}
            }
          }
        }
      }
    },
    "class_specs": {
      "type": "object",
      "properties": {
        "subclasses": {"type": ["number", "string"]},
        "subclass_details": {"type": "array", "items": {"type": "string"}}
      }
    },
    "notice_plan": {
      "type": "object",
      "properties": {
        "channels": {"type": "array", "items": {"type": "string"}},
        "languages": {"type": "array", "items": {"type": "string"}}
      }
    },
    "fund_logistics": {
      "type": "object",
      "properties": {
        "qsf_required": {"type": ["boolean", "string"]},
        "payment_methods": {"type": "array", "items": {"type": "string"}}
      }
    },
    "claims_logic": {
      "type": "object",
      "properties": {
        "form_required": {"type": ["boolean", "string"]},
        "required_fields": {"type": "array", "items": {"type": "string"}},
        "claim_tiers": {
          "type": "array",
          "items": {"type": "object", "required": ["tier"]}
        }
      }
    },
    "operational_checklist": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["task"],
          "properties": {
            "task": {"type": "string"},
            "details": {"type": "string"},
            "deadline_ref": {"type": "string"}
          }
        }
      }
    },
    "conflict_audit": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["category", "severity"],
        "properties": {
          "category": {"type": "string"},
          "settlement_says": {"type": "string"},
          "bid_says": {"type": "string"},
          "severity": {"enum": ["critical", "warning", "info"]},
          "recommendation": {"type": "string"}
        }
      }
    },
    "citations": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["doc", "quote"],
          "properties": {
            "doc": {"enum": ["settlement", "bid"]},
            "page": {"type": ["integer", "string"]},
            "quote": {"type": "string"}
          }
        }
      }
    }
  }
}`

// Validator checks an extracted analysis against the JSON Schema and the
// richness the prompt asks for. Findings never fail an analysis; they mark
// it partial.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the analysis schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(analysisSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns the sorted findings for doc. The error is reserved for
// input that is not JSON at all.
func (v *Validator) Validate(doc json.RawMessage) ([]string, error) {
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}

	var issues []string
	if err := v.schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("validate analysis: %w", err)
		}
		issues = appendLeaves(issues, verr)
	}
	if n, ok := checklistItems(instance); ok && n < prompt.MinChecklistItems {
		issues = append(issues, fmt.Sprintf("/operational_checklist: expected at least %d checklist items, got %d", prompt.MinChecklistItems, n))
	}
	if n, ok := milestoneCount(instance); ok && n < prompt.MinMilestones {
		issues = append(issues, fmt.Sprintf("/timeline/milestones: expected at least %d milestones, got %d", prompt.MinMilestones, n))
	}
	sort.Strings(issues)
	return issues, nil
}

func appendLeaves(issues []string, verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(issues, loc+": "+verr.Message)
	}
	for _, cause := range verr.Causes {
		issues = appendLeaves(issues, cause)
	}
	return issues
}

// checklistItems counts tasks across all phases. It reports false when the
// checklist is missing or malformed, which the schema already flags.
func checklistItems(instance any) (int, bool) {
	root, ok := instance.(map[string]any)
	if !ok {
		return 0, false
	}
	phases, ok := root["operational_checklist"].(map[string]any)
	if !ok {
		return 0, false
	}
	total := 0
	for _, items := range phases {
		if list, ok := items.([]any); ok {
			total += len(list)
		}
	}
	return total, true
}

func milestoneCount(instance any) (int, bool) {
	root, ok := instance.(map[string]any)
	if !ok {
		return 0, false
	}
	timeline, ok := root["timeline"].(map[string]any)
	if !ok {
		return 0, false
	}
	list, ok := timeline["milestones"].([]any)
	return len(list), ok
}
