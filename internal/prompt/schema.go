package prompt

import (
	"bytes"
	"encoding/json"
)

// The structs below exist only to serialize the output schema example with
// a fixed key order. Values are the type hints shown to the model.

type outputSchema struct {
	CaseName             string                      `json:"case_name"`
	CaseNumber           string                      `json:"case_number"`
	Jurisdiction         string                      `json:"jurisdiction"`
	SettlementType       string                      `json:"settlement_type"`
	Summary              string                      `json:"summary"`
	Timeline             timelineSchema              `json:"timeline"`
	ClassSpecs           classSpecsSchema            `json:"class_specs"`
	NoticePlan           noticePlanSchema            `json:"notice_plan"`
	FundLogistics        fundLogisticsSchema         `json:"fund_logistics"`
	ClaimsLogic          claimsLogicSchema           `json:"claims_logic"`
	OperationalChecklist checklistSchema             `json:"operational_checklist"`
	ConflictAudit        []conflictSchema            `json:"conflict_audit"`
	Citations            map[string][]citationSchema `json:"citations"`
}

type timelineSchema struct {
	PreliminaryApproval        string            `json:"preliminary_approval"`
	NoticeDeadline             string            `json:"notice_deadline"`
	ExclusionObjectionDeadline string            `json:"exclusion_objection_deadline"`
	ClaimsDeadline             string            `json:"claims_deadline"`
	FinalApprovalHearing       string            `json:"final_approval_hearing"`
	DistributionDate           string            `json:"distribution_date"`
	Milestones                 []milestoneSchema `json:"milestones"`
}

type milestoneSchema struct {
	Label  string `json:"label"`
	Date   string `json:"date"`
	TMinus string `json:"t_minus"`
	Status string `json:"status"`
	Owner  string `json:"owner"`
	Notes  string `json:"notes"`
}

type classSpecsSchema struct {
	EstimatedSize   string   `json:"estimated_size"`
	Subclasses      string   `json:"subclasses"`
	SubclassDetails []string `json:"subclass_details"`
	DataFormat      string   `json:"data_format"`
	DataSource      string   `json:"data_source"`
}

type noticePlanSchema struct {
	Channels       []string `json:"channels"`
	SkipTracing    string   `json:"skip_tracing"`
	Languages      []string `json:"languages"`
	DedicatedURL   string   `json:"dedicated_url"`
	TollFreeNumber string   `json:"toll_free_number"`
}

type fundLogisticsSchema struct {
	GrossSettlement string   `json:"gross_settlement"`
	AdminCap        string   `json:"admin_cap"`
	AttorneyFees    string   `json:"attorney_fees"`
	ServiceAwards   string   `json:"service_awards"`
	NetFund         string   `json:"net_fund"`
	QSFRequired     bool     `json:"qsf_required"`
	TaxIDSetup      string   `json:"tax_id_setup"`
	PaymentMethods  []string `json:"payment_methods"`
}

type claimsLogicSchema struct {
	Type              string            `json:"type"`
	FormRequired      bool              `json:"form_required"`
	RequiredFields    []string          `json:"required_fields"`
	ProofRequirements string            `json:"proof_requirements"`
	ClaimTiers        []claimTierSchema `json:"claim_tiers"`
	DisputeResolution string            `json:"dispute_resolution"`
}

type claimTierSchema struct {
	Tier         string `json:"tier"`
	Amount       string `json:"amount"`
	Requirements string `json:"requirements"`
}

type checklistSchema struct {
	DataIntake       []taskSchema `json:"data_intake"`
	NoticePhase      []taskSchema `json:"notice_phase"`
	ClaimsProcessing []taskSchema `json:"claims_processing"`
	Support          []taskSchema `json:"support"`
	Payment          []taskSchema `json:"payment"`
	Reporting        []taskSchema `json:"reporting"`
}

type taskSchema struct {
	Task        string `json:"task"`
	Details     string `json:"details"`
	DeadlineRef string `json:"deadline_ref"`
}

type conflictSchema struct {
	Category       string `json:"category"`
	SettlementSays string `json:"settlement_says"`
	BidSays        string `json:"bid_says"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

type citationSchema struct {
	Doc   string `json:"doc"`
	Page  string `json:"page"`
	Quote string `json:"quote"`
}

// ChecklistPhases lists the operational_checklist keys in schema order.
var ChecklistPhases = []string{
	"data_intake",
	"notice_phase",
	"claims_processing",
	"support",
	"payment",
	"reporting",
}

func newOutputSchema() outputSchema {
	task := []taskSchema{{Task: "string", Details: "string", DeadlineRef: "string"}}
	return outputSchema{
		CaseName:       "string",
		CaseNumber:     "string",
		Jurisdiction:   "string",
		SettlementType: "Claims-Made|Direct Pay",
		Summary:        "string",
		Timeline: timelineSchema{
			PreliminaryApproval:        "date or [TBD]",
			NoticeDeadline:             "string",
			ExclusionObjectionDeadline: "string",
			ClaimsDeadline:             "string",
			FinalApprovalHearing:       "string",
			DistributionDate:           "string",
			Milestones: []milestoneSchema{{
				Label:  "string",
				Date:   "string",
				TMinus: "T+0",
				Status: "pending|upcoming|critical",
				Owner:  "string",
				Notes:  "string",
			}},
		},
		ClassSpecs: classSpecsSchema{
			EstimatedSize:   "string",
			Subclasses:      "number",
			SubclassDetails: []string{"string"},
			DataFormat:      "string",
			DataSource:      "string",
		},
		NoticePlan: noticePlanSchema{
			Channels:       []string{"string"},
			SkipTracing:    "required|not required|TBD",
			Languages:      []string{"string"},
			DedicatedURL:   "required|not required",
			TollFreeNumber: "required|not required",
		},
		FundLogistics: fundLogisticsSchema{
			GrossSettlement: "string",
			AdminCap:        "string",
			AttorneyFees:    "string",
			ServiceAwards:   "string",
			NetFund:         "string",
			QSFRequired:     true,
			TaxIDSetup:      "string",
			PaymentMethods:  []string{"string"},
		},
		ClaimsLogic: claimsLogicSchema{
			Type:              "string",
			FormRequired:      true,
			RequiredFields:    []string{"string"},
			ProofRequirements: "string",
			ClaimTiers: []claimTierSchema{{
				Tier:         "string",
				Amount:       "string",
				Requirements: "string",
			}},
			DisputeResolution: "string",
		},
		OperationalChecklist: checklistSchema{
			DataIntake:       task,
			NoticePhase:      task,
			ClaimsProcessing: task,
			Support:          task,
			Payment:          task,
			Reporting:        task,
		},
		ConflictAudit: []conflictSchema{{
			Category:       "string",
			SettlementSays: "string",
			BidSays:        "string",
			Severity:       "critical|warning|info",
			Recommendation: "string",
		}},
		Citations: map[string][]citationSchema{
			"<dotted.path.to.field>": {{
				Doc:   "settlement|bid",
				Page:  "integer, 1-indexed PDF page number",
				Quote: "string, verbatim 30-80 char excerpt from that page",
			}},
		},
	}
}

// OutputSchema renders the compact schema example. Without a bid the
// conflict_audit entry is an empty array in the same position.
func OutputSchema(hasBid bool) string {
	schema := newOutputSchema()
	if !hasBid {
		schema.ConflictAudit = []conflictSchema{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding fixed string and bool fields cannot fail.
	_ = enc.Encode(schema)
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
