// Package prompt builds the system prompts and user content sent to the
// model. Everything here is a pure function of its inputs.
package prompt

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dharsanguruparan/settlementops/internal/llm"
)

// Placeholders the model is told to use for missing data.
const (
	TBD          = "[TBD - Post-Preliminary Approval]"
	NotSpecified = "[Not Specified]"
)

// Minimum richness requested from the model.
const (
	MinChecklistItems = 15
	MinMilestones     = 8
)

// MaxExcerptRunes caps each document text embedded in the chat prompt.
const MaxExcerptRunes = 50_000

// AnalysisSystemPrompt instructs the model to emit the output schema.
func AnalysisSystemPrompt(hasBid bool) string {
	receive := "You will receive a Settlement Agreement."
	analyze := "Analyze the Settlement and respond ONLY with valid JSON (no markdown, no backticks) using this structure:"
	if hasBid {
		receive = "You will receive a Settlement Agreement and an Administrative Bid."
		analyze = "Analyze and cross-reference them and respond ONLY with valid JSON (no markdown, no backticks) using this structure:"
	}
	lines := []string{
		"You are an expert Legal Operations and Class Action Project Manager.",
		receive,
		analyze,
		OutputSchema(hasBid),
		"Use ONLY the provided documents.",
		`Mark missing data as "` + TBD + `" or "` + NotSpecified + `".`,
		"Use strict legal terminology.",
		"Generate 15+ checklist items and 8+ milestones.",
		"For every factual data point you extract, record its source in the 'citations' object.",
		"The key is the dotted JSON path (e.g. 'fund_logistics.gross_settlement', 'timeline.milestones[0].date', 'timeline.preliminary_approval').",
		"Each value is an array of {doc, page, quote} objects.",
		"'doc' must be 'settlement' or 'bid'. 'page' is the 1-indexed PDF page number. 'quote' is a verbatim 30-80 character excerpt from that page.",
		"Include citations for: all dates, dollar amounts, deadlines, class specs, fund amounts, claim tier details, conflict audit quotes, checklist details, and milestone details.",
		"If a data point cannot be traced to a specific page, omit its citation entry.",
	}
	if !hasBid {
		lines = append(lines, `Set "conflict_audit" to an empty array since no Bid was provided.`)
	}
	return strings.Join(lines, "\n")
}

// AnalysisUserContent orders the documents and their labels. bid may be nil.
func AnalysisUserContent(settlement llm.Part, bid *llm.Part) []llm.Part {
	if bid != nil {
		return []llm.Part{
			settlement,
			llm.TextPart("DOCUMENT 1: Settlement Agreement."),
			*bid,
			llm.TextPart("DOCUMENT 2: Administrative Bid/Proposal. Cross-reference both and produce JSON."),
		}
	}
	return []llm.Part{
		settlement,
		llm.TextPart("This is the Settlement Agreement. Analyze it and produce the JSON output. No Bid was provided, so leave conflict_audit as an empty array."),
	}
}

// ChatSystemPrompt grounds the chat in the stored analysis and the
// extracted text. The bid section is omitted when bidText is empty.
func ChatSystemPrompt(analysis json.RawMessage, settlementText, bidText string) string {
	lines := []string{
		"You are an expert legal operations assistant for class action settlement administration.",
		"Answer questions using ONLY the provided documents below. Be concise, use bullet points where helpful, and cite which document (Settlement or Bid) your information comes from.",
		"If the answer is not found in the provided documents, say so clearly — do not speculate.",
		"",
		"=== STRUCTURED ANALYSIS ===",
		indentJSON(analysis),
		"",
		"=== SETTLEMENT AGREEMENT TEXT ===",
		truncateRunes(settlementText, MaxExcerptRunes),
	}
	if bidText != "" {
		lines = append(lines,
			"",
			"=== ADMINISTRATIVE BID TEXT ===",
			truncateRunes(bidText, MaxExcerptRunes),
		)
	}
	return strings.Join(lines, "\n")
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
