package trajectory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptgym-dev/promptgym/internal/domain"
)

// errorMarkers drive the heuristic error classification of tool results.
// A result "contains the word error" style match is imprecise but it is
// what the worker's free-text results allow; see the parser doc comment.
var errorMarkers = []string{"error", "not found", "failed", "timed out"}

// Parser normalizes raw trial transcripts into ordered turn records.
//
// Two payload shapes are tolerated: messages whose content is a list of
// typed segments (text / tool_use / tool_result), and flattened
// role/content records with a string body plus an optional tool_calls
// list. Malformed fragments are skipped, never fatal. Error status per
// result string is a case-insensitive substring match against
// errorMarkers, not a structured status check.
type Parser struct{}

type rawMessage struct {
	Role      string          `json:"role"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []rawToolCall   `json:"tool_calls"`
}

type rawToolCall struct {
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Arguments json.RawMessage `json:"arguments"`
}

type rawSegment struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

// openTurn accumulates reasoning and tool calls until a tool-result batch
// seals it.
type openTurn struct {
	reasoning []string
	toolCalls []domain.ToolCall
}

// Parse folds a raw transcript into turn records. Parsing the same bytes
// twice yields identical records.
func (p *Parser) Parse(raw []byte) ([]domain.TurnRecord, error) {
	var messages []json.RawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("transcript is not a message array: %w", err)
	}

	var turns []domain.TurnRecord
	open := &openTurn{}

	seal := func(results []string) {
		rec := domain.TurnRecord{
			Index:     len(turns),
			Reasoning: strings.Join(open.reasoning, "\n"),
			ToolCalls: open.toolCalls,
			Results:   results,
			Status:    domain.TurnOK,
		}
		for _, r := range results {
			if isErrorResult(r) {
				rec.Errors = append(rec.Errors, r)
			}
		}
		if len(rec.Errors) > 0 {
			rec.Status = domain.TurnFail
		}
		turns = append(turns, rec)
		open = &openTurn{}
	}

	for _, m := range messages {
		var msg rawMessage
		if err := json.Unmarshal(m, &msg); err != nil {
			continue // skip malformed fragment
		}

		results := p.foldMessage(&msg, open)

		// A tool-result batch seals the open turn, but only once the turn
		// has at least one tool call recorded. Result fragments with no
		// preceding call have nothing to attach to and are dropped.
		if len(results) > 0 && len(open.toolCalls) > 0 {
			seal(results)
		}
	}

	// Trailing open turn with pending tool calls: the trial ended before
	// the results came back.
	if len(open.toolCalls) > 0 {
		seal(nil)
	}

	return turns, nil
}

// foldMessage accumulates one message into the open turn and returns any
// tool results it carried.
func (p *Parser) foldMessage(msg *rawMessage, open *openTurn) []string {
	var results []string

	// Flattened-shape tool calls ride alongside the content.
	for _, tc := range msg.ToolCalls {
		open.toolCalls = append(open.toolCalls, domain.ToolCall{
			Name:  tc.Name,
			Input: compactJSON(firstNonEmpty(tc.Input, tc.Arguments)),
		})
	}

	var segments []rawSegment
	if err := json.Unmarshal(msg.Content, &segments); err == nil {
		for _, seg := range segments {
			switch seg.Type {
			case "text":
				if msg.Role == "" || msg.Role == "assistant" {
					if seg.Text != "" {
						open.reasoning = append(open.reasoning, seg.Text)
					}
				}
			case "tool_use":
				open.toolCalls = append(open.toolCalls, domain.ToolCall{
					Name:  seg.Name,
					Input: compactJSON(seg.Input),
				})
			case "tool_result":
				results = append(results, stringifyContent(seg.Content))
			}
		}
		return results
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err != nil {
		return results // unknown content shape, skip fragment
	}
	switch {
	case msg.Role == "tool" || msg.Type == "tool_result":
		results = append(results, text)
	case msg.Role == "assistant" && text != "":
		open.reasoning = append(open.reasoning, text)
	}
	return results
}

// stringifyContent renders a tool_result body, which may be a bare string
// or a list of text segments.
func stringifyContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var segs []rawSegment
	if err := json.Unmarshal(raw, &segs); err == nil {
		var parts []string
		for _, seg := range segs {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func firstNonEmpty(a, b json.RawMessage) json.RawMessage {
	if len(a) > 0 {
		return a
	}
	return b
}

func isErrorResult(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
