package safecall

import (
	"encoding/json"
)

// Message is one entry of a structured conversation prompt. Content is
// either a plain string or a list of typed blocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Block is one typed content block of a structured message.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// ParseMessages interprets a prompt as a structured message list. The
// second return is false when the prompt is ordinary text.
func ParseMessages(prompt string) ([]Message, bool) {
	var msgs []Message
	if err := json.Unmarshal([]byte(prompt), &msgs); err != nil {
		return nil, false
	}
	if len(msgs) == 0 {
		return nil, false
	}
	for _, m := range msgs {
		if m.Role == "" {
			return nil, false
		}
	}
	return msgs, true
}

func blocksOf(m Message) ([]Block, bool) {
	var blocks []Block
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// UnmatchedToolUses returns the IDs of tool_use blocks that have no
// corresponding tool_result anywhere in the conversation, in order of
// appearance.
func UnmatchedToolUses(msgs []Message) []string {
	resolved := make(map[string]bool)
	var uses []string

	for _, m := range msgs {
		blocks, ok := blocksOf(m)
		if !ok {
			continue
		}
		for _, b := range blocks {
			switch b.Type {
			case "tool_use":
				if b.ID != "" {
					uses = append(uses, b.ID)
				}
			case "tool_result":
				if b.ToolUseID != "" {
					resolved[b.ToolUseID] = true
				}
			}
		}
	}

	var unmatched []string
	for _, id := range uses {
		if !resolved[id] {
			unmatched = append(unmatched, id)
		}
	}
	return unmatched
}

// Repair inserts the minimum number of synthesized tool_result blocks so
// that every tool_use is paired. Each synthesized result lands in a user
// message directly after the assistant message that issued the tool_use.
// The second return is the number of blocks inserted.
func Repair(msgs []Message) ([]Message, int) {
	unmatched := UnmatchedToolUses(msgs)
	if len(unmatched) == 0 {
		return msgs, 0
	}
	missing := make(map[string]bool, len(unmatched))
	for _, id := range unmatched {
		missing[id] = true
	}

	var out []Message
	inserted := 0
	for _, m := range msgs {
		out = append(out, m)

		blocks, ok := blocksOf(m)
		if !ok || m.Role != "assistant" {
			continue
		}
		var results []Block
		for _, b := range blocks {
			if b.Type == "tool_use" && missing[b.ID] {
				results = append(results, Block{
					Type:      "tool_result",
					ToolUseID: b.ID,
					Content:   "Tool call was not executed.",
				})
				delete(missing, b.ID)
			}
		}
		if len(results) > 0 {
			content, err := json.Marshal(results)
			if err != nil {
				continue
			}
			out = append(out, Message{Role: "user", Content: content})
			inserted += len(results)
		}
	}
	return out, inserted
}

// RepairPrompt applies Repair to a prompt that parses as a message list
// and re-serializes it. Plain-text prompts pass through untouched.
func RepairPrompt(prompt string) (string, int) {
	msgs, ok := ParseMessages(prompt)
	if !ok {
		return prompt, 0
	}
	repaired, inserted := Repair(msgs)
	if inserted == 0 {
		return prompt, 0
	}
	encoded, err := json.Marshal(repaired)
	if err != nil {
		return prompt, 0
	}
	return string(encoded), inserted
}
