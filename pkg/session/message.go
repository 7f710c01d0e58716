// Package session implements the append-only conversation log, the
// commit pipeline (archive summary plus long-term memory extraction),
// and usage accounting.
package session

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/openviking/openviking/pkg/status"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types.
const (
	PartText       = "text"
	PartContextRef = "context_ref"
	PartTool       = "tool"
)

// Tool part statuses.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Part is one segment of a message. Type selects which fields apply.
type Part struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// context_ref
	URI         string `json:"uri,omitempty"`
	ContextType string `json:"context_type,omitempty"`
	Abstract    string `json:"abstract,omitempty"`

	// tool
	ToolID     string         `json:"tool_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolURI    string         `json:"tool_uri,omitempty"`
	SkillURI   string         `json:"skill_uri,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	ToolStatus string         `json:"tool_status,omitempty"`
}

// Message is one log entry. CreatedAt is unix milliseconds.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	CreatedAt int64  `json:"created_at"`
}

// PlainText flattens a message for prompting: text parts verbatim, tool
// parts as name plus output.
func (m *Message) PlainText() string {
	var b strings.Builder
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			b.WriteString(p.Text)
		case PartContextRef:
			b.WriteString("[context ")
			b.WriteString(p.URI)
			b.WriteString("]")
		case PartTool:
			b.WriteString("[tool ")
			b.WriteString(p.ToolName)
			if p.ToolOutput != "" {
				b.WriteString(": ")
				b.WriteString(p.ToolOutput)
			}
			b.WriteString("]")
		}
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

// encodeLog renders messages as JSONL.
func encodeLog(msgs []Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return nil, status.Internal("encode message %s", msgs[i].ID).WithCause(err)
		}
	}
	return buf.Bytes(), nil
}

func encodeUsage(rec usageRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, status.Internal("encode usage record").WithCause(err)
	}
	return append(data, '\n'), nil
}

func decodeUsage(data []byte) ([]usageRecord, error) {
	var out []usageRecord
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r usageRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, status.Internal("corrupt usage log").WithCause(err)
		}
		out = append(out, r)
	}
	return out, nil
}

// decodeLog parses JSONL, skipping blank lines. Unknown and missing
// optional fields are tolerated; a malformed line is an error.
func decodeLog(data []byte) ([]Message, error) {
	var out []Message
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, status.Internal("corrupt message log").WithCause(err)
		}
		out = append(out, m)
	}
	return out, nil
}
