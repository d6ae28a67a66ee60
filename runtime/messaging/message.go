// Package messaging carries conversation traffic between agents and the
// platform: inbound signals delivered to workflows, outbound replies posted
// back to the server, conversation history, and agent-to-agent dispatch.
//
// Every built-in workflow listens on a single signal channel
// (SignalInbound). The Router demultiplexes each delivery by message type
// and hands it to the handler registered for the workflow type. Handlers
// receive a Context that knows how to reply, fetch history, and forward the
// conversation to other agents.
package messaging

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SignalInbound is the signal channel every conversational workflow drains.
const SignalInbound = "HandleInboundChatOrData"

// Message types carried on Payload.Type.
const (
	TypeChat = "chat"
	TypeData = "data"
	TypeFile = "file"
)

// History directions as reported by the server.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Payload is the conversation message body shared by inbound signals and
// history records.
type Payload struct {
	Agent         string          `json:"agent,omitempty"`
	ThreadID      string          `json:"threadId,omitempty"`
	ParticipantID string          `json:"participantId"`
	Text          string          `json:"text,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	Hint          string          `json:"hint,omitempty"`
	Scope         string          `json:"scope,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Type          string          `json:"type"`
}

// InboundMessage is the signal payload delivered to workflows. Source fields
// are populated when another agent forwarded the conversation.
type InboundMessage struct {
	Payload            Payload `json:"payload"`
	SourceAgent        string  `json:"sourceAgent,omitempty"`
	SourceWorkflowID   string  `json:"sourceWorkflowId,omitempty"`
	SourceWorkflowType string  `json:"sourceWorkflowType,omitempty"`
}

// IsAgentToAgent reports whether the message was forwarded by another
// workflow rather than sent by a user.
func (m InboundMessage) IsAgentToAgent() bool {
	return m.SourceWorkflowID != ""
}

// OutboundMessage is posted to the server when an agent replies.
type OutboundMessage struct {
	Agent         string          `json:"agent"`
	WorkflowID    string          `json:"workflowId"`
	WorkflowType  string          `json:"workflowType"`
	ThreadID      string          `json:"threadId,omitempty"`
	ParticipantID string          `json:"participantId"`
	RequestID     string          `json:"requestId,omitempty"`
	Text          string          `json:"text,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Hint          string          `json:"hint,omitempty"`
	Scope         string          `json:"scope,omitempty"`
	TenantID      string          `json:"tenantId,omitempty"`
}

// HistoryMessage is one conversation history record, newest first as
// returned by the server.
type HistoryMessage struct {
	ID            string          `json:"id,omitempty"`
	Direction     string          `json:"direction"`
	Text          string          `json:"text,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Hint          string          `json:"hint,omitempty"`
	Scope         string          `json:"scope,omitempty"`
	ParticipantID string          `json:"participantId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitempty"`
}

// Authorization is a scoped conversation grant issued by the server for UI
// handoff.
type Authorization struct {
	Token         string    `json:"token"`
	TenantID      string    `json:"tenantId,omitempty"`
	ParticipantID string    `json:"participantId,omitempty"`
	WorkflowID    string    `json:"workflowId,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

// FileAttachment is the decoded content of a file message.
type FileAttachment struct {
	Content     []byte
	FileName    string
	ContentType string
}

// filePayload is the canonical JSON form of a file message's data field.
type filePayload struct {
	Content     string `json:"content"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// DecodeFile extracts the attachment from a file message. It accepts the
// canonical {content, fileName, contentType} object, or a bare base64
// string with the file name carried in the message text.
func DecodeFile(p Payload) (*FileAttachment, error) {
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("messaging: file message carries no data")
	}
	var fp filePayload
	if err := json.Unmarshal(p.Data, &fp); err == nil && fp.Content != "" {
		raw, err := base64.StdEncoding.DecodeString(fp.Content)
		if err != nil {
			return nil, fmt.Errorf("messaging: file content is not valid base64: %w", err)
		}
		return &FileAttachment{Content: raw, FileName: fp.FileName, ContentType: fp.ContentType}, nil
	}
	var encoded string
	if err := json.Unmarshal(p.Data, &encoded); err == nil && encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("messaging: file content is not valid base64: %w", err)
		}
		return &FileAttachment{Content: raw, FileName: p.Text}, nil
	}
	return nil, fmt.Errorf("messaging: file message carries no recognizable content")
}
