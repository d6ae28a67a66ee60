package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

// Context is handed to every message handler. It carries the parsed inbound
// message plus the identity of the workflow handling it, and knows how to
// reply, fetch history, and forward the conversation to other agents. All
// I/O goes through the executor scope the context was built with, so
// handlers stay deterministic inside workflow code.
type Context struct {
	svc     *Service
	scope   executor.Scope
	info    executor.Info
	inbound InboundMessage
	skipped bool
	a2a     *DispatchResult
}

// NewContext builds a handler context for the inbound message. The scope
// decides how service calls execute; identity comes from the scope.
func NewContext(svc *Service, sc executor.Scope, msg InboundMessage) *Context {
	if msg.Payload.RequestID != "" {
		sc = executor.WithRequestID(sc, msg.Payload.RequestID)
	}
	return &Context{svc: svc, scope: sc, info: sc.Info(), inbound: msg}
}

// Scope exposes the executor scope so handlers can call other services.
func (c *Context) Scope() executor.Scope { return c.scope }

// Message returns the inbound payload.
func (c *Context) Message() Payload { return c.inbound.Payload }

// Inbound returns the full signal, including the source workflow when the
// message was forwarded agent-to-agent.
func (c *Context) Inbound() InboundMessage { return c.inbound }

// Text returns the message text.
func (c *Context) Text() string { return c.inbound.Payload.Text }

// Data returns the raw message data.
func (c *Context) Data() json.RawMessage { return c.inbound.Payload.Data }

// DecodeData unmarshals the message data into v.
func (c *Context) DecodeData(v any) error {
	if len(c.inbound.Payload.Data) == 0 {
		return fmt.Errorf("messaging: message carries no data")
	}
	if err := json.Unmarshal(c.inbound.Payload.Data, v); err != nil {
		return fmt.Errorf("messaging: decode message data: %w", err)
	}
	return nil
}

// File decodes the attachment of a file message.
func (c *Context) File() (*FileAttachment, error) {
	return DecodeFile(c.inbound.Payload)
}

// ThreadID identifies the conversation history stream.
func (c *Context) ThreadID() string { return c.inbound.Payload.ThreadID }

// ParticipantID identifies the conversation participant.
func (c *Context) ParticipantID() string { return c.inbound.Payload.ParticipantID }

// RequestID correlates this turn with the originating request.
func (c *Context) RequestID() string { return c.inbound.Payload.RequestID }

// Hint returns the free-form marker attached to the message.
func (c *Context) Hint() string { return c.inbound.Payload.Hint }

// TenantID is the tenant the handling workflow belongs to.
func (c *Context) TenantID() string { return c.info.TenantID }

// AgentName is the agent handling the message.
func (c *Context) AgentName() string { return c.info.AgentName }

// WorkflowID is the handling workflow execution id.
func (c *Context) WorkflowID() string { return c.info.WorkflowID }

// WorkflowType is the handling workflow type.
func (c *Context) WorkflowType() string { return c.info.WorkflowType }

// IsAgentToAgent reports whether another workflow forwarded this message.
func (c *Context) IsAgentToAgent() bool { return c.inbound.IsAgentToAgent() }

// ReplyOption adjusts an outbound reply before it is sent.
type ReplyOption func(*OutboundMessage) error

// WithData attaches structured data to the reply.
func WithData(data any) ReplyOption {
	return func(m *OutboundMessage) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("messaging: marshal reply data: %w", err)
		}
		m.Data = raw
		return nil
	}
}

// WithHint attaches a marker the next turn can recover from history.
func WithHint(hint string) ReplyOption {
	return func(m *OutboundMessage) error {
		m.Hint = hint
		return nil
	}
}

// WithScope overrides the history segment the reply lands in. The reply
// inherits the incoming message's scope by default.
func WithScope(scope string) ReplyOption {
	return func(m *OutboundMessage) error {
		m.Scope = scope
		return nil
	}
}

// Reply posts a response to the conversation stream, addressed back to the
// participant this message came from.
func (c *Context) Reply(text string, opts ...ReplyOption) error {
	out := OutboundMessage{
		Agent:         c.info.AgentName,
		WorkflowID:    c.info.WorkflowID,
		WorkflowType:  c.info.WorkflowType,
		ThreadID:      c.inbound.Payload.ThreadID,
		ParticipantID: c.inbound.Payload.ParticipantID,
		RequestID:     c.inbound.Payload.RequestID,
		Text:          text,
		Scope:         c.inbound.Payload.Scope,
		TenantID:      c.info.TenantID,
	}
	for _, opt := range opts {
		if err := opt(&out); err != nil {
			return err
		}
	}
	return c.svc.SendOutbound(c.scope, out)
}

// SkipResponse suppresses the automatic reply for this turn. The handler's
// returned text is discarded.
func (c *Context) SkipResponse() { c.skipped = true }

// ResponseSkipped reports whether the handler opted out of the automatic
// reply.
func (c *Context) ResponseSkipped() bool { return c.skipped }

// History fetches one page of this conversation's stream, newest first.
func (c *Context) History(page, pageSize int) ([]HistoryMessage, error) {
	return c.svc.History(c.scope, HistoryRequest{
		TenantID:      c.info.TenantID,
		Agent:         c.info.AgentName,
		WorkflowType:  c.info.WorkflowType,
		ThreadID:      c.inbound.Payload.ThreadID,
		ParticipantID: c.inbound.Payload.ParticipantID,
		Scope:         c.inbound.Payload.Scope,
		Page:          page,
		PageSize:      pageSize,
	})
}

// PromptHistory fetches recent history and shapes it into a model prompt
// transcript, oldest first, with the current message deduplicated.
func (c *Context) PromptHistory(pageSize int) ([]PromptMessage, error) {
	history, err := c.History(1, pageSize)
	if err != nil {
		return nil, err
	}
	return BuildPromptHistory(history, c.inbound.Payload.Text), nil
}

// LastTaskIDHint returns the task id most recently hinted at in history, or
// empty when none was recorded.
func (c *Context) LastTaskIDHint() (string, error) {
	history, err := c.History(1, c.svc.pageSize)
	if err != nil {
		return "", err
	}
	id, _ := LastTaskIDHint(history)
	return id, nil
}

// LastHint returns the newest hint in history, or empty when none exists.
func (c *Context) LastHint() (string, error) {
	history, err := c.History(1, c.svc.pageSize)
	if err != nil {
		return "", err
	}
	hint, _ := LastHint(history, "")
	return hint, nil
}

// SendChatToBuiltIn forwards text to the named built-in workflow of another
// agent. The name may be a built-in display name or a bare kind such as
// "Conversational". Usage recorded after this call attributes to the target
// workflow.
func (c *Context) SendChatToBuiltIn(targetAgent, workflowName, text string) error {
	return c.sendToBuiltIn(targetAgent, workflowName, Payload{Text: text, Type: TypeChat})
}

// SendDataToBuiltIn forwards structured data to the named built-in workflow
// of another agent.
func (c *Context) SendDataToBuiltIn(targetAgent, workflowName string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("messaging: marshal dispatch data: %w", err)
	}
	return c.sendToBuiltIn(targetAgent, workflowName, Payload{Data: raw, Type: TypeData})
}

// A2ATarget names the workflow the last agent-to-agent send reached.
func (c *Context) A2ATarget() (workflowID, workflowType string, ok bool) {
	if c.a2a == nil {
		return "", "", false
	}
	return c.a2a.TargetWorkflowID, c.a2a.TargetWorkflowType, true
}

func (c *Context) sendToBuiltIn(targetAgent, workflowName string, payload Payload) error {
	if !flow.IsBuiltinWorkflowName(workflowName) {
		workflowName = flow.BuiltinWorkflowName(workflowName)
	}
	payload.Agent = targetAgent
	payload.ParticipantID = c.inbound.Payload.ParticipantID
	payload.RequestID = c.inbound.Payload.RequestID
	res, err := c.svc.Dispatch(c.scope, DispatchRequest{
		TenantID:           c.info.TenantID,
		TargetAgent:        targetAgent,
		TargetWorkflowName: workflowName,
		UserID:             c.info.UserID,
		SourceAgent:        c.info.AgentName,
		SourceWorkflowID:   c.info.WorkflowID,
		SourceWorkflowType: c.info.WorkflowType,
		Payload:            payload,
	})
	if err != nil {
		return err
	}
	c.a2a = res
	return nil
}
