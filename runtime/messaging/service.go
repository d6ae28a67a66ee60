package messaging

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	outboundPath      = "/api/agent/conversation/outbound"
	historyPath       = "/api/agent/conversation/history"
	authorizationPath = "/api/agent/conversation/authorization"
)

// Executor dispatch names for the messaging operations.
const (
	opSend      = "messaging.send"
	opHistory   = "messaging.history"
	opDispatch  = "messaging.dispatch"
	opAuthorize = "messaging.authorize"
)

// defaultHistoryPageSize bounds prompt history fetches when the caller does
// not pick a size.
const defaultHistoryPageSize = 20

type (
	// Options configures the messaging service.
	Options struct {
		// Transport is the authenticated server client. Required.
		Transport *transport.Client
		// Flow sends agent-to-agent signals. Optional; without it Dispatch
		// fails at call time.
		Flow *flow.Client
		// Registry receives the executor operations. Optional for pure
		// client processes.
		Registry *executor.Registry
		// Logger reports drops and dispatches. Optional.
		Logger telemetry.Logger
		// HistoryPageSize is the default page size for prompt history.
		HistoryPageSize int
	}

	// Service moves conversation traffic between the agent and the server.
	Service struct {
		transport *transport.Client
		flow      *flow.Client
		logger    telemetry.Logger
		pageSize  int
	}

	// HistoryRequest selects one conversation stream. Agent and workflow
	// type are required; thread or participant narrows the stream and scope
	// segments it.
	HistoryRequest struct {
		TenantID      string `json:"tenantId,omitempty"`
		Agent         string `json:"agent"`
		WorkflowType  string `json:"workflowType"`
		ThreadID      string `json:"threadId,omitempty"`
		ParticipantID string `json:"participantId,omitempty"`
		Scope         string `json:"scope,omitempty"`
		Page          int    `json:"page"`
		PageSize      int    `json:"pageSize"`
	}

	// DispatchRequest forwards a conversation message to another agent's
	// workflow, starting it when it is not running. IDPostfix pins the
	// target execution and defaults to the payload's participant, so each
	// participant converses with one instance.
	DispatchRequest struct {
		TenantID           string  `json:"tenantId"`
		TargetAgent        string  `json:"targetAgent"`
		TargetWorkflowName string  `json:"targetWorkflowName"`
		IDPostfix          string  `json:"idPostfix,omitempty"`
		UserID             string  `json:"userId,omitempty"`
		SourceAgent        string  `json:"sourceAgent,omitempty"`
		SourceWorkflowID   string  `json:"sourceWorkflowId,omitempty"`
		SourceWorkflowType string  `json:"sourceWorkflowType,omitempty"`
		Payload            Payload `json:"payload"`
	}

	// DispatchResult names the execution that received the message. Usage
	// reports attribute to the target, not the sender.
	DispatchResult struct {
		TargetAgent        string `json:"targetAgent"`
		TargetWorkflowID   string `json:"targetWorkflowId"`
		TargetWorkflowType string `json:"targetWorkflowType"`
	}

	authorizeRequest struct {
		Token string `json:"token,omitempty"`
	}
)

// New constructs the service and registers its executor operations.
func New(opts Options) (*Service, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("messaging: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	pageSize := opts.HistoryPageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}
	s := &Service{transport: opts.Transport, flow: opts.Flow, logger: logger, pageSize: pageSize}
	if opts.Registry != nil {
		for op, fn := range map[string]any{
			opSend:      s.send,
			opHistory:   s.history,
			opDispatch:  s.dispatch,
			opAuthorize: s.authorize,
		} {
			if err := opts.Registry.Register(op, fn); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// SendOutbound posts a reply to the conversation stream.
func (s *Service) SendOutbound(sc executor.Scope, msg OutboundMessage) error {
	_, err := executor.Execute(sc, opSend, msg, s.send)
	return err
}

// History fetches one page of the conversation stream, newest first.
func (s *Service) History(sc executor.Scope, req HistoryRequest) ([]HistoryMessage, error) {
	return executor.Execute(sc, opHistory, req, s.history)
}

// Dispatch forwards the payload to another agent's workflow and reports
// which execution received it.
func (s *Service) Dispatch(sc executor.Scope, req DispatchRequest) (*DispatchResult, error) {
	return executor.Execute(sc, opDispatch, req, s.dispatch)
}

// Authorize exchanges an authorization token for a scoped conversation
// grant. An empty token asks the server to mint a fresh one for the calling
// identity. Returns nil when the server does not recognize the token.
func (s *Service) Authorize(sc executor.Scope, token string) (*Authorization, error) {
	return executor.Execute(sc, opAuthorize, authorizeRequest{Token: token}, s.authorize)
}

func (s *Service) send(ctx context.Context, msg OutboundMessage) (bool, error) {
	if msg.Agent == "" || msg.WorkflowID == "" || msg.WorkflowType == "" {
		return false, fmt.Errorf("messaging: outbound message requires agent, workflow id and type")
	}
	if msg.ParticipantID == "" {
		return false, fmt.Errorf("messaging: outbound message requires a participant")
	}
	if _, err := s.client(msg.TenantID).PostJSON(ctx, outboundPath, msg, nil); err != nil {
		return false, fmt.Errorf("messaging: send outbound: %w", err)
	}
	return true, nil
}

func (s *Service) history(ctx context.Context, req HistoryRequest) ([]HistoryMessage, error) {
	if req.Agent == "" || req.WorkflowType == "" {
		return nil, fmt.Errorf("messaging: history requires agent and workflow type")
	}
	if req.ThreadID == "" && req.ParticipantID == "" {
		return nil, fmt.Errorf("messaging: history requires a thread or participant")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = s.pageSize
	}
	q := url.Values{}
	q.Set("agent", req.Agent)
	q.Set("workflowType", req.WorkflowType)
	if req.ThreadID != "" {
		q.Set("threadId", req.ThreadID)
	}
	if req.ParticipantID != "" {
		q.Set("participantId", req.ParticipantID)
	}
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("pageSize", strconv.Itoa(req.PageSize))
	var out []HistoryMessage
	if _, err := s.client(req.TenantID).GetJSON(ctx, historyPath, q, &out); err != nil {
		return nil, fmt.Errorf("messaging: history: %w", err)
	}
	return out, nil
}

func (s *Service) dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if s.flow == nil {
		return nil, fmt.Errorf("messaging: dispatch requires a flow client")
	}
	if req.TargetAgent == "" || req.TargetWorkflowName == "" {
		return nil, fmt.Errorf("messaging: dispatch requires a target agent and workflow name")
	}
	if err := flow.ValidateTenantID(req.TenantID); err != nil {
		return nil, err
	}
	if err := validateType(req.Payload.Type); err != nil {
		return nil, err
	}
	workflowType := flow.WorkflowType(req.TargetAgent, req.TargetWorkflowName)
	postfix := req.IDPostfix
	if postfix == "" {
		postfix = req.Payload.ParticipantID
	}
	workflowID := flow.BuildWorkflowID(req.TenantID, workflowType, postfix)
	signal := InboundMessage{
		Payload:            req.Payload,
		SourceAgent:        req.SourceAgent,
		SourceWorkflowID:   req.SourceWorkflowID,
		SourceWorkflowType: req.SourceWorkflowType,
	}
	start := flow.StartWorkflowRequest{
		ID:           workflowID,
		WorkflowType: workflowType,
		TaskQueue:    flow.TaskQueue(workflowType, false, req.TenantID),
		Memo:         flow.NewMemo(req.TenantID, req.UserID, req.TargetAgent, false),
	}
	if _, err := s.flow.SignalWithStart(ctx, start, SignalInbound, signal); err != nil {
		return nil, fmt.Errorf("messaging: dispatch to %s: %w", workflowType, err)
	}
	s.logger.Debug(ctx, "forwarded message to agent",
		"targetWorkflowId", workflowID, "messageType", req.Payload.Type)
	return &DispatchResult{
		TargetAgent:        req.TargetAgent,
		TargetWorkflowID:   workflowID,
		TargetWorkflowType: workflowType,
	}, nil
}

func (s *Service) authorize(ctx context.Context, req authorizeRequest) (*Authorization, error) {
	path := authorizationPath
	if req.Token != "" {
		path += "/" + url.PathEscape(req.Token)
	}
	var out Authorization
	found, err := s.transport.GetJSON(ctx, path, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("messaging: authorization: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

// client narrows the transport to the request tenant when it differs from
// the default identity.
func (s *Service) client(tenant string) *transport.Client {
	if tenant != "" && tenant != s.transport.Tenant() {
		return s.transport.Scoped(tenant)
	}
	return s.transport
}

// validateType rejects unknown message types before dispatch.
func validateType(messageType string) error {
	switch strings.ToLower(messageType) {
	case TypeChat, TypeData, TypeFile:
		return nil
	default:
		return fmt.Errorf("messaging: unknown message type %q", messageType)
	}
}
