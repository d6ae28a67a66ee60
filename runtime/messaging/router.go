package messaging

import (
	"fmt"
	"strings"
	"sync"

	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
)

// maxTurnsPerRun bounds how many messages one workflow run handles before
// rolling over with continue-as-new, keeping event history short.
const maxTurnsPerRun = 500

type (
	// Handler processes a chat or data message. The returned text is sent
	// back to the participant automatically unless the handler calls
	// SkipResponse or returns empty text.
	Handler func(*Context) (string, error)

	// FileHandler processes a file message with its decoded attachment.
	FileHandler func(*Context, *FileAttachment) (string, error)

	// Handlers holds the per-type handler slots of one workflow type. Nil
	// slots drop their message type.
	Handlers struct {
		OnChat Handler
		OnData Handler
		OnFile FileHandler
	}

	// Router demultiplexes inbound conversation signals to the handlers
	// registered for each workflow type.
	Router struct {
		svc *Service

		mu     sync.RWMutex
		routes map[string]Handlers
	}
)

// NewRouter builds a router over the messaging service.
func NewRouter(svc *Service) *Router {
	return &Router{svc: svc, routes: make(map[string]Handlers)}
}

// Register installs the handlers for a workflow type. Registering the same
// type twice is a wiring mistake and fails.
func (r *Router) Register(workflowType string, h Handlers) error {
	if workflowType == "" {
		return fmt.Errorf("messaging: handler registration requires a workflow type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[workflowType]; exists {
		return fmt.Errorf("messaging: handlers already registered for %q", workflowType)
	}
	r.routes[workflowType] = h
	return nil
}

// HasHandlers reports whether the workflow type has handlers installed.
func (r *Router) HasHandlers(workflowType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[workflowType]
	return ok
}

func (r *Router) handlersFor(workflowType string) (Handlers, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.routes[workflowType]
	return h, ok
}

// Dispatch routes one inbound message to the handler registered for the
// surrounding workflow type. Unroutable messages are logged and dropped;
// handler failures are reported back to the participant rather than failing
// the workflow.
func (r *Router) Dispatch(wctx workflow.Context, msg InboundMessage) error {
	logger := workflow.GetLogger(wctx)
	workflowType := workflow.GetInfo(wctx).WorkflowType.Name
	handlers, ok := r.handlersFor(workflowType)
	if !ok {
		logger.Warn("no handlers registered for workflow type", "workflowType", workflowType)
		return nil
	}
	mc := NewContext(r.svc, executor.InWorkflow(wctx), msg)
	var (
		reply string
		err   error
	)
	switch strings.ToLower(msg.Payload.Type) {
	case TypeChat:
		if handlers.OnChat == nil {
			logger.Warn("dropping chat message without handler", "workflowType", workflowType)
			return nil
		}
		reply, err = handlers.OnChat(mc)
	case TypeData:
		if handlers.OnData == nil {
			logger.Warn("dropping data message without handler", "workflowType", workflowType)
			return nil
		}
		reply, err = handlers.OnData(mc)
	case TypeFile:
		if handlers.OnFile == nil {
			logger.Warn("dropping file message without handler", "workflowType", workflowType)
			return nil
		}
		file, decodeErr := DecodeFile(msg.Payload)
		if decodeErr != nil {
			logger.Error("file message could not be decoded", "error", decodeErr)
			return mc.Reply("Error: " + decodeErr.Error())
		}
		reply, err = handlers.OnFile(mc, file)
	default:
		logger.Warn("dropping message with unknown type",
			"workflowType", workflowType, "messageType", msg.Payload.Type)
		return nil
	}
	if err != nil {
		logger.Error("message handler failed",
			"workflowType", workflowType, "messageType", msg.Payload.Type, "error", err)
		if mc.ResponseSkipped() {
			return nil
		}
		return mc.Reply("Error: " + err.Error())
	}
	if reply != "" && !mc.ResponseSkipped() {
		return mc.Reply(reply)
	}
	return nil
}

// Loop is the body of a conversational workflow: it drains the inbound
// signal channel, dispatching each message, until the run is canceled or
// long enough that it rolls over with continue-as-new. Dispatch failures
// are logged and the loop keeps serving.
func (r *Router) Loop(wctx workflow.Context) error {
	logger := workflow.GetLogger(wctx)
	info := workflow.GetInfo(wctx)
	ch := workflow.GetSignalChannel(wctx, SignalInbound)

	turns := 0
	for turns < maxTurnsPerRun && !info.GetContinueAsNewSuggested() {
		var msg InboundMessage
		received := false
		selector := workflow.NewSelector(wctx)
		selector.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(wctx, &msg)
			received = true
		})
		selector.AddReceive(wctx.Done(), func(c workflow.ReceiveChannel, more bool) {
			c.Receive(wctx, nil)
		})
		selector.Select(wctx)
		if !received {
			logger.Info("conversation loop canceled", "workflowType", info.WorkflowType.Name)
			return wctx.Err()
		}
		turns++
		if err := r.Dispatch(wctx, msg); err != nil {
			logger.Error("message dispatch failed", "error", err)
		}
	}

	// Hand buffered signals to this run before rolling over so none are
	// lost across the boundary.
	for {
		var msg InboundMessage
		if !ch.ReceiveAsync(&msg) {
			break
		}
		if err := r.Dispatch(wctx, msg); err != nil {
			logger.Error("message dispatch failed", "error", err)
		}
	}
	return workflow.NewContinueAsNewError(wctx, info.WorkflowType.Name)
}
