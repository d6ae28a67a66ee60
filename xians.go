// Package xians is the single-import entry point of the SDK. Connect wires
// the agent server and the flow engine and returns the platform handle agents
// are registered on; the runtime/ subpackages carry the full surface. This
// package re-exports what a typical agent process touches at startup.
package xians

import (
	"context"

	"github.com/xiansaiplatform/sdk-go/runtime/messaging"
	"github.com/xiansaiplatform/sdk-go/runtime/platform"
)

// Version is the SDK release version.
const Version = "0.6.0"

// Built-in workflow kinds accepted by Agent.Workflows.DefineBuiltIn.
const (
	KindConversational = platform.KindConversational
	KindSupervisor     = platform.KindSupervisor
	KindIntegrator     = platform.KindIntegrator
	KindWeb            = platform.KindWeb
	KindFileUpload     = platform.KindFileUpload
)

type (
	// Options configures Connect.
	Options = platform.Options

	// Platform is the connected SDK handle.
	Platform = platform.Platform

	// AgentConfig describes an agent to register.
	AgentConfig = platform.AgentConfig

	// Agent is a registered agent with its workflows and schedules.
	Agent = platform.Agent

	// Definition is one workflow an agent exposes.
	Definition = platform.Definition

	// DefinitionOption tweaks a workflow definition at define time.
	DefinitionOption = platform.DefinitionOption

	// Handlers binds per-type conversation handlers to a workflow
	// definition via Definition.Handle.
	Handlers = messaging.Handlers

	// Handler consumes one chat or data message.
	Handler = messaging.Handler

	// FileHandler consumes one file message with its decoded attachment.
	FileHandler = messaging.FileHandler

	// MessageContext carries one inbound message through a handler.
	MessageContext = messaging.Context
)

// Sentinel errors surfaced by Connect and registration.
var (
	ErrInvalidConfig      = platform.ErrInvalidConfig
	ErrDuplicateAgent     = platform.ErrDuplicateAgent
	ErrRegistrationClosed = platform.ErrRegistrationClosed
)

// Definition options.
var (
	WithWorkers     = platform.WithWorkers
	WithActivable   = platform.WithActivable
	WithIDPostfix   = platform.WithIDPostfix
	WithDescription = platform.WithDescription
)

// Connect validates opts, connects the server transport and the flow engine
// and returns the platform handle. Register agents on it, then call RunAll to
// host their workers.
func Connect(ctx context.Context, opts Options) (*Platform, error) {
	return platform.New(ctx, opts)
}

// ConnectFromEnv is Connect with options read from the process environment
// (XIANS_SERVER_URL, XIANS_API_KEY or XIANS_AGENT_CERTIFICATE, ...).
func ConnectFromEnv(ctx context.Context) (*Platform, error) {
	return platform.New(ctx, platform.FromEnv())
}

// FromEnv reads Options from the documented environment variables, for
// callers that adjust them before Connect.
func FromEnv() Options {
	return platform.FromEnv()
}
