package platform

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"sync"

	"github.com/xiansaiplatform/sdk-go/runtime/cache"
)

// Server endpoints of the definition registry.
const (
	definitionsPath      = "/api/agent/definitions"
	definitionsCheckPath = "/api/agent/definitions/check"
)

type (
	// definitionPayload is the upload shape the server expects.
	definitionPayload struct {
		Agent        string      `json:"agent"`
		WorkflowType string      `json:"workflowType"`
		Name         string      `json:"name"`
		SystemScoped bool        `json:"systemScoped"`
		Workers      int         `json:"workers"`
		Description  string      `json:"description,omitempty"`
		Parameters   []Parameter `json:"parameters,omitempty"`
	}

	// Parameter describes one workflow input in the definition upload, so
	// the portal can render start forms.
	Parameter struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}

	// uploader pushes workflow definitions to the server at most once per
	// workflow type per process. The definitions cache aspect additionally
	// suppresses re-checks across processes for its TTL.
	uploader struct {
		platform *Platform

		mu   sync.Mutex
		done map[string]struct{}
	}
)

// uploadMarker is the cache value recording that a workflow type is known to
// the server. Only presence matters.
var uploadMarker = []byte("1")

// UploadDefinitions pushes every registered definition to the server,
// skipping types already known there. RunAll calls it before starting
// workers; calling it directly is useful for registration-only processes.
func (p *Platform) UploadDefinitions(ctx context.Context) error {
	up := p.definitionUploads()
	for _, agent := range p.Agents.All() {
		for _, def := range agent.Workflows.Definitions() {
			if err := up.upload(ctx, def); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Platform) definitionUploads() *uploader {
	p.uploadsOnce.Do(func() {
		p.uploads = &uploader{platform: p, done: make(map[string]struct{})}
	})
	return p.uploads
}

// upload checks the server for the definition's workflow type and posts the
// definition when it is new. Each type settles at most once per process.
func (u *uploader) upload(ctx context.Context, def *Definition) error {
	u.mu.Lock()
	if _, ok := u.done[def.WorkflowType]; ok {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	p := u.platform
	if _, ok := p.cache.Get(ctx, cache.AspectDefinitions, def.WorkflowType); ok {
		u.markDone(def.WorkflowType)
		return nil
	}

	query := url.Values{"workflowType": {def.WorkflowType}}
	exists, err := p.transport.GetJSON(ctx, definitionsCheckPath, query, nil)
	if err != nil {
		return fmt.Errorf("platform: check definition %s: %w", def.WorkflowType, err)
	}
	if !exists {
		payload := definitionPayload{
			Agent:        def.Agent,
			WorkflowType: def.WorkflowType,
			Name:         def.DisplayName,
			SystemScoped: def.SystemScoped,
			Workers:      def.Workers,
			Description:  def.Description,
			Parameters:   workflowParameters(def.fn),
		}
		if _, err := p.transport.PostJSON(ctx, definitionsPath, payload, nil); err != nil {
			return fmt.Errorf("platform: upload definition %s: %w", def.WorkflowType, err)
		}
		p.logger.Info(ctx, "workflow definition uploaded", "workflowType", def.WorkflowType)
	} else {
		p.logger.Debug(ctx, "workflow definition already known", "workflowType", def.WorkflowType)
	}

	p.cache.Set(ctx, cache.AspectDefinitions, def.WorkflowType, uploadMarker)
	u.markDone(def.WorkflowType)
	return nil
}

func (u *uploader) markDone(workflowType string) {
	u.mu.Lock()
	u.done[workflowType] = struct{}{}
	u.mu.Unlock()
}

// workflowParameters derives the upload parameter list from the workflow
// function signature: every input after the workflow context, typed by its
// Go type name. Reflection cannot recover argument names, so parameters are
// numbered.
func workflowParameters(fn any) []Parameter {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil
	}
	var params []Parameter
	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in.Kind() == reflect.Interface {
			// workflow.Context
			continue
		}
		params = append(params, Parameter{
			Name: fmt.Sprintf("arg%d", len(params)+1),
			Type: in.String(),
		})
	}
	return params
}
