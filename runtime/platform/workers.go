package platform

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// workerBundle is the worker pool of one activable definition: Workers
// engine workers polling the definition's queue, each hosting the workflow
// function and the full SDK activity bundle.
type workerBundle struct {
	queue   string
	workers []worker.Worker
	logger  telemetry.Logger

	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		for _, w := range b.workers {
			go func() {
				if err := w.Run(worker.InterruptCh()); err != nil {
					b.logger.Error(context.Background(), "engine worker exited", "queue", b.queue, "err", err)
				}
			}()
		}
	})
}

func (b *workerBundle) stop() {
	for _, w := range b.workers {
		w.Stop()
	}
}

// RunAll uploads every registered definition, starts one worker pool per
// activable definition on its derived queue and blocks until the context is
// cancelled, then stops the pools. Registration is closed once RunAll is
// entered. Each worker hosts the definition's workflow function plus the SDK
// activity bundle, so any hosted workflow can dispatch any service call.
func (p *Platform) RunAll(ctx context.Context) error {
	ctx = telemetry.LogContext(ctx, p.logLevel)

	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return fmt.Errorf("platform: workers already running")
	}
	p.running = true
	p.runMu.Unlock()
	started := false
	defer func() {
		// A failed startup may be retried; registration stays closed.
		if !started {
			p.runMu.Lock()
			p.running = false
			p.runMu.Unlock()
		}
	}()

	p.Agents.close()
	var activable []*Definition
	for _, agent := range p.Agents.All() {
		for _, def := range agent.Workflows.Definitions() {
			if def.Activable {
				activable = append(activable, def)
			}
		}
	}
	if len(activable) == 0 {
		return fmt.Errorf("%w: no activable workflow definitions registered", ErrInvalidConfig)
	}

	if err := p.UploadDefinitions(ctx); err != nil {
		return err
	}
	cli, err := p.flow.Raw(ctx)
	if err != nil {
		return err
	}

	bundles := make([]*workerBundle, 0, len(activable))
	for _, def := range activable {
		bundle := &workerBundle{queue: def.Queue(), logger: p.logger}
		for i := 0; i < def.Workers; i++ {
			w := worker.New(cli, bundle.queue, worker.Options{Identity: p.opts.Identity})
			w.RegisterWorkflowWithOptions(def.fn, workflow.RegisterOptions{Name: def.WorkflowType})
			p.registry.Apply(w)
			bundle.workers = append(bundle.workers, w)
		}
		bundles = append(bundles, bundle)
		p.logger.Debug(ctx, "worker pool prepared",
			"queue", bundle.queue, "workflowType", def.WorkflowType, "workers", def.Workers)
	}

	for _, b := range bundles {
		b.start()
	}
	started = true
	p.logger.Info(ctx, "workers running", "pools", len(bundles), "tenant", p.tenantID)

	<-ctx.Done()
	p.logger.Info(context.Background(), "stopping workers", "pools", len(bundles))
	for _, b := range bundles {
		b.stop()
	}
	return nil
}
