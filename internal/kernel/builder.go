package kernel

import (
	"troupe/internal/core"
	"troupe/internal/logger"
)

// RunnerBuilder accumulates service factories for a named runner.
// Builders come from Engine.CreateRunnerBuilder so the resulting
// runner can reach the actor system.
type RunnerBuilder struct {
	name      string
	engine    *Engine
	factories []Factory
}

// AddService appends a factory; services are created in dependency
// order regardless of registration order.
func (b *RunnerBuilder) AddService(factory Factory) *RunnerBuilder {
	b.factories = append(b.factories, factory)
	return b
}

func (b *RunnerBuilder) buildContext() (*RunnerContext, *core.Error) {
	ctx := &RunnerContext{
		name:   b.name,
		engine: b.engine,
		log:    logger.New("runner:" + b.name),
	}
	sm, err := newServiceMap(ctx, b.factories).Unwrap()
	if err != nil {
		return nil, core.Propagate(err)
	}
	ctx.services = sm
	return ctx, nil
}

// BuildRunner assembles a runner that executes on the calling thread.
func (b *RunnerBuilder) BuildRunner() core.Result[*Runner] {
	ctx, err := b.buildContext()
	if err != nil {
		return core.Err[*Runner](err)
	}
	return core.Ok(&Runner{ctx: ctx})
}

// BuildThreadRunner assembles a runner backed by a dedicated thread
// and hands its lifetime to the engine.
func (b *RunnerBuilder) BuildThreadRunner() core.Result[*ThreadRunner] {
	ctx, err := b.buildContext()
	if err != nil {
		return core.Err[*ThreadRunner](err)
	}
	tr := NewThreadRunner(&Runner{ctx: ctx})
	if b.engine != nil {
		b.engine.trackRunner(tr)
	}
	return core.Ok(tr)
}
