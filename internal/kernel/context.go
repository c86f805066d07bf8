package kernel

import (
	"sync/atomic"

	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

// RunnerContext is the per-runner shared state handed to every
// service factory. It carries the runner name, the owned service map
// and a non-owning reference back to the engine.
type RunnerContext struct {
	name        string
	engine      *Engine
	services    *ServiceMap
	interrupted atomic.Bool
	log         *logger.Logger
}

func (c *RunnerContext) Name() string {
	return c.name
}

// Engine returns the owning engine, or nil for contexts built without
// one (tests mostly).
func (c *RunnerContext) Engine() *Engine {
	return c.engine
}

func (c *RunnerContext) Services() *ServiceMap {
	return c.services
}

func (c *RunnerContext) Log() *logger.Logger {
	return c.log
}

// Interrupt requests cooperative shutdown; the runner loop exits
// after the current tick.
func (c *RunnerContext) Interrupt() {
	c.interrupted.Store(true)
}

func (c *RunnerContext) Interrupted() bool {
	return c.interrupted.Load()
}

// InvokeEvent delivers an event synchronously to every collocated
// service in topological order.
func (c *RunnerContext) InvokeEvent(event string, body *flatjson.Map) {
	c.services.InvokeEvent(event, body)
}

// GetService looks up a collocated service by its concrete type. The
// returned handle is non-owning.
func GetService[S Service](c *RunnerContext) (S, bool) {
	var zero S
	if c.services == nil {
		return zero, false
	}
	for _, svc := range c.services.ordered {
		if s, ok := svc.(S); ok {
			return s, true
		}
	}
	return zero, false
}
