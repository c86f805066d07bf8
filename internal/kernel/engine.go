package kernel

import (
	"sync"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

type engineState int32

const (
	engineCreated engineState = iota
	engineRunning
	engineStopped
)

// Engine is the top-level lifecycle owner: it holds the actor system
// and every thread runner it has handed out. Runners keep a
// non-owning reference back, so ownership stays a tree.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	actors  *ActorSystem
	runners []*ThreadRunner
	log     *logger.Logger
}

func NewEngine() *Engine {
	return &Engine{
		actors: NewActorSystem(),
		log:    logger.New("engine"),
	}
}

// Start marks the engine running so it accepts runner creation. The
// actor system itself is created with the engine.
func (e *Engine) Start() *core.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != engineCreated {
		return core.New(CodeAlreadyStarted)
	}
	e.state = engineRunning
	return nil
}

// Stop closes the actor system, so sends and registrations made while
// stopping are rejected, then joins every thread runner in reverse
// creation order. Stop is terminal.
func (e *Engine) Stop() *core.Error {
	e.mu.Lock()
	if e.state != engineRunning {
		e.mu.Unlock()
		return core.New(CodeNotStarted)
	}
	e.state = engineStopped
	runners := make([]*ThreadRunner, len(e.runners))
	copy(runners, e.runners)
	e.mu.Unlock()

	e.actors.Close()
	for i := len(runners) - 1; i >= 0; i-- {
		runners[i].Context().Interrupt()
		if err := runners[i].Stop(); err != nil && !err.Is(CodeNotStarted) {
			e.log.Errorf("failed to stop runner %s: %v", runners[i].Context().Name(), err)
		}
	}

	e.actors.Close()
	return nil
}

func (e *Engine) Actors() *ActorSystem {
	return e.actors
}

// CreateRunnerBuilder hands out a builder for a named runner. It is
// rejected unless the engine is running.
func (e *Engine) CreateRunnerBuilder(name string) (*RunnerBuilder, *core.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != engineRunning {
		return nil, core.NewWith(CodeEngineNotRunning,
			flatjson.New().Set("runner", name))
	}
	return &RunnerBuilder{name: name, engine: e}, nil
}

func (e *Engine) trackRunner(runner *ThreadRunner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners = append(e.runners, runner)
}
