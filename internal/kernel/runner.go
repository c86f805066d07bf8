package kernel

import (
	"runtime"
	"sync"
	"time"

	"troupe/internal/core"
)

// updateInterval paces the cooperative tick loop. Every service update
// is non-blocking, so without a pause an idle runner would spin a
// core.
const updateInterval = time.Millisecond

// Runner hosts a service map and drives it with a single-threaded
// cooperative update loop. Only the thread calling Run ever touches
// the services.
type Runner struct {
	ctx *RunnerContext
}

func (r *Runner) Context() *RunnerContext {
	return r.ctx
}

// Run creates the services, ticks them until the context is
// interrupted, then destroys them in reverse order. An interrupt
// yields the Interrupted error so callers can tell cooperative
// shutdown from a real failure.
func (r *Runner) Run() *core.Error {
	if err := r.ctx.services.InvokeCreate(); err != nil {
		return core.Propagate(err)
	}

	for !r.ctx.Interrupted() {
		r.ctx.services.InvokeUpdate()
		time.Sleep(updateInterval)
	}

	r.ctx.services.InvokeDestroy()
	return core.New(CodeInterrupted)
}

// ThreadRunner runs a Runner on its own dedicated OS thread. The
// thread is the sole mutator of the services it hosts.
type ThreadRunner struct {
	runner *Runner

	mu   sync.Mutex
	done chan struct{}
}

func NewThreadRunner(runner *Runner) *ThreadRunner {
	return &ThreadRunner{runner: runner}
}

func (t *ThreadRunner) Context() *RunnerContext {
	return t.runner.ctx
}

// Start spawns the worker thread. It fails when already running.
func (t *ThreadRunner) Start() *core.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return core.New(CodeAlreadyStarted)
	}
	t.done = make(chan struct{})
	go t.threadMain()
	return nil
}

// Stop joins the worker thread, blocking until its runner returns. It
// fails when the runner was never started.
func (t *ThreadRunner) Stop() *core.Error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return core.New(CodeNotStarted)
	}
	<-done
	t.mu.Lock()
	t.done = nil
	t.mu.Unlock()
	return nil
}

func (t *ThreadRunner) threadMain() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	log := t.runner.ctx.log
	err := t.runner.Run()
	switch {
	case err == nil || err.Is(CodeInterrupted):
		log.Infof("runner finished")
	default:
		log.Errorf("runner failed: %v", err)
	}
}
