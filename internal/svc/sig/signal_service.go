package sig

import (
	"os"
	"os/signal"
	"sync/atomic"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
)

// interrupted is the process-global shutdown flag. The signal handler
// path only ever stores into it; no logging or allocation happens on
// delivery.
var interrupted atomic.Bool

// SignalService turns SIGINT into cooperative shutdown: it raises the
// process-global flag, interrupts its own runner and broadcasts a
// shutdown mail to every other runner exactly once.
type SignalService struct {
	kernel.ServiceBase
	ctx       *kernel.RunnerContext
	ch        chan os.Signal
	announced bool
	log       *logger.Logger
}

func NewFactory() kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		return &SignalService{
			ServiceBase: kernel.NewServiceBase(kernel.KindSignal, kernel.KindActor.ID),
			ctx:         ctx,
			log:         ctx.Log().With("service", kernel.KindSignal.Name),
		}, nil
	}
}

func (s *SignalService) OnCreate() *core.Error {
	interrupted.Store(false)
	s.announced = false
	s.ch = make(chan os.Signal, 1)
	signal.Notify(s.ch, os.Interrupt)
	return nil
}

func (s *SignalService) OnDestroy() {
	signal.Stop(s.ch)
	signal.Reset(os.Interrupt)
}

func (s *SignalService) OnUpdate() {
	select {
	case <-s.ch:
		interrupted.Store(true)
	default:
	}

	if !interrupted.Load() {
		return
	}

	s.ctx.Interrupt()
	if s.announced {
		return
	}
	actor, ok := kernel.GetService[*kernel.ActorService](s.ctx)
	if !ok {
		s.log.Warnf("no actor service; shutdown not broadcast")
		s.announced = true
		return
	}
	s.log.Infof("interrupt received, broadcasting shutdown")
	actor.BroadcastMail(kernel.EventShutdown, flatjson.New())
	s.announced = true
}

// IsInterrupted reports the process-global flag.
func (s *SignalService) IsInterrupted() bool {
	return interrupted.Load()
}
