package kernel

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

// ActorService connects a runner to the actor system. On create it
// registers the runner name and takes ownership of the receiving half
// of the mailbox; on update it drains pending mail into the local
// service map.
type ActorService struct {
	ServiceBase
	ctx      *RunnerContext
	mailbox  Mailbox
	capacity int
	log      *logger.Logger
}

// NewActorServiceFactory builds the actor service with the default
// mailbox capacity.
func NewActorServiceFactory() Factory {
	return NewActorServiceFactoryWithCapacity(DefaultMailboxCapacity)
}

func NewActorServiceFactoryWithCapacity(capacity int) Factory {
	return func(ctx *RunnerContext) (Service, *core.Error) {
		return &ActorService{
			ServiceBase: NewServiceBase(KindActor),
			ctx:         ctx,
			capacity:    capacity,
			log:         ctx.log.With("service", KindActor.Name),
		}, nil
	}
}

// Name is the actor name this runner is registered under.
func (s *ActorService) Name() string {
	return s.ctx.Name()
}

func (s *ActorService) OnCreate() *core.Error {
	engine := s.ctx.Engine()
	if engine == nil {
		return core.NewWith(core.CodeFailed,
			flatjson.New().Set("message", "runner has no engine"))
	}
	mailbox, err := engine.Actors().Register(s.ctx.Name(), s.capacity).Unwrap()
	if err != nil {
		return core.Propagate(err)
	}
	s.mailbox = mailbox
	return nil
}

func (s *ActorService) OnDestroy() {
	if engine := s.ctx.Engine(); engine != nil {
		engine.Actors().Deregister(s.ctx.Name())
	}
	discarded := 0
	for {
		if _, ok := s.mailbox.Receiver.TryReceive(); !ok {
			break
		}
		discarded++
	}
	if discarded > 0 {
		s.log.Warnf("discarded %d undelivered mails", discarded)
	}
}

// OnUpdate drains the mailbox without blocking. Each mail becomes a
// local event carrying the sender name under the reserved from key. A
// shutdown mail additionally interrupts the runner so runners without
// a signal service still exit.
func (s *ActorService) OnUpdate() {
	for {
		mail, ok := s.mailbox.Receiver.TryReceive()
		if !ok {
			return
		}
		if mail.Event == EventShutdown {
			s.ctx.Interrupt()
		}
		body := mail.Body.Clone().Set(KeyFrom, mail.From)
		s.ctx.InvokeEvent(mail.Event, body)
	}
}

// SendMail enqueues mail to another actor with this runner as the
// sender. Mails between one sender and one destination arrive in send
// order.
func (s *ActorService) SendMail(to string, event string, body *flatjson.Map) *core.Error {
	engine := s.ctx.Engine()
	if engine == nil {
		return core.New(CodeEngineNotRunning)
	}
	return engine.Actors().Send(Mail{From: s.ctx.Name(), To: to, Event: event, Body: body})
}

// BroadcastMail sends event to every other actor.
func (s *ActorService) BroadcastMail(event string, body *flatjson.Map) {
	if engine := s.ctx.Engine(); engine != nil {
		engine.Actors().Broadcast(s.ctx.Name(), event, body)
	}
}
