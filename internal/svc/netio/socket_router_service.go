package netio

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
)

// SocketRouterService relocates accepted connections to another
// runner. It is the only component that moves an fd's ownership
// across threads: once the socket_move mail is sent, nothing on the
// accepting runner touches the fd again; the destination runner adds
// it to its own io event loop.
type SocketRouterService struct {
	kernel.ServiceBase
	ctx    *kernel.RunnerContext
	target string
	log    *logger.Logger
}

// NewSocketRouterFactory routes accepted sockets to the named actor.
func NewSocketRouterFactory(target string) kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		return &SocketRouterService{
			ServiceBase: kernel.NewServiceBase(kernel.KindSocketRouter,
				kernel.KindActor.ID),
			ctx:    ctx,
			target: target,
			log:    ctx.Log().With("service", kernel.KindSocketRouter.Name),
		}, nil
	}
}

func (s *SocketRouterService) OnEvent(event string, body *flatjson.Map) {
	if event != kernel.EventSocketAccept {
		return
	}
	id, ok := body.GetInt(kernel.KeySocketID)
	if !ok {
		s.log.Warnf("socket_accept without socket id")
		return
	}

	actor, ok := kernel.GetService[*kernel.ActorService](s.ctx)
	if !ok {
		s.log.Errorf("no actor service; dropping connection fd %d", id)
		CloseSocket(SocketID(id))
		return
	}
	err := actor.SendMail(s.target, kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(id)))
	if err != nil {
		s.log.Errorf("handoff to %s failed, closing fd %d: %v", s.target, id, err)
		CloseSocket(SocketID(id))
	}
}
