package kernel

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
)

// KindID is the process-wide unique identity of a service kind.
type KindID uint32

// Kind pairs a unique id with a human readable name.
type Kind struct {
	ID   KindID
	Name string
}

// Well-known service kinds. Application services must pick ids at or
// above UserKindStart.
var (
	KindConfig       = Kind{ID: 1, Name: "config"}
	KindActor        = Kind{ID: 2, Name: "actor"}
	KindSignal       = Kind{ID: 3, Name: "signal"}
	KindIoEventLoop  = Kind{ID: 4, Name: "io_event_loop"}
	KindTcpServer    = Kind{ID: 5, Name: "tcp_server"}
	KindSocketRouter = Kind{ID: 6, Name: "socket_router"}
)

const UserKindStart KindID = 1024

// Service is a named unit of per-runner state with lifecycle hooks.
// Each service is bound to exactly one runner and its hooks only ever
// run on that runner's thread. OnCreate runs before any OnUpdate;
// OnDestroy runs at most once, and only when OnCreate succeeded.
type Service interface {
	Kind() Kind
	Dependencies() []KindID

	OnCreate() *core.Error
	OnDestroy()
	OnUpdate()
	OnEvent(event string, body *flatjson.Map)
}

// ServiceBase supplies the kind plumbing and no-op hooks so concrete
// services override only what they need.
type ServiceBase struct {
	kind Kind
	deps []KindID
}

func NewServiceBase(kind Kind, deps ...KindID) ServiceBase {
	return ServiceBase{kind: kind, deps: deps}
}

func (b *ServiceBase) Kind() Kind {
	return b.kind
}

func (b *ServiceBase) Dependencies() []KindID {
	return b.deps
}

func (b *ServiceBase) OnCreate() *core.Error { return nil }

func (b *ServiceBase) OnDestroy() {}

func (b *ServiceBase) OnUpdate() {}

func (b *ServiceBase) OnEvent(event string, body *flatjson.Map) {}

// Factory builds a service bound to the given runner context.
type Factory func(ctx *RunnerContext) (Service, *core.Error)
