package netio

import (
	"golang.org/x/sys/unix"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
	"troupe/internal/svc/config"
)

const listenBacklog = 128

// TcpServerService owns a non-blocking TCP listener on the configured
// port. Listener readiness arrives as a socket_read event from the
// collocated io event loop; each accepted connection is announced as
// a local socket_accept event for the router to pick up.
type TcpServerService struct {
	kernel.ServiceBase
	ctx      *kernel.RunnerContext
	listenFd int
	port     uint16
	log      *logger.Logger
}

func NewTcpServerFactory() kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		return &TcpServerService{
			ServiceBase: kernel.NewServiceBase(kernel.KindTcpServer,
				kernel.KindConfig.ID, kernel.KindIoEventLoop.ID),
			ctx:      ctx,
			listenFd: invalidFd,
			log:      ctx.Log().With("service", kernel.KindTcpServer.Name),
		}, nil
	}
}

func (s *TcpServerService) OnCreate() *core.Error {
	cfg, ok := kernel.GetService[*config.Service](s.ctx)
	if !ok {
		return core.New(kernel.CodeMissingDependency)
	}
	port, ok := cfg.GetInt(config.KeyPort)
	if !ok || port < 0 || port > 65535 {
		return core.NewWith(CodeMissingPort,
			flatjson.New().Set("key", config.KeyPort))
	}

	fd, err := unix.Socket(unix.AF_INET,
		unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return core.FromErrno("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		closeFd(fd)
		return core.FromErrno("setsockopt", err)
	}
	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		closeFd(fd)
		return core.WrapWith(core.CodeErrno,
			flatjson.New().Set("port", port),
			core.FromErrno("bind", err))
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		closeFd(fd)
		return core.FromErrno("listen", err)
	}

	io, ok := kernel.GetService[*IoEventLoopService](s.ctx)
	if !ok {
		closeFd(fd)
		return core.New(kernel.CodeMissingDependency)
	}
	if err := io.AddFd(fd, AddOptions{In: true, EdgeTrigger: true}); err != nil {
		closeFd(fd)
		return core.Propagate(err)
	}

	s.listenFd = fd
	s.port = uint16(port)
	s.log.Infof("listening on port %d", s.BoundPort())
	return nil
}

func (s *TcpServerService) OnDestroy() {
	if !isValidFd(s.listenFd) {
		return
	}
	if io, ok := kernel.GetService[*IoEventLoopService](s.ctx); ok {
		if err := io.RemoveFd(s.listenFd); err != nil {
			s.log.Warnf("failed to remove listener from io loop: %v", err)
		}
	}
	if err := closeFd(s.listenFd); err != nil {
		s.log.Errorf("failed to close listener: %v", err)
	}
	s.listenFd = invalidFd
}

func (s *TcpServerService) OnEvent(event string, body *flatjson.Map) {
	if event != kernel.EventSocketRead {
		return
	}
	id, ok := body.GetInt(kernel.KeySocketID)
	if !ok || int(id) != s.listenFd {
		return
	}
	s.acceptPending()
}

// acceptPending drains the accept queue, as edge triggering requires,
// emitting one socket_accept per connection.
func (s *TcpServerService) acceptPending() {
	for {
		fd, _, err := unix.Accept4(s.listenFd,
			unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.log.Errorf("accept failed: %v", core.FromErrno("accept4", err))
			return
		}
		s.log.Debugf("accepted connection fd %d", fd)
		s.ctx.InvokeEvent(kernel.EventSocketAccept,
			flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
	}
}

// BoundPort reports the actual listening port, which differs from the
// configured one when port 0 requested an ephemeral bind.
func (s *TcpServerService) BoundPort() uint16 {
	if !isValidFd(s.listenFd) {
		return s.port
	}
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return s.port
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return uint16(in4.Port)
	}
	return s.port
}
