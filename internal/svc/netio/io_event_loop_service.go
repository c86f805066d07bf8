package netio

import (
	"golang.org/x/sys/unix"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
)

const readChunkSize = 4096

// IoEventLoopService exposes epoll as a service. Collocated services
// register fds and observe readiness as local socket events, keeping
// raw I/O orthogonal to the actor fabric. The update poll uses a zero
// timeout so a tick never blocks.
type IoEventLoopService struct {
	kernel.ServiceBase
	ctx *kernel.RunnerContext
	ep  *epoll
	log *logger.Logger
}

func NewIoEventLoopFactory() kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		return &IoEventLoopService{
			ServiceBase: kernel.NewServiceBase(kernel.KindIoEventLoop),
			ctx:         ctx,
			log:         ctx.Log().With("service", kernel.KindIoEventLoop.Name),
		}, nil
	}
}

func (s *IoEventLoopService) OnCreate() *core.Error {
	ep, err := newEpoll()
	if err != nil {
		return core.Propagate(err)
	}
	s.ep = ep
	return nil
}

func (s *IoEventLoopService) OnDestroy() {
	if s.ep == nil {
		return
	}
	if err := s.ep.close(); err != nil {
		s.log.Errorf("failed to close epoll fd: %v", err)
	}
	s.ep = nil
}

func (s *IoEventLoopService) OnUpdate() {
	events, err := s.ep.wait(0)
	if err != nil {
		s.log.Errorf("epoll wait failed: %v", err)
		return
	}
	for _, ev := range events {
		s.handleEpollEvent(ev)
	}
}

func (s *IoEventLoopService) handleEpollEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)

	if ev.Events&unix.EPOLLERR != 0 {
		code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			s.log.Errorf("failed to read SO_ERROR for fd %d: %v", fd, err)
		} else if code != 0 {
			s.ctx.InvokeEvent(kernel.EventSocketError, flatjson.New().
				Set(kernel.KeySocketID, uint64(fd)).
				Set(kernel.KeyErrorCode, int64(code)).
				Set(kernel.KeyErrorDescription, unix.Errno(code).Error()))
		}
	}

	if ev.Events&unix.EPOLLHUP != 0 {
		// close before dispatch so no handler can race a fresh fd
		// under the same number after it has cleaned up
		if err := closeFd(fd); err != nil {
			s.log.Errorf("failed to close hung-up fd %d: %v", fd, err)
		}
		s.ctx.InvokeEvent(kernel.EventSocketClose,
			flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
		return
	}

	if ev.Events&unix.EPOLLIN != 0 {
		s.ctx.InvokeEvent(kernel.EventSocketRead,
			flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
	}

	if ev.Events&unix.EPOLLOUT != 0 {
		s.ctx.InvokeEvent(kernel.EventSocketWrite,
			flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
	}
}

// AddFd registers fd for readiness notifications.
func (s *IoEventLoopService) AddFd(fd int, options AddOptions) *core.Error {
	if s.ep == nil {
		return core.New(CodeEpollClosed)
	}
	return s.ep.add(fd, options)
}

// RemoveFd drops fd from the interest set. After RemoveFd and close,
// no further events carry this socket id.
func (s *IoEventLoopService) RemoveFd(fd int) *core.Error {
	if s.ep == nil {
		return core.New(CodeEpollClosed)
	}
	return s.ep.remove(fd)
}

// WriteToFd sends the whole buffer, retrying on EAGAIN. Writes are the
// designated blocking point of a tick: socket back-pressure stalls the
// caller until the kernel accepts the remaining bytes. MSG_NOSIGNAL
// keeps a dead peer from raising SIGPIPE.
func (s *IoEventLoopService) WriteToFd(fd int, data []byte) *core.Error {
	sent := 0
	for sent < len(data) {
		n, err := unix.SendmsgN(fd, data[sent:], nil, nil, unix.MSG_NOSIGNAL)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return core.WrapWith(core.CodeErrno,
				flatjson.New().Set("fd", int64(fd)).Set("sent", int64(sent)),
				core.FromErrno("send", err))
		}
		sent += n
	}
	return nil
}

// ReadFromFd drains fd until EAGAIN, as edge triggering requires. A
// graceful peer close is surfaced as a socket_close event and the
// bytes read so far are returned normally; the caller observes the
// close exactly once.
func (s *IoEventLoopService) ReadFromFd(fd int) ([]byte, *core.Error) {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(fd, chunk)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return buf, nil
			}
			return nil, core.WrapWith(core.CodeErrno,
				flatjson.New().Set("fd", int64(fd)),
				core.FromErrno("read", err))
		}
		if n == 0 {
			s.ctx.InvokeEvent(kernel.EventSocketClose,
				flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
			return buf, nil
		}
		buf = append(buf, chunk[:n]...)
	}
}
