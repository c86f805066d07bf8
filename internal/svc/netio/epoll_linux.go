package netio

import (
	"golang.org/x/sys/unix"

	"troupe/internal/core"
)

const maxEpollEvents = 128

// AddOptions selects the readiness conditions an fd is registered
// for.
type AddOptions struct {
	In          bool
	Out         bool
	EdgeTrigger bool
}

func (o AddOptions) epollEvents() uint32 {
	var events uint32
	if o.In {
		events |= unix.EPOLLIN
	}
	if o.Out {
		events |= unix.EPOLLOUT
	}
	if o.EdgeTrigger {
		events |= unix.EPOLLET
	}
	return events
}

// epoll is a close-on-destroy wrapper over the epoll syscalls with
// errno capture on every failure path.
type epoll struct {
	fd     int
	events []unix.EpollEvent
}

func newEpoll() (*epoll, *core.Error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, core.FromErrno("epoll_create1", err)
	}
	return &epoll{fd: fd, events: make([]unix.EpollEvent, maxEpollEvents)}, nil
}

func (e *epoll) add(fd int, options AddOptions) *core.Error {
	ev := unix.EpollEvent{Events: options.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return core.FromErrno("epoll_ctl_add", err)
	}
	return nil
}

func (e *epoll) remove(fd int) *core.Error {
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return core.FromErrno("epoll_ctl_del", err)
	}
	return nil
}

// wait polls for readiness. A zero timeout returns immediately so the
// caller's tick stays non-blocking; EINTR reads as no events.
func (e *epoll) wait(timeoutMs int) ([]unix.EpollEvent, *core.Error) {
	n, err := unix.EpollWait(e.fd, e.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, core.FromErrno("epoll_wait", err)
	}
	return e.events[:n], nil
}

func (e *epoll) close() *core.Error {
	if !isValidFd(e.fd) {
		return nil
	}
	err := closeFd(e.fd)
	e.fd = invalidFd
	return err
}
