package netio

import (
	"golang.org/x/sys/unix"

	"troupe/internal/core"
	"troupe/internal/flatjson"
)

// netio error codes, 200 block.
const (
	CodeEpollClosed core.Code = 200 + iota
	CodeMissingPort
)

// SocketID carries a file descriptor through event payloads and mail
// bodies.
type SocketID = uint64

const invalidFd = -1

func isValidFd(fd int) bool {
	return fd >= 0
}

// closeFd closes fd, capturing errno on failure. Closing also drops
// the fd from any epoll interest set it was registered with.
func closeFd(fd int) *core.Error {
	if err := unix.Close(fd); err != nil {
		return core.WrapWith(core.CodeErrno,
			flatjson.New().Set("fd", int64(fd)),
			core.FromErrno("close", err))
	}
	return nil
}

// CloseSocket closes a socket previously received through a handoff
// or accept event.
func CloseSocket(id SocketID) *core.Error {
	return closeFd(int(id))
}
