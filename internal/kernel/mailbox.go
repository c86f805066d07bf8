package kernel

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
)

// DefaultMailboxCapacity bounds a runner's inbox. A full inbox rejects
// the push instead of blocking the sending runner's tick.
const DefaultMailboxCapacity = 256

// Sender is the producing half of a mailbox. It is a value type;
// copies share the same channel and may push concurrently from any
// thread.
type Sender struct {
	ch chan<- Mail
}

// Send enqueues mail without blocking. Delivery to a single receiver
// from a single sender is FIFO.
func (s Sender) Send(mail Mail) *core.Error {
	if mail.Body == nil {
		mail.Body = flatjson.New()
	}
	select {
	case s.ch <- mail:
		return nil
	default:
		return core.NewWith(CodeMailboxFull, flatjson.New().
			Set("to", mail.To).
			Set("event", mail.Event))
	}
}

// Receiver is the consuming half. It belongs to exactly one runner;
// no other thread may receive from it.
type Receiver struct {
	ch <-chan Mail
}

// TryReceive pops one mail without blocking.
func (r Receiver) TryReceive() (Mail, bool) {
	select {
	case mail, ok := <-r.ch:
		return mail, ok
	default:
		return Mail{}, false
	}
}

// Mailbox pairs the two halves of one runner's mail channel.
type Mailbox struct {
	Sender   Sender
	Receiver Receiver
}

func NewMailbox(capacity int) Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	ch := make(chan Mail, capacity)
	return Mailbox{Sender: Sender{ch: ch}, Receiver: Receiver{ch: ch}}
}
