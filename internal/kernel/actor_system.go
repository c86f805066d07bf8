package kernel

import (
	"sync"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

// ActorSystem is the process-wide registry from actor name to mailbox
// sender. The registry mutates only under the write lock; sends take
// the read lock just long enough to clone a sender, so no push ever
// holds the lock.
type ActorSystem struct {
	mu     sync.RWMutex
	actors map[string]Sender
	closed bool
	log    *logger.Logger
}

func NewActorSystem() *ActorSystem {
	return &ActorSystem{
		actors: make(map[string]Sender),
		log:    logger.New("actor_system"),
	}
}

// Register creates a mailbox for name. At most one actor may hold a
// name at any time; duplicates are rejected atomically.
func (s *ActorSystem) Register(name string, capacity int) core.Result[Mailbox] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Err[Mailbox](core.New(CodeEngineNotRunning))
	}
	if _, exists := s.actors[name]; exists {
		return core.Err[Mailbox](core.NewWith(CodeDuplicateActor,
			flatjson.New().Set("name", name)))
	}
	mailbox := NewMailbox(capacity)
	s.actors[name] = mailbox.Sender
	return core.Ok(mailbox)
}

// Deregister removes name from the registry. Idempotent.
func (s *ActorSystem) Deregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actors, name)
}

// Send routes mail to its destination. The broadcast sentinel fans
// the mail out to every actor except the sender.
func (s *ActorSystem) Send(mail Mail) *core.Error {
	if mail.To == BroadcastTarget {
		s.Broadcast(mail.From, mail.Event, mail.Body)
		return nil
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return core.New(CodeEngineNotRunning)
	}
	sender, ok := s.actors[mail.To]
	s.mu.RUnlock()

	if !ok {
		return core.NewWith(CodeActorNotFound, flatjson.New().
			Set("to", mail.To).
			Set("event", mail.Event))
	}
	return sender.Send(mail)
}

// Broadcast snapshots the registry, then sends to every actor except
// from. Bodies are deep-copied per recipient so no two runners share
// a payload.
func (s *ActorSystem) Broadcast(from string, event string, body *flatjson.Map) {
	if body == nil {
		body = flatjson.New()
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	type target struct {
		name   string
		sender Sender
	}
	targets := make([]target, 0, len(s.actors))
	for name, sender := range s.actors {
		if name == from {
			continue
		}
		targets = append(targets, target{name: name, sender: sender})
	}
	s.mu.RUnlock()

	for _, tgt := range targets {
		mail := Mail{From: from, To: tgt.name, Event: event, Body: body.Clone()}
		if err := tgt.sender.Send(mail); err != nil {
			s.log.Warnf("broadcast %s to %s dropped: %v", event, tgt.name, err)
		}
	}
}

// Names returns the registered actor names, unordered.
func (s *ActorSystem) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.actors))
	for name := range s.actors {
		names = append(names, name)
	}
	return names
}

// Close rejects further registration and sends, and drops every
// remaining registration.
func (s *ActorSystem) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.actors = make(map[string]Sender)
}
