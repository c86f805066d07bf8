package game

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
	"troupe/internal/svc/netio"
)

// Service kinds of the example game.
var (
	KindMatch  = kernel.Kind{ID: kernel.UserKindStart, Name: "match"}
	KindBattle = kernel.Kind{ID: kernel.UserKindStart + 1, Name: "battle"}
)

// MatchService buckets arriving players into pairs. Each socket_move
// handoff parks the socket on the local io loop; once two players
// wait, the pair is assigned a battle id, the sockets are handed off
// again to a battle runner chosen round robin, and the battle runner
// is told which pair belongs to which battle.
type MatchService struct {
	kernel.ServiceBase
	ctx           *kernel.RunnerContext
	battleRunners []string
	waiting       []netio.SocketID
	nextRunner    int
	battleSeq     uint64
	log           *logger.Logger
}

// NewMatchFactory targets the given battle runner names.
func NewMatchFactory(battleRunners []string) kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		if len(battleRunners) == 0 {
			return nil, core.NewWith(core.CodeFailed,
				flatjson.New().Set("message", "no battle runners configured"))
		}
		return &MatchService{
			ServiceBase: kernel.NewServiceBase(KindMatch,
				kernel.KindActor.ID, kernel.KindIoEventLoop.ID),
			ctx:           ctx,
			battleRunners: battleRunners,
			log:           ctx.Log().With("service", KindMatch.Name),
		}, nil
	}
}

func (s *MatchService) OnDestroy() {
	for _, id := range s.waiting {
		netio.CloseSocket(id)
	}
	s.waiting = nil
}

func (s *MatchService) OnEvent(event string, body *flatjson.Map) {
	switch event {
	case kernel.EventSocketMove:
		id, ok := body.GetInt(kernel.KeySocketID)
		if !ok {
			s.log.Warnf("socket_move without socket id")
			return
		}
		s.admitPlayer(netio.SocketID(id))
	case kernel.EventSocketClose:
		id, ok := body.GetInt(kernel.KeySocketID)
		if ok {
			s.dropWaiting(netio.SocketID(id))
		}
	case kernel.EventShutdown:
		for _, id := range s.waiting {
			netio.CloseSocket(id)
		}
		s.waiting = nil
	}
}

func (s *MatchService) admitPlayer(id netio.SocketID) {
	io, ok := kernel.GetService[*netio.IoEventLoopService](s.ctx)
	if !ok {
		netio.CloseSocket(id)
		return
	}
	if err := io.AddFd(int(id), netio.AddOptions{In: true, EdgeTrigger: true}); err != nil {
		s.log.Errorf("failed to watch player fd %d: %v", id, err)
		netio.CloseSocket(id)
		return
	}
	if err := io.WriteToFd(int(id),
		encodeServerMessage(ServerMessage{Event: ServerEventWaiting})); err != nil {
		s.log.Warnf("greeting for fd %d failed: %v", id, err)
		io.RemoveFd(int(id))
		netio.CloseSocket(id)
		return
	}

	s.waiting = append(s.waiting, id)
	s.log.Debugf("player fd %d waiting (%d queued)", id, len(s.waiting))
	for len(s.waiting) >= 2 {
		s.startBattle(io)
	}
}

// startBattle hands the first two waiting sockets to a battle runner.
// The battle_start mail precedes the socket_move mails; per-pair FIFO
// guarantees the battle runner knows the pairing before either socket
// arrives.
func (s *MatchService) startBattle(io *netio.IoEventLoopService) {
	actor, ok := kernel.GetService[*kernel.ActorService](s.ctx)
	if !ok {
		return
	}

	p1, p2 := s.waiting[0], s.waiting[1]
	s.waiting = s.waiting[2:]

	for _, id := range []netio.SocketID{p1, p2} {
		if err := io.RemoveFd(int(id)); err != nil {
			s.log.Warnf("failed to release fd %d: %v", id, err)
		}
	}

	s.battleSeq++
	battleID := s.battleSeq
	target := s.battleRunners[s.nextRunner%len(s.battleRunners)]
	s.nextRunner++

	err := actor.SendMail(target, EventBattleStart, flatjson.New().
		Set(KeyBattleID, battleID).
		Set(KeyPlayer1, uint64(p1)).
		Set(KeyPlayer2, uint64(p2)))
	if err != nil {
		s.log.Errorf("battle_start to %s failed: %v", target, err)
		netio.CloseSocket(p1)
		netio.CloseSocket(p2)
		return
	}
	for _, id := range []netio.SocketID{p1, p2} {
		if err := actor.SendMail(target, kernel.EventSocketMove,
			flatjson.New().Set(kernel.KeySocketID, uint64(id))); err != nil {
			s.log.Errorf("socket_move to %s failed, closing fd %d: %v", target, id, err)
			netio.CloseSocket(id)
		}
	}
	s.log.Infof("battle %d started on %s (fds %d, %d)", battleID, target, p1, p2)
}

func (s *MatchService) dropWaiting(id netio.SocketID) {
	for i, waiting := range s.waiting {
		if waiting == id {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			s.log.Debugf("waiting player fd %d disconnected", id)
			return
		}
	}
}
