package game

import (
	"bytes"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
	"troupe/internal/svc/netio"
)

// battle is one running round between two players.
type battle struct {
	id      uint64
	players [2]netio.SocketID
	moves   map[netio.SocketID]Move
}

func (b *battle) opponent(id netio.SocketID) netio.SocketID {
	if b.players[0] == id {
		return b.players[1]
	}
	return b.players[0]
}

// BattleService runs game rounds. It learns pairings from
// battle_start mail, adopts both sockets on the following socket_move
// handoffs, and plays best-of-one rounds until a winner emerges
// (draws replay).
type BattleService struct {
	kernel.ServiceBase
	ctx      *kernel.RunnerContext
	battles  map[uint64]*battle
	bySocket map[netio.SocketID]*battle
	log      *logger.Logger
}

func NewBattleFactory() kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		return &BattleService{
			ServiceBase: kernel.NewServiceBase(KindBattle,
				kernel.KindActor.ID, kernel.KindIoEventLoop.ID),
			ctx:      ctx,
			battles:  make(map[uint64]*battle),
			bySocket: make(map[netio.SocketID]*battle),
			log:      ctx.Log().With("service", KindBattle.Name),
		}, nil
	}
}

func (s *BattleService) OnDestroy() {
	for id := range s.bySocket {
		netio.CloseSocket(id)
	}
	s.battles = make(map[uint64]*battle)
	s.bySocket = make(map[netio.SocketID]*battle)
}

func (s *BattleService) OnEvent(event string, body *flatjson.Map) {
	switch event {
	case EventBattleStart:
		s.onBattleStart(body)
	case kernel.EventSocketMove:
		if id, ok := body.GetInt(kernel.KeySocketID); ok {
			s.adoptSocket(netio.SocketID(id))
		}
	case kernel.EventSocketRead:
		if id, ok := body.GetInt(kernel.KeySocketID); ok {
			s.onSocketRead(netio.SocketID(id))
		}
	case kernel.EventSocketClose:
		if id, ok := body.GetInt(kernel.KeySocketID); ok {
			s.onSocketClose(netio.SocketID(id))
		}
	case kernel.EventShutdown:
		s.closeAll()
	}
}

func (s *BattleService) onBattleStart(body *flatjson.Map) {
	id, ok1 := body.GetInt(KeyBattleID)
	p1, ok2 := body.GetInt(KeyPlayer1)
	p2, ok3 := body.GetInt(KeyPlayer2)
	if !ok1 || !ok2 || !ok3 {
		s.log.Warnf("malformed battle_start: %s", body)
		return
	}
	b := &battle{
		id:      uint64(id),
		players: [2]netio.SocketID{netio.SocketID(p1), netio.SocketID(p2)},
		moves:   make(map[netio.SocketID]Move, 2),
	}
	s.battles[b.id] = b
	s.bySocket[b.players[0]] = b
	s.bySocket[b.players[1]] = b
	s.log.Debugf("battle %d registered (fds %d, %d)", b.id, p1, p2)
}

// adoptSocket takes ownership of a handed-off fd: the battle runner's
// own io loop watches it from here on.
func (s *BattleService) adoptSocket(id netio.SocketID) {
	b, known := s.bySocket[id]
	if !known {
		s.log.Warnf("socket_move for unknown fd %d, closing", id)
		netio.CloseSocket(id)
		return
	}
	io, ok := kernel.GetService[*netio.IoEventLoopService](s.ctx)
	if !ok {
		s.retire(b)
		return
	}
	if err := io.AddFd(int(id), netio.AddOptions{In: true, EdgeTrigger: true}); err != nil {
		s.log.Errorf("failed to watch fd %d: %v", id, err)
		s.retire(b)
		return
	}
	if err := io.WriteToFd(int(id), encodeServerMessage(ServerMessage{
		Event:    ServerEventBattleStart,
		BattleID: b.id,
	})); err != nil {
		s.log.Warnf("battle_start notice for fd %d failed: %v", id, err)
	}
}

func (s *BattleService) onSocketRead(id netio.SocketID) {
	b, known := s.bySocket[id]
	if !known {
		return
	}
	io, ok := kernel.GetService[*netio.IoEventLoopService](s.ctx)
	if !ok {
		return
	}

	data, err := io.ReadFromFd(int(id))
	if err != nil {
		s.log.Warnf("read from fd %d failed: %v", id, err)
		s.forfeit(b, id)
		return
	}
	if len(data) == 0 {
		// the close event handles the teardown
		return
	}

	// newline framing; only the latest complete message counts
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte{'\n'}) {
		msg, ok := decodeClientMessage(line)
		if !ok || msg.Action != ActionMove {
			continue
		}
		move, valid := ParseMove(msg.Value)
		if !valid {
			s.log.Debugf("fd %d sent invalid move %q", id, msg.Value)
			continue
		}
		b.moves[id] = move
	}

	if len(b.moves) == 2 {
		s.settle(b)
	}
}

// settle judges a complete round. Draws clear the moves and replay;
// otherwise both players get their verdict and the battle retires.
func (s *BattleService) settle(b *battle) {
	io, ok := kernel.GetService[*netio.IoEventLoopService](s.ctx)
	if !ok {
		return
	}
	first, second := b.players[0], b.players[1]
	outcome := Judge(b.moves[first], b.moves[second])

	if outcome == Draw {
		b.moves = make(map[netio.SocketID]Move, 2)
		for _, id := range b.players {
			io.WriteToFd(int(id), encodeServerMessage(ServerMessage{
				Event:    ServerEventResult,
				BattleID: b.id,
				Outcome:  OutcomeDraw,
			}))
		}
		return
	}

	winner, loser := first, second
	if outcome == SecondWins {
		winner, loser = second, first
	}
	io.WriteToFd(int(winner), encodeServerMessage(ServerMessage{
		Event: ServerEventResult, BattleID: b.id, Outcome: OutcomeWin,
	}))
	io.WriteToFd(int(loser), encodeServerMessage(ServerMessage{
		Event: ServerEventResult, BattleID: b.id, Outcome: OutcomeLose,
	}))
	s.log.Infof("battle %d settled", b.id)
	s.retire(b)
}

// forfeit ends a battle after one side drops; the survivor wins.
func (s *BattleService) forfeit(b *battle, gone netio.SocketID) {
	if io, ok := kernel.GetService[*netio.IoEventLoopService](s.ctx); ok {
		other := b.opponent(gone)
		if _, live := s.bySocket[other]; live {
			io.WriteToFd(int(other), encodeServerMessage(ServerMessage{
				Event: ServerEventResult, BattleID: b.id, Outcome: OutcomeWin,
			}))
		}
	}
	s.retire(b)
}

func (s *BattleService) onSocketClose(id netio.SocketID) {
	b, known := s.bySocket[id]
	if !known {
		return
	}
	// retire releases the dropped player's fd along with the
	// opponent's; a close the io loop already performed surfaces as a
	// discarded EBADF there
	s.forfeit(b, id)
}

// retire removes the battle and closes any sockets still owned.
func (s *BattleService) retire(b *battle) {
	io, hasIo := kernel.GetService[*netio.IoEventLoopService](s.ctx)
	for _, id := range b.players {
		if _, live := s.bySocket[id]; !live {
			continue
		}
		if hasIo {
			io.RemoveFd(int(id))
		}
		netio.CloseSocket(id)
		delete(s.bySocket, id)
	}
	delete(s.battles, b.id)
}

func (s *BattleService) closeAll() {
	for _, b := range s.battles {
		s.retire(b)
	}
}
