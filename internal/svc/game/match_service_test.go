package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/svc/netio"
)

func buildMatchRunner(t *testing.T, battleRunners []string) (*kernel.RunnerContext, *kernel.Engine) {
	t.Helper()
	engine := kernel.NewEngine()
	require.Nil(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	builder, err := engine.CreateRunnerBuilder("match")
	require.Nil(t, err)
	runner, err := builder.
		AddService(kernel.NewActorServiceFactory()).
		AddService(netio.NewIoEventLoopFactory()).
		AddService(NewMatchFactory(battleRunners)).
		BuildRunner().Unwrap()
	require.Nil(t, err)

	ctx := runner.Context()
	require.Nil(t, ctx.Services().InvokeCreate())
	t.Cleanup(func() { ctx.Services().InvokeDestroy() })
	return ctx, engine
}

func playerPair(t *testing.T) (serverFd int, peerFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func readSome(t *testing.T, fd int) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		return buf[:n]
	}
	t.Fatal("no data readable")
	return nil
}

func TestMatchPairsPlayersAndHandsOff(t *testing.T) {
	ctx, engine := buildMatchRunner(t, []string{"battle:0"})

	battleBox, err := engine.Actors().Register("battle:0", 16).Unwrap()
	require.Nil(t, err)

	p1, peer1 := playerPair(t)
	p2, peer2 := playerPair(t)
	defer unix.Close(peer1)
	defer unix.Close(peer2)

	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p1)))

	// the first player is greeted and queued
	assert.Contains(t, string(readSome(t, peer1)), ServerEventWaiting)
	_, ok := battleBox.Receiver.TryReceive()
	assert.False(t, ok, "no handoff before a pair exists")

	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p2)))
	assert.Contains(t, string(readSome(t, peer2)), ServerEventWaiting)

	// battle_start first, then both socket_move mails, in order
	mail, ok := battleBox.Receiver.TryReceive()
	require.True(t, ok)
	require.Equal(t, EventBattleStart, mail.Event)
	assert.Equal(t, "match", mail.From)
	id1, _ := mail.Body.GetInt(KeyPlayer1)
	id2, _ := mail.Body.GetInt(KeyPlayer2)
	assert.EqualValues(t, p1, id1)
	assert.EqualValues(t, p2, id2)

	for _, want := range []int{p1, p2} {
		mail, ok = battleBox.Receiver.TryReceive()
		require.True(t, ok)
		require.Equal(t, kernel.EventSocketMove, mail.Event)
		got, _ := mail.Body.GetInt(kernel.KeySocketID)
		assert.EqualValues(t, want, got)
	}

	unix.Close(p1)
	unix.Close(p2)
}

func TestMatchRoundRobinAcrossBattleRunners(t *testing.T) {
	ctx, engine := buildMatchRunner(t, []string{"battle:0", "battle:1"})

	box0, err := engine.Actors().Register("battle:0", 16).Unwrap()
	require.Nil(t, err)
	box1, err := engine.Actors().Register("battle:1", 16).Unwrap()
	require.Nil(t, err)

	var peers []int
	admit := func() {
		fd, peer := playerPair(t)
		peers = append(peers, peer)
		ctx.InvokeEvent(kernel.EventSocketMove,
			flatjson.New().Set(kernel.KeySocketID, uint64(fd)))
	}
	for i := 0; i < 4; i++ {
		admit()
	}
	defer func() {
		for _, p := range peers {
			unix.Close(p)
		}
	}()

	count := func(mb kernel.Mailbox) int {
		starts := 0
		for {
			mail, ok := mb.Receiver.TryReceive()
			if !ok {
				return starts
			}
			if mail.Event == EventBattleStart {
				starts++
			}
		}
	}
	assert.Equal(t, 1, count(box0))
	assert.Equal(t, 1, count(box1))
}

func TestMatchDropsDisconnectedWaiter(t *testing.T) {
	ctx, engine := buildMatchRunner(t, []string{"battle:0"})
	battleBox, err := engine.Actors().Register("battle:0", 16).Unwrap()
	require.Nil(t, err)

	p1, peer1 := playerPair(t)
	defer unix.Close(peer1)
	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p1)))
	readSome(t, peer1)

	// the waiter disconnects before an opponent shows up
	ctx.InvokeEvent(kernel.EventSocketClose,
		flatjson.New().Set(kernel.KeySocketID, uint64(p1)))
	unix.Close(p1)

	p2, peer2 := playerPair(t)
	defer unix.Close(peer2)
	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p2)))
	readSome(t, peer2)

	_, ok := battleBox.Receiver.TryReceive()
	assert.False(t, ok, "a dead waiter must not be paired")
	unix.Close(p2)
}
