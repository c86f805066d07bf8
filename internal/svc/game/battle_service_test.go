package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/svc/netio"
)

func buildBattleRunner(t *testing.T) *kernel.RunnerContext {
	t.Helper()
	engine := kernel.NewEngine()
	require.Nil(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	builder, err := engine.CreateRunnerBuilder("battle:0")
	require.Nil(t, err)
	runner, err := builder.
		AddService(kernel.NewActorServiceFactory()).
		AddService(netio.NewIoEventLoopFactory()).
		AddService(NewBattleFactory()).
		BuildRunner().Unwrap()
	require.Nil(t, err)

	ctx := runner.Context()
	require.Nil(t, ctx.Services().InvokeCreate())
	t.Cleanup(func() { ctx.Services().InvokeDestroy() })
	return ctx
}

// startTestBattle wires two socketpair players into a registered
// battle, mimicking the mails a match runner sends. It returns the
// service-owned fds alongside the client peers so tests can check
// that the service releases them.
func startTestBattle(t *testing.T, ctx *kernel.RunnerContext) (p1, p2, peer1, peer2 int) {
	t.Helper()
	p1, peer1 = playerPair(t)
	p2, peer2 = playerPair(t)

	ctx.InvokeEvent(EventBattleStart, flatjson.New().
		Set(KeyBattleID, uint64(1)).
		Set(KeyPlayer1, uint64(p1)).
		Set(KeyPlayer2, uint64(p2)))
	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p1)))
	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(p2)))

	// both players are told the battle started
	assert.Contains(t, string(readSome(t, peer1)), ServerEventBattleStart)
	assert.Contains(t, string(readSome(t, peer2)), ServerEventBattleStart)
	return p1, p2, peer1, peer2
}

// fdClosed reports whether fd no longer names an open descriptor.
func fdClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == unix.EBADF
}

func sendMove(t *testing.T, peer int, move string) {
	t.Helper()
	payload := fmt.Sprintf(`{"action":"move","value":"%s"}`+"\n", move)
	sent := 0
	for sent < len(payload) {
		n, err := unix.Write(peer, []byte(payload)[sent:])
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		sent += n
	}
}

func tickUntil(ctx *kernel.RunnerContext, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx.Services().InvokeUpdate()
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// tryRead drains whatever is immediately readable.
func tryRead(fd int) string {
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	if err != nil || n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func collect(t *testing.T, fd int, timeout time.Duration) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN {
			if len(out) > 0 {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil || n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return string(out)
}

func TestBattleRoundDecidesWinner(t *testing.T) {
	ctx := buildBattleRunner(t)
	p1, p2, peer1, peer2 := startTestBattle(t, ctx)
	defer unix.Close(peer1)
	defer unix.Close(peer2)

	sendMove(t, peer1, "rock")
	sendMove(t, peer2, "scissors")

	svc, ok := kernel.GetService[*BattleService](ctx)
	require.True(t, ok)
	require.True(t, tickUntil(ctx, 2*time.Second, func() bool {
		return len(svc.battles) == 0
	}), "battle did not settle")

	assert.Contains(t, collect(t, peer1, time.Second), OutcomeWin)
	assert.Contains(t, collect(t, peer2, time.Second), OutcomeLose)
	assert.True(t, fdClosed(p1))
	assert.True(t, fdClosed(p2))
}

func TestBattleDrawReplays(t *testing.T) {
	ctx := buildBattleRunner(t)
	_, _, peer1, peer2 := startTestBattle(t, ctx)
	defer unix.Close(peer1)
	defer unix.Close(peer2)

	sendMove(t, peer1, "spock")
	sendMove(t, peer2, "spock")

	var first string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && first == "" {
		ctx.Services().InvokeUpdate()
		first = tryRead(peer1)
		time.Sleep(time.Millisecond)
	}
	assert.Contains(t, first, OutcomeDraw)

	svc, ok := kernel.GetService[*BattleService](ctx)
	require.True(t, ok)
	assert.Len(t, svc.battles, 1, "a drawn battle replays instead of retiring")

	// the replay settles normally
	sendMove(t, peer1, "rock")
	sendMove(t, peer2, "scissors")
	require.True(t, tickUntil(ctx, 2*time.Second, func() bool {
		return len(svc.battles) == 0
	}))
	assert.Contains(t, collect(t, peer1, time.Second), OutcomeWin)
}

func TestBattleForfeitOnDisconnect(t *testing.T) {
	ctx := buildBattleRunner(t)
	p1, p2, peer1, peer2 := startTestBattle(t, ctx)
	defer unix.Close(peer2)

	// player one walks away mid round
	require.NoError(t, unix.Close(peer1))

	svc, ok := kernel.GetService[*BattleService](ctx)
	require.True(t, ok)
	require.True(t, tickUntil(ctx, 2*time.Second, func() bool {
		return len(svc.battles) == 0
	}), "battle did not resolve after disconnect")

	assert.Contains(t, collect(t, peer2, time.Second), OutcomeWin)

	// the dropped player's own descriptor is released, not just the
	// survivor's
	assert.True(t, fdClosed(p1), "disconnected player's fd leaked")
	assert.True(t, fdClosed(p2))
}

func TestBattleUnknownSocketClosed(t *testing.T) {
	ctx := buildBattleRunner(t)

	fd, peer := playerPair(t)
	defer unix.Close(peer)

	// a stray handoff with no preceding battle_start is refused
	ctx.InvokeEvent(kernel.EventSocketMove,
		flatjson.New().Set(kernel.KeySocketID, uint64(fd)))

	buf := make([]byte, 1)
	deadline := time.Now().Add(time.Second)
	closed := false
	for time.Now().Before(deadline) {
		n, err := unix.Read(peer, buf)
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		if n == 0 {
			closed = true
		}
		break
	}
	assert.True(t, closed, "stray fd must be closed")
}
