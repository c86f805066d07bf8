package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

// probeService records hook invocations into a shared journal so
// tests can assert ordering across services.
type probeService struct {
	ServiceBase
	journal     *journal
	createErr   *core.Error
	eventsSeen  []string
	lastPayload *flatjson.Map
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func (p *probeService) OnCreate() *core.Error {
	if p.createErr != nil {
		return p.createErr
	}
	p.journal.add("create:" + p.Kind().Name)
	return nil
}

func (p *probeService) OnDestroy() {
	p.journal.add("destroy:" + p.Kind().Name)
}

func (p *probeService) OnEvent(event string, body *flatjson.Map) {
	p.eventsSeen = append(p.eventsSeen, event)
	p.lastPayload = body
}

func probeFactory(j *journal, kind Kind, deps ...KindID) Factory {
	return func(ctx *RunnerContext) (Service, *core.Error) {
		return &probeService{
			ServiceBase: NewServiceBase(kind, deps...),
			journal:     j,
		}, nil
	}
}

func testContext(t *testing.T, factories ...Factory) (*RunnerContext, *core.Error) {
	t.Helper()
	ctx := &RunnerContext{name: "test", log: logger.New("test")}
	sm, err := newServiceMap(ctx, factories).Unwrap()
	if err != nil {
		return nil, err
	}
	ctx.services = sm
	return ctx, nil
}

func TestServiceMapDependencySort(t *testing.T) {
	j := &journal{}
	// registration order deliberately reversed: C, B, A
	ctx, err := testContext(t,
		probeFactory(j, Kind{ID: 12, Name: "c"}, 11, 10),
		probeFactory(j, Kind{ID: 11, Name: "b"}, 10),
		probeFactory(j, Kind{ID: 10, Name: "a"}),
	)
	require.Nil(t, err)

	require.Nil(t, ctx.services.InvokeCreate())
	ctx.services.InvokeDestroy()

	assert.Equal(t, []string{
		"create:a", "create:b", "create:c",
		"destroy:c", "destroy:b", "destroy:a",
	}, j.list())
}

func TestServiceMapInsertionOrderTieBreak(t *testing.T) {
	j := &journal{}
	ctx, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}),
		probeFactory(j, Kind{ID: 11, Name: "b"}),
		probeFactory(j, Kind{ID: 12, Name: "c"}),
	)
	require.Nil(t, err)
	require.Nil(t, ctx.services.InvokeCreate())
	assert.Equal(t, []string{"create:a", "create:b", "create:c"}, j.list())
}

func TestServiceMapCycleDetection(t *testing.T) {
	j := &journal{}
	_, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}, 11),
		probeFactory(j, Kind{ID: 11, Name: "b"}, 10),
	)
	require.NotNil(t, err)
	assert.True(t, err.Is(CodeDependencyCycle))
	assert.Empty(t, j.list(), "no OnCreate may run when the build fails")
}

func TestServiceMapMissingDependency(t *testing.T) {
	j := &journal{}
	_, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}, 99),
	)
	require.NotNil(t, err)
	assert.True(t, err.Is(CodeMissingDependency))
}

func TestServiceMapDuplicateID(t *testing.T) {
	j := &journal{}
	_, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}),
		probeFactory(j, Kind{ID: 10, Name: "impostor"}),
	)
	require.NotNil(t, err)
	assert.True(t, err.Is(CodeDuplicateService))
}

func TestServiceMapCreateRollback(t *testing.T) {
	j := &journal{}
	failing := func(ctx *RunnerContext) (Service, *core.Error) {
		return &probeService{
			ServiceBase: NewServiceBase(Kind{ID: 11, Name: "b"}, 10),
			journal:     j,
			createErr:   core.New(core.CodeFailed),
		}, nil
	}
	ctx, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}),
		failing,
		probeFactory(j, Kind{ID: 12, Name: "c"}, 11),
	)
	require.Nil(t, err)

	createErr := ctx.services.InvokeCreate()
	require.NotNil(t, createErr)
	// a was created then rolled back; c never started
	assert.Equal(t, []string{"create:a", "destroy:a"}, j.list())
}

func TestServiceMapEventDelivery(t *testing.T) {
	j := &journal{}
	ctx, err := testContext(t,
		probeFactory(j, Kind{ID: 10, Name: "a"}),
		probeFactory(j, Kind{ID: 11, Name: "b"}, 10),
	)
	require.Nil(t, err)

	ctx.InvokeEvent("ping", flatjson.New().Set("n", 1))

	a, ok := ctx.services.Get(10)
	require.True(t, ok)
	b, ok := ctx.services.Get(11)
	require.True(t, ok)
	assert.Equal(t, []string{"ping"}, a.(*probeService).eventsSeen)
	assert.Equal(t, []string{"ping"}, b.(*probeService).eventsSeen)
	n, _ := b.(*probeService).lastPayload.GetInt("n")
	assert.EqualValues(t, 1, n)
}

func TestGetServiceByType(t *testing.T) {
	j := &journal{}
	ctx, err := testContext(t, probeFactory(j, Kind{ID: 10, Name: "a"}))
	require.Nil(t, err)

	svc, ok := GetService[*probeService](ctx)
	require.True(t, ok)
	assert.EqualValues(t, 10, svc.Kind().ID)

	_, ok = GetService[*ActorService](ctx)
	assert.False(t, ok)
}
