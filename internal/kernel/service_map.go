package kernel

import (
	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/logger"
)

// ServiceMap owns a runner's services and drives their lifecycle
// hooks in dependency order. Construction resolves the dependency
// graph up front; a duplicate id, a missing dependency or a cycle
// fails the build before any OnCreate runs.
type ServiceMap struct {
	byID    map[KindID]Service
	ordered []Service // topological order, create and update direction
	created []Service // services whose OnCreate succeeded
	log     *logger.Logger
}

func newServiceMap(ctx *RunnerContext, factories []Factory) core.Result[*ServiceMap] {
	m := &ServiceMap{
		byID: make(map[KindID]Service, len(factories)),
		log:  ctx.log,
	}

	var insertion []Service
	for _, factory := range factories {
		svc, err := factory(ctx)
		if err != nil {
			return core.Err[*ServiceMap](core.Wrap(CodeFactoryFailed, err))
		}
		kind := svc.Kind()
		if _, exists := m.byID[kind.ID]; exists {
			return core.Err[*ServiceMap](core.NewWith(CodeDuplicateService, flatjson.New().
				Set("service", kind.Name).
				Set("id", int64(kind.ID))))
		}
		m.byID[kind.ID] = svc
		insertion = append(insertion, svc)
	}

	ordered, err := sortServices(insertion, m.byID)
	if err != nil {
		return core.Err[*ServiceMap](err)
	}
	m.ordered = ordered
	return core.Ok(m)
}

// sortServices runs Kahn's algorithm over the declared dependency
// edges, breaking ties by insertion order so builds are
// deterministic.
func sortServices(insertion []Service, byID map[KindID]Service) ([]Service, *core.Error) {
	indegree := make(map[KindID]int, len(insertion))
	dependents := make(map[KindID][]KindID, len(insertion))

	for _, svc := range insertion {
		kind := svc.Kind()
		if _, ok := indegree[kind.ID]; !ok {
			indegree[kind.ID] = 0
		}
		for _, dep := range svc.Dependencies() {
			if _, ok := byID[dep]; !ok {
				return nil, core.NewWith(CodeMissingDependency, flatjson.New().
					Set("service", kind.Name).
					Set("dependency", int64(dep)))
			}
			indegree[kind.ID]++
			dependents[dep] = append(dependents[dep], kind.ID)
		}
	}

	var queue []Service
	for _, svc := range insertion {
		if indegree[svc.Kind().ID] == 0 {
			queue = append(queue, svc)
		}
	}

	ordered := make([]Service, 0, len(insertion))
	for len(queue) > 0 {
		svc := queue[0]
		queue = queue[1:]
		ordered = append(ordered, svc)
		for _, dependent := range dependents[svc.Kind().ID] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				// reinsert in insertion order to keep ties stable
				for _, cand := range insertion {
					if cand.Kind().ID == dependent {
						queue = append(queue, cand)
						break
					}
				}
			}
		}
	}

	if len(ordered) != len(insertion) {
		remaining := flatjson.New()
		for _, svc := range insertion {
			if indegree[svc.Kind().ID] > 0 {
				remaining.Set(svc.Kind().Name, int64(svc.Kind().ID))
			}
		}
		return nil, core.NewWith(CodeDependencyCycle, remaining)
	}
	return ordered, nil
}

// Get returns the service registered under id, non-owning.
func (m *ServiceMap) Get(id KindID) (Service, bool) {
	svc, ok := m.byID[id]
	return svc, ok
}

// InvokeCreate calls OnCreate in topological order. On the first
// failure every service already created is destroyed in reverse
// order, then the error surfaces.
func (m *ServiceMap) InvokeCreate() *core.Error {
	for _, svc := range m.ordered {
		if err := svc.OnCreate(); err != nil {
			m.log.Errorf("service %s create failed: %v", svc.Kind().Name, err)
			m.InvokeDestroy()
			return core.WrapWith(core.CodePropagated,
				flatjson.New().Set("service", svc.Kind().Name), err)
		}
		m.created = append(m.created, svc)
	}
	return nil
}

// InvokeUpdate ticks every service in topological order. Updates are
// non-fatal so the cooperative loop never aborts mid tick; a panic is
// contained and logged.
func (m *ServiceMap) InvokeUpdate() {
	for _, svc := range m.ordered {
		m.safeUpdate(svc)
	}
}

func (m *ServiceMap) safeUpdate(svc Service) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("service %s update panicked: %v", svc.Kind().Name, r)
		}
	}()
	svc.OnUpdate()
}

// InvokeDestroy tears down created services in reverse topological
// order, best effort. Safe to call more than once; each service is
// destroyed at most once.
func (m *ServiceMap) InvokeDestroy() {
	for i := len(m.created) - 1; i >= 0; i-- {
		m.safeDestroy(m.created[i])
	}
	m.created = nil
}

func (m *ServiceMap) safeDestroy(svc Service) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("service %s destroy panicked: %v", svc.Kind().Name, r)
		}
	}()
	svc.OnDestroy()
}

// InvokeEvent delivers an event to every service in topological
// order, synchronously. Services that do not recognize the event
// ignore it.
func (m *ServiceMap) InvokeEvent(event string, body *flatjson.Map) {
	if body == nil {
		body = flatjson.New()
	}
	for _, svc := range m.ordered {
		m.safeEvent(svc, event, body)
	}
}

func (m *ServiceMap) safeEvent(svc Service, event string, body *flatjson.Map) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("service %s event %s panicked: %v", svc.Kind().Name, event, r)
		}
	}()
	svc.OnEvent(event, body)
}
