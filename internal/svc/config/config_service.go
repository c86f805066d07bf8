package config

import (
	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
)

// Config keys used by the core services.
const (
	KeyPort    = "port"
	KeyBattles = "battles"
)

const CodeBadConfigFile core.Code = 150

// Service holds the runner's configuration as a flat key to scalar
// map. Values come from an optional TOML file overlaid with the
// overrides supplied at build time (command line flags). When a file
// path is set the service watches it and re-reads on change, emitting
// a config_reload event to collocated services.
type Service struct {
	kernel.ServiceBase
	ctx       *kernel.RunnerContext
	overrides *flatjson.Map
	path      string
	cfg       *flatjson.Map
	watcher   *fsnotify.Watcher
	log       *logger.Logger
}

// NewFactory builds the config service. overrides may be nil; path
// may be empty to disable file loading and watching.
func NewFactory(overrides *flatjson.Map, path string) kernel.Factory {
	return func(ctx *kernel.RunnerContext) (kernel.Service, *core.Error) {
		if overrides == nil {
			overrides = flatjson.New()
		}
		return &Service{
			ServiceBase: kernel.NewServiceBase(kernel.KindConfig),
			ctx:         ctx,
			overrides:   overrides,
			path:        path,
			cfg:         flatjson.New(),
			log:         ctx.Log().With("service", kernel.KindConfig.Name),
		}, nil
	}
}

func (s *Service) OnCreate() *core.Error {
	if err := s.reload(); err != nil {
		return core.Propagate(err)
	}
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return core.NewWith(CodeBadConfigFile, flatjson.New().
			Set("message", err.Error()))
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return core.NewWith(CodeBadConfigFile, flatjson.New().
			Set("path", s.path).
			Set("message", err.Error()))
	}
	s.watcher = watcher
	return nil
}

func (s *Service) OnDestroy() {
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

// OnUpdate drains watcher notifications without blocking, keeping the
// tick cooperative like every other service.
func (s *Service) OnUpdate() {
	if s.watcher == nil {
		return
	}
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				if err := s.reload(); err != nil {
					s.log.Warnf("config reload failed: %v", err)
					continue
				}
				s.log.Infof("config reloaded from %s", s.path)
				s.ctx.InvokeEvent(kernel.EventConfigReload,
					flatjson.New().Set("path", s.path))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnf("config watch error: %v", err)
		default:
			return
		}
	}
}

// reload reads the file (when set) and applies the overrides on top.
func (s *Service) reload() *core.Error {
	next := flatjson.New()
	if s.path != "" {
		var raw map[string]any
		if _, err := toml.DecodeFile(s.path, &raw); err != nil {
			return core.NewWith(CodeBadConfigFile, flatjson.New().
				Set("path", s.path).
				Set("message", err.Error()))
		}
		for key, value := range raw {
			switch value.(type) {
			case bool, int64, float64, string:
				next.Set(key, value)
			default:
				// nested tables and arrays are not part of the flat config
			}
		}
	}
	for _, key := range s.overrides.Keys() {
		v, _ := s.overrides.Get(key)
		next.Set(key, v)
	}
	s.cfg = next
	return nil
}

// Config exposes the current configuration map.
func (s *Service) Config() *flatjson.Map {
	return s.cfg
}

func (s *Service) GetInt(key string) (int64, bool) {
	return s.cfg.GetInt(key)
}

func (s *Service) GetString(key string) (string, bool) {
	return s.cfg.GetString(key)
}
