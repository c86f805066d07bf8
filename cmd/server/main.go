package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"troupe/internal/core"
	"troupe/internal/flatjson"
	"troupe/internal/kernel"
	"troupe/internal/logger"
	"troupe/internal/svc/config"
	"troupe/internal/svc/game"
	"troupe/internal/svc/netio"
	"troupe/internal/svc/sig"
)

var (
	help       bool
	port       uint
	configPath string
	battles    int
	logLevel   string
	logFile    string
)

func init() {
	flag.BoolVar(&help, "help", false, "Display help information and exit")
	flag.BoolVar(&help, "h", false, "Display help information and exit")
	flag.UintVar(&port, "port", 0, "TCP port to listen on (required)")
	flag.StringVar(&configPath, "config", "", "Optional TOML config file, watched for changes")
	flag.IntVar(&battles, "battles", 0, "Number of battle runners (default: CPU count minus 3, at least 1)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
}

func main() {
	flag.Parse()

	writer := logger.Setup(logLevel, logFile)
	defer func() {
		if writer != os.Stderr {
			writer.Close()
		}
	}()

	if help {
		printHelp()
		return
	}
	if port == 0 || port > 65535 {
		fmt.Fprintln(os.Stderr, "usage: server --port <port> [--config <file>] [--battles <n>]")
		os.Exit(1)
	}

	if err := run(); err != nil && !err.Is(kernel.CodeInterrupted) {
		logger.New("main").Errorf("server failed: %v", err)
		os.Exit(1)
	}
}

func run() *core.Error {
	var teardown core.StackDefer
	defer teardown.Run()

	log := logger.New("main")

	engine := kernel.NewEngine()
	if err := engine.Start(); err != nil {
		return core.Propagate(err)
	}
	teardown.Push(func() {
		if err := engine.Stop(); err != nil {
			log.Errorf("failed to stop engine: %v", err)
		}
	})

	battleCount := battles
	if battleCount <= 0 {
		// three threads are spoken for: main runner, match runner, OS
		battleCount = runtime.NumCPU() - 3
		if battleCount < 1 {
			battleCount = 1
		}
	}
	battleNames := make([]string, battleCount)
	for i := range battleNames {
		battleNames[i] = fmt.Sprintf("battle:%d", i)
	}

	matchRunner, err := buildMatchRunner(engine, battleNames)
	if err != nil {
		return core.Propagate(err)
	}
	if err := matchRunner.Start(); err != nil {
		return core.Propagate(err)
	}

	for _, name := range battleNames {
		battleRunner, err := buildBattleRunner(engine, name)
		if err != nil {
			return core.Propagate(err)
		}
		if err := battleRunner.Start(); err != nil {
			return core.Propagate(err)
		}
	}

	mainRunner, err := buildMainRunner(engine)
	if err != nil {
		return core.Propagate(err)
	}

	// blocks until SIGINT; the engine teardown joins the others
	return mainRunner.Run()
}

func buildMainRunner(engine *kernel.Engine) (*kernel.Runner, *core.Error) {
	builder, err := engine.CreateRunnerBuilder("main")
	if err != nil {
		return nil, core.Propagate(err)
	}
	overrides := flatjson.New().Set(config.KeyPort, uint64(port))
	return builder.
		AddService(config.NewFactory(overrides, configPath)).
		AddService(sig.NewFactory()).
		AddService(kernel.NewActorServiceFactory()).
		AddService(netio.NewIoEventLoopFactory()).
		AddService(netio.NewTcpServerFactory()).
		AddService(netio.NewSocketRouterFactory("match")).
		BuildRunner().
		Unwrap()
}

func buildMatchRunner(engine *kernel.Engine, battleNames []string) (*kernel.ThreadRunner, *core.Error) {
	builder, err := engine.CreateRunnerBuilder("match")
	if err != nil {
		return nil, core.Propagate(err)
	}
	return builder.
		AddService(kernel.NewActorServiceFactory()).
		AddService(netio.NewIoEventLoopFactory()).
		AddService(game.NewMatchFactory(battleNames)).
		BuildThreadRunner().
		Unwrap()
}

func buildBattleRunner(engine *kernel.Engine, name string) (*kernel.ThreadRunner, *core.Error) {
	builder, err := engine.CreateRunnerBuilder(name)
	if err != nil {
		return nil, core.Propagate(err)
	}
	return builder.
		AddService(kernel.NewActorServiceFactory()).
		AddService(netio.NewIoEventLoopFactory()).
		AddService(game.NewBattleFactory()).
		BuildThreadRunner().
		Unwrap()
}

func printHelp() {
	fmt.Printf(`Usage: server --port <port> [options]

Options:
  -port <port>       TCP port to listen on. Required.
  -config <file>     TOML config file, watched for changes.
  -battles <n>       Number of battle runners. Default is CPU count minus 3, at least 1.
  -log-level <level> Set the log level: debug, info, warn, error. Default is 'info'.
  -log-file <path>   Specify a log file to write logs. Default is stderr.
  -help              Display this help information and exit.

Details:
A rock-paper-scissors-lizard-spock server. The main runner accepts
connections and routes them to the match runner, which pairs players
and hands each pair to a battle runner. Ctrl-C shuts down cleanly.
`)
}
