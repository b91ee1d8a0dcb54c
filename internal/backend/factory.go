package backend

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/engine/mock"
	"github.com/andresmejia3/neptune/internal/utils"
	"github.com/andresmejia3/neptune/internal/worker"
)

// Type selects an engine implementation
type Type string

const (
	// TypeWorker runs one engine subprocess per SDK instance
	TypeWorker Type = "worker"
	// TypeMock is the in-process fake (dev/test)
	TypeMock Type = "mock"
)

// NewEngine creates the engine selected by env.Engine.
//
// Environment variables:
//   - NEPTUNE_ENGINE: "worker" or "mock" (default: "worker")
//   - NEPTUNE_ENGINE_CMD: command line of the engine process
//   - NEPTUNE_WORKER_TIMEOUT: read timeout per engine reply
func NewEngine(env *config.Env, logger *slog.Logger) (engine.Engine, error) {
	switch Type(env.Engine) {
	case TypeWorker, "":
		return newWorkerEngine(env, logger), nil

	case TypeMock:
		return mock.New(), nil

	default:
		return nil, fmt.Errorf("unknown engine type: %s (supported: %s, %s)",
			env.Engine, TypeWorker, TypeMock)
	}
}

// newWorkerEngine defers the executable lookup to the first Create, so
// commands that never build an SDK (list, reset) don't need the engine installed.
func newWorkerEngine(env *config.Env, logger *slog.Logger) engine.Engine {
	w := worker.NewEngine(env.EngineCmd, env.Timeout, worker.WithLogger(logger))
	return engine.WithLoader(w, func() error {
		name, _, err := utils.ParseCommand(env.EngineCmd)
		if err != nil {
			return err
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return err
		}
		logger.Debug("engine executable resolved", slog.String("path", path))
		return nil
	})
}
