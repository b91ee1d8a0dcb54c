package worker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/types"
)

// ErrUnknownID is returned for an id this engine does not own.
var ErrUnknownID = errors.New("unknown engine id")

// Engine implements engine.Engine with one engine process per created instance.
type Engine struct {
	command     string
	readTimeout time.Duration
	logger      *slog.Logger
	spawn       func(id int) (*PythonWorker, error)

	mu      sync.Mutex
	next    engine.ID
	workers map[engine.ID]*PythonWorker
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSpawner replaces process creation, e.g. with in-memory pipes.
func WithSpawner(spawn func(id int) (*PythonWorker, error)) Option {
	return func(e *Engine) {
		e.spawn = spawn
	}
}

// NewEngine runs command (e.g. "python3 -u python/engine.py") for every Create.
func NewEngine(command string, readTimeout time.Duration, opts ...Option) *Engine {
	e := &Engine{
		command:     command,
		readTimeout: readTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:     make(map[engine.ID]*PythonWorker),
	}
	e.spawn = func(id int) (*PythonWorker, error) {
		return NewPythonWorker(id, e.command, e.readTimeout)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Create(cfg config.Config) (engine.ID, error) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.mu.Unlock()

	w, err := e.spawn(int(id))
	if err != nil {
		return 0, fmt.Errorf("spawn engine: %w", err)
	}
	if err := w.Init(cfg); err != nil {
		w.Close()
		if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			return 0, fmt.Errorf("init engine: %w\n%s", err, w.Cmd.Stderr.String())
		}
		return 0, fmt.Errorf("init engine: %w", err)
	}

	e.mu.Lock()
	e.workers[id] = w
	e.mu.Unlock()

	e.logger.Debug("engine process started", slog.Uint64("id", uint64(id)))
	return id, nil
}

func (e *Engine) Process(id engine.ID, pixels []byte, width, height int) ([]types.FaceResult, error) {
	w := e.lookup(id)
	if w == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}

	faces, err := w.ProcessFrame(pixels, width, height)
	if err == nil {
		return faces, nil
	}

	if w.Broken() != nil && !errors.Is(err, ErrWorkerBroken) {
		// The id stays registered so Release remains the only teardown path.
		e.logger.Error("engine process retired",
			slog.Uint64("id", uint64(id)),
			slog.Any("error", err),
			slog.String("stderr", e.logs(id)),
		)
	}
	return nil, err
}

// Release is best-effort: teardown failures are logged and dropped.
func (e *Engine) Release(id engine.ID) {
	e.mu.Lock()
	w, ok := e.workers[id]
	delete(e.workers, id)
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("release of unknown engine id", slog.Uint64("id", uint64(id)))
		return
	}
	w.Close()
	e.logger.Debug("engine process stopped", slog.Uint64("id", uint64(id)))
}

// Live returns the number of running engine processes.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// logs returns captured stderr of a running engine process.
func (e *Engine) logs(id engine.ID) string {
	w := e.lookup(id)
	if w == nil || w.Cmd == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

func (e *Engine) lookup(id engine.ID) *PythonWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers[id]
}

var _ engine.Engine = (*Engine)(nil)
