package mock

import (
	"errors"
	"sync"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/types"
)

// ErrUnknownID is returned when Process receives an id this engine never created.
var ErrUnknownID = errors.New("mock engine: unknown id")

// Engine implements engine.Engine in memory for tests and development.
type Engine struct {
	// CreateFunc overrides Create. Defaults to handing out 1, 2, 3...
	CreateFunc func(cfg config.Config) (engine.ID, error)
	// ProcessFunc overrides Process. Defaults to one centered face per call.
	ProcessFunc func(id engine.ID, pixels []byte, width, height int) ([]types.FaceResult, error)

	mu        sync.Mutex
	next      engine.ID
	live      map[engine.ID]bool
	created   []config.Config
	processed int
	released  []engine.ID
}

// New creates a mock engine with default behavior.
func New() *Engine {
	return &Engine{live: make(map[engine.ID]bool)}
}

// Create records the config and returns a new id.
func (e *Engine) Create(cfg config.Config) (engine.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.created = append(e.created, cfg)

	var id engine.ID
	if e.CreateFunc != nil {
		var err error
		if id, err = e.CreateFunc(cfg); err != nil {
			return 0, err
		}
	} else {
		e.next++
		id = e.next
	}
	if id != 0 {
		e.live[id] = true
	}
	return id, nil
}

// Process returns canned results for a live id.
func (e *Engine) Process(id engine.ID, pixels []byte, width, height int) ([]types.FaceResult, error) {
	e.mu.Lock()
	e.processed++
	live := e.live[id]
	fn := e.ProcessFunc
	e.mu.Unlock()

	if !live {
		return nil, ErrUnknownID
	}
	if fn != nil {
		return fn(id, pixels, width, height)
	}
	return []types.FaceResult{CenteredFace(width, height)}, nil
}

// Release records the call.
func (e *Engine) Release(id engine.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.live, id)
	e.released = append(e.released, id)
}

// Created returns every config passed to Create.
func (e *Engine) Created() []config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]config.Config(nil), e.created...)
}

// ProcessCalls returns how many times Process was invoked.
func (e *Engine) ProcessCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// Released returns the ids passed to Release, in call order.
func (e *Engine) Released() []engine.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.ID(nil), e.released...)
}

// CenteredFace is a deterministic detection covering the middle half of the image.
func CenteredFace(width, height int) types.FaceResult {
	return types.FaceResult{
		Box: types.FaceBox{
			X:          width / 4,
			Y:          height / 4,
			Width:      width / 2,
			Height:     height / 2,
			Confidence: 0.99,
		},
		Emotion: types.EmotionResult{
			Label:      types.EmotionNeutral,
			Confidence: 0.9,
		},
		Liveness: types.LivenessResult{
			Status:     types.LivenessLive,
			Confidence: 0.95,
			Reason:     "blink",
		},
	}
}

var _ engine.Engine = (*Engine)(nil)
