package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/andresmejia3/neptune/internal/domain"
	"github.com/andresmejia3/neptune/internal/types"
)

// State of a Handle.
type State int

const (
	Uninitialized State = iota
	Live
	Released
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Released:
		return "released"
	default:
		return "uninitialized"
	}
}

// Handle owns one live engine instance. All calls are serialized, so a
// release never overlaps a running process call.
type Handle struct {
	engine Engine
	logger *slog.Logger

	mu    sync.Mutex // Protects inference and release
	id    ID
	state State
}

type HandleOption func(*Handle)

func WithHandleLogger(logger *slog.Logger) HandleOption {
	return func(h *Handle) {
		h.logger = logger
	}
}

// NewHandle wraps an identifier returned by e.Create.
func NewHandle(e Engine, id ID, opts ...HandleOption) (*Handle, error) {
	if id == 0 {
		return nil, domain.ErrInitialization.WithError(fmt.Errorf("engine returned invalid handle 0"))
	}
	h := &Handle{
		engine: e,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		id:     id,
		state:  Live,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ID returns the engine identifier, or 0 once released.
func (h *Handle) ID() ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Live {
		return 0
	}
	return h.id
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Process forwards a validated buffer to the engine.
func (h *Handle) Process(pixels []byte, width, height int) ([]types.FaceResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Live {
		return nil, domain.ErrUseAfterRelease
	}
	if err := ValidateBuffer(pixels, width, height); err != nil {
		return nil, err
	}

	faces, err := h.engine.Process(h.id, pixels, width, height)
	if err != nil {
		return nil, domain.ErrEngine.WithError(err)
	}
	if faces == nil {
		faces = []types.FaceResult{}
	}
	return faces, nil
}

// Release frees the engine instance exactly once. Later calls are no-ops.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Live {
		return
	}

	id := h.id
	h.state = Released
	h.id = 0
	h.engine.Release(id)
	h.logger.Debug("engine released", slog.Uint64("id", uint64(id)))
}
