package engine

import (
	"fmt"
	"sync"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/types"
)

// loaderEngine runs a one-time load step before the first boundary call.
type loaderEngine struct {
	Engine

	load    func() error
	once    sync.Once
	loadErr error
}

// WithLoader wraps e so that load runs lazily, once per wrapper, before the
// first Create. A failed load is remembered and returned by every Create.
func WithLoader(e Engine, load func() error) Engine {
	return &loaderEngine{Engine: e, load: load}
}

func (l *loaderEngine) ensureLoaded() error {
	l.once.Do(func() {
		if err := l.load(); err != nil {
			l.loadErr = fmt.Errorf("load engine: %w", err)
		}
	})
	return l.loadErr
}

func (l *loaderEngine) Create(cfg config.Config) (ID, error) {
	if err := l.ensureLoaded(); err != nil {
		return 0, err
	}
	return l.Engine.Create(cfg)
}

func (l *loaderEngine) Process(id ID, pixels []byte, width, height int) ([]types.FaceResult, error) {
	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}
	return l.Engine.Process(id, pixels, width, height)
}
