package sdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/andresmejia3/neptune/internal/assets"
	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/domain"
	"github.com/andresmejia3/neptune/internal/engine"
)

// Builder accumulates tunable parameters and produces a ready SDK.
// It is meant for single-goroutine, single-use construction.
type Builder struct {
	engine       engine.Engine
	materializer *assets.Materializer
	logger       *slog.Logger
	cfg          config.Config
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder starts from config.Default().
func NewBuilder(e engine.Engine, m *assets.Materializer, opts ...Option) *Builder {
	b := &Builder{
		engine:       e,
		materializer: m,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:          config.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) MinFaceConfidence(confidence float32) *Builder {
	b.cfg.MinFaceConfidence = confidence
	return b
}

func (b *Builder) MinEmotionConfidence(confidence float32) *Builder {
	b.cfg.MinEmotionConfidence = confidence
	return b
}

func (b *Builder) ProcessingSize(width, height int) *Builder {
	b.cfg.ProcessingWidth = width
	b.cfg.ProcessingHeight = height
	return b
}

func (b *Builder) MaxFaces(n int) *Builder {
	b.cfg.MaxFaces = n
	return b
}

func (b *Builder) EnableGPU(enabled bool) *Builder {
	b.cfg.EnableGPU = enabled
	return b
}

// Config returns the accumulated parameters. Model paths are filled in by Build.
func (b *Builder) Config() config.Config {
	return b.cfg
}

// Build stages the models, creates an engine instance and binds it to a new SDK.
// Every call creates an independent engine instance.
func (b *Builder) Build(ctx context.Context) (*SDK, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, domain.ErrConfiguration.WithError(err)
	}

	models, err := b.materializer.EnsureStaged(ctx)
	if err != nil {
		return nil, domain.ErrInitialization.WithError(err)
	}
	if err := models.Verify(); err != nil {
		return nil, domain.ErrInitialization.WithError(fmt.Errorf("staged models in %s: %w", models.Dir, err))
	}

	cfg := b.cfg
	cfg.FaceModelPath = models.Face
	cfg.EmotionModelPath = models.Emotion
	cfg.LivenessModelPath = models.Liveness

	id, err := b.engine.Create(cfg)
	if err != nil {
		return nil, domain.ErrInitialization.WithError(err)
	}

	handle, err := engine.NewHandle(b.engine, id, engine.WithHandleLogger(b.logger))
	if err != nil {
		return nil, err
	}

	b.logger.Debug("engine created",
		slog.Uint64("id", uint64(id)),
		slog.Int("processing_width", cfg.ProcessingWidth),
		slog.Int("processing_height", cfg.ProcessingHeight),
	)

	return &SDK{handle: handle, cfg: cfg}, nil
}
