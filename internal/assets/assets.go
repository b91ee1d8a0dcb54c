package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/neptune/internal/domain"
)

const (
	FaceModel     = "face_detection.tflite"
	EmotionModel  = "emotion_model.tflite"
	LivenessModel = "liveness_model.tflite"

	// SourcePrefix is the directory inside the source FS holding the bundled models.
	SourcePrefix = "models"
	// DirName is the staging directory created under the writable root.
	DirName = "neptune_models"
)

// DefaultNames lists the model files the engine expects, in create order.
var DefaultNames = []string{FaceModel, EmotionModel, LivenessModel}

// DefaultDir returns the staging directory under a writable root.
func DefaultDir(root string) string {
	return filepath.Join(root, DirName)
}

// ModelSet is the set of staged model files.
type ModelSet struct {
	Dir      string
	Face     string
	Emotion  string
	Liveness string
}

// NewModelSet resolves the three model paths inside dir.
func NewModelSet(dir string) ModelSet {
	return ModelSet{
		Dir:      dir,
		Face:     filepath.Join(dir, FaceModel),
		Emotion:  filepath.Join(dir, EmotionModel),
		Liveness: filepath.Join(dir, LivenessModel),
	}
}

// Verify checks that every staged file is present and non-empty.
func (m ModelSet) Verify() error {
	for _, p := range []string{m.Face, m.Emotion, m.Liveness} {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("model %s: %w", filepath.Base(p), err)
		}
		if info.IsDir() || info.Size() == 0 {
			return fmt.Errorf("model %s is empty", filepath.Base(p))
		}
	}
	return nil
}

// Materializer copies bundled read-only model files into a writable directory.
// A destination that already exists is treated as staged and is never refreshed.
type Materializer struct {
	src    fs.FS
	dest   string
	names  []string
	logger *slog.Logger

	mu sync.Mutex
}

type Option func(*Materializer)

func WithNames(names ...string) Option {
	return func(m *Materializer) {
		m.names = names
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// New creates a Materializer reading `models/<name>` from src and writing to dest.
func New(src fs.FS, dest string, opts ...Option) *Materializer {
	m := &Materializer{
		src:    src,
		dest:   dest,
		names:  DefaultNames,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the destination directory.
func (m *Materializer) Dir() string {
	return m.dest
}

// EnsureStaged stages the models once and returns the resulting set.
// A partial failure leaves the directory behind without rollback.
func (m *Materializer) EnsureStaged(ctx context.Context) (ModelSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := NewModelSet(m.dest)

	if _, err := os.Stat(m.dest); err == nil {
		m.logger.Debug("models already staged", slog.String("dir", m.dest))
		return set, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ModelSet{}, domain.ErrIO.WithError(fmt.Errorf("stat %s: %w", m.dest, err))
	}

	if err := os.MkdirAll(m.dest, 0o755); err != nil {
		return ModelSet{}, domain.ErrIO.WithError(fmt.Errorf("create %s: %w", m.dest, err))
	}

	for _, name := range m.names {
		if err := ctx.Err(); err != nil {
			return ModelSet{}, domain.ErrIO.WithError(err)
		}
		if err := m.copyAsset(name); err != nil {
			return ModelSet{}, domain.ErrIO.WithError(err)
		}
		m.logger.Debug("model staged", slog.String("name", name))
	}

	m.logger.Info("models staged", slog.String("dir", m.dest), slog.Int("count", len(m.names)))
	return set, nil
}

func (m *Materializer) copyAsset(name string) error {
	in, err := m.src.Open(path.Join(SourcePrefix, name))
	if err != nil {
		return fmt.Errorf("open asset %s: %w", name, err)
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(m.dest, name))
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
