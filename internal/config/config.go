package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the immutable payload handed to the engine's create primitive.
type Config struct {
	FaceModelPath     string `json:"face_model_path"`
	EmotionModelPath  string `json:"emotion_model_path"`
	LivenessModelPath string `json:"liveness_model_path"`

	MinFaceConfidence    float32 `json:"min_face_confidence"`
	MinEmotionConfidence float32 `json:"min_emotion_confidence"`
	ProcessingWidth      int     `json:"processing_width"`
	ProcessingHeight     int     `json:"processing_height"`

	MaxFaces  int  `json:"max_faces"`
	EnableGPU bool `json:"enable_gpu"`
}

const (
	DefaultMinFaceConfidence    float32 = 0.5
	DefaultMinEmotionConfidence float32 = 0.2
	DefaultProcessingWidth              = 320
	DefaultProcessingHeight             = 240
	DefaultMaxFaces                     = 2
)

// Default returns the configuration used when no setter is invoked.
func Default() Config {
	return Config{
		MinFaceConfidence:    DefaultMinFaceConfidence,
		MinEmotionConfidence: DefaultMinEmotionConfidence,
		ProcessingWidth:      DefaultProcessingWidth,
		ProcessingHeight:     DefaultProcessingHeight,
		MaxFaces:             DefaultMaxFaces,
	}
}

// Validate checks the tunable parameters. Model paths are not checked here,
// they are verified against the staging directory before create.
func (c Config) Validate() error {
	if c.MinFaceConfidence < 0 || c.MinFaceConfidence > 1 {
		return fmt.Errorf("min face confidence must be between 0 and 1, got %v", c.MinFaceConfidence)
	}
	if c.MinEmotionConfidence < 0 || c.MinEmotionConfidence > 1 {
		return fmt.Errorf("min emotion confidence must be between 0 and 1, got %v", c.MinEmotionConfidence)
	}
	if c.ProcessingWidth <= 0 || c.ProcessingHeight <= 0 {
		return fmt.Errorf("processing size must be positive, got %dx%d", c.ProcessingWidth, c.ProcessingHeight)
	}
	if c.MaxFaces < 1 {
		return fmt.Errorf("max faces must be >= 1, got %d", c.MaxFaces)
	}
	return nil
}

// Env holds the process environment consumed by the CLI. Flags override it.
type Env struct {
	Environment string `envconfig:"ENV" default:"development"`

	Engine    string        `envconfig:"ENGINE" default:"worker"`
	EngineCmd string        `envconfig:"ENGINE_CMD" default:"python3 -u python/engine.py"`
	Timeout   time.Duration `envconfig:"WORKER_TIMEOUT" default:"30s"`

	ModelsSrc string `envconfig:"MODELS_SRC" default:"assets"`
	ModelsDir string `envconfig:"MODELS_DIR" default:"/data"`

	MinFaceConfidence    float32 `envconfig:"MIN_FACE_CONFIDENCE" default:"0.5"`
	MinEmotionConfidence float32 `envconfig:"MIN_EMOTION_CONFIDENCE" default:"0.2"`
	ProcessingWidth      int     `envconfig:"PROCESSING_WIDTH" default:"320"`
	ProcessingHeight     int     `envconfig:"PROCESSING_HEIGHT" default:"240"`
	MaxFaces             int     `envconfig:"MAX_FACES" default:"2"`
	EnableGPU            bool    `envconfig:"ENABLE_GPU" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
}

// EnvPrefix is prepended to every variable name, e.g. NEPTUNE_ENGINE.
const EnvPrefix = "NEPTUNE"

func Load() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &env, nil
}

func (e *Env) IsDevelopment() bool {
	return e.Environment == "development"
}

func (e *Env) IsProduction() bool {
	return e.Environment == "production"
}
