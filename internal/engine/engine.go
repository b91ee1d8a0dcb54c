package engine

import (
	"fmt"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/domain"
	"github.com/andresmejia3/neptune/internal/types"
)

// ID is the opaque identifier returned by the engine's create primitive.
// Zero means no engine was created.
type ID uint64

// BytesPerPixel is the packed RGB layout the engine reads.
const BytesPerPixel = 3

// Engine is the external inference engine reached through three synchronous primitives.
type Engine interface {
	// Create loads the models and returns a new engine instance, or 0 on failure.
	Create(cfg config.Config) (ID, error)

	// Process runs detection, emotion and liveness on a packed RGB buffer.
	// No faces is an empty slice with a nil error.
	Process(id ID, pixels []byte, width, height int) ([]types.FaceResult, error)

	// Release frees the engine instance. It is fire-and-forget.
	Release(id ID)
}

// ValidateBuffer checks that pixels holds exactly width*height packed RGB pixels.
func ValidateBuffer(pixels []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return domain.ErrInvalidBuffer.WithError(fmt.Errorf("invalid dimensions %dx%d", width, height))
	}
	want := width * height * BytesPerPixel
	if len(pixels) != want {
		return domain.ErrInvalidBuffer.WithError(fmt.Errorf("got %d bytes, want %d for %dx%d", len(pixels), want, width, height))
	}
	return nil
}
