package sdk

import (
	"image"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/types"
)

// SDK is the processing façade bound to one live engine handle.
// Calls block until the engine returns and are serialized per instance.
type SDK struct {
	handle *engine.Handle
	cfg    config.Config
}

// ProcessImage runs the engine on a packed RGB buffer of width*height*3 bytes.
// An image without faces yields an empty slice and a nil error.
func (s *SDK) ProcessImage(pixels []byte, width, height int) ([]types.FaceResult, error) {
	return s.handle.Process(pixels, width, height)
}

// ProcessBitmap flattens img to packed RGB and processes it.
func (s *SDK) ProcessBitmap(img image.Image) ([]types.FaceResult, error) {
	b := img.Bounds()
	return s.ProcessImage(Flatten(img), b.Dx(), b.Dy())
}

// Release frees the engine instance. Calling it again is a no-op.
func (s *SDK) Release() {
	s.handle.Release()
}

// Closed reports whether Release has been called.
func (s *SDK) Closed() bool {
	return s.handle.State() == engine.Released
}

// Config returns the configuration the engine was created with.
func (s *SDK) Config() config.Config {
	return s.cfg
}
