package types

import "time"

// ImageTask represents a single image sent to an SDK instance for processing
type ImageTask struct {
	Index int
	Path  string
}

// Point is a facial landmark in source image pixels
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// FaceBox is the detected face region
type FaceBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float32 `json:"confidence"`
	Landmarks  []Point `json:"landmarks,omitempty"`
}

// Emotion matches the emotion model's output index
type Emotion int

const (
	EmotionAnger Emotion = iota
	EmotionDisgust
	EmotionFear
	EmotionHappiness
	EmotionSadness
	EmotionSurprise
	EmotionNeutral
	EmotionUnknown
)

var emotionNames = [...]string{"anger", "disgust", "fear", "happiness", "sadness", "surprise", "neutral", "unknown"}

func (e Emotion) String() string {
	if e < 0 || int(e) >= len(emotionNames) {
		return "unknown"
	}
	return emotionNames[e]
}

type EmotionResult struct {
	Label         Emotion   `json:"label"`
	Confidence    float32   `json:"confidence"`
	Probabilities []float32 `json:"probabilities,omitempty"`
}

type LivenessStatus int

const (
	LivenessUnknown LivenessStatus = iota
	LivenessNotLive
	LivenessLive
)

func (s LivenessStatus) String() string {
	switch s {
	case LivenessNotLive:
		return "not_live"
	case LivenessLive:
		return "live"
	default:
		return "unknown"
	}
}

type LivenessResult struct {
	Status     LivenessStatus `json:"status"`
	Confidence float32        `json:"confidence"`
	Reason     string         `json:"reason,omitempty"` // blink / head turn / none
}

// FaceResult is one per-face record produced by the engine. It is treated as
// an immutable value once returned.
type FaceResult struct {
	Box              FaceBox        `json:"box"`
	Emotion          EmotionResult  `json:"emotion"`
	Liveness         LivenessResult `json:"liveness"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
}

// ImageResult groups the faces found in one processed image
type ImageResult struct {
	Index     int           `json:"index"`
	Path      string        `json:"path"`
	ImageID   string        `json:"image_id"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Faces     []FaceResult  `json:"faces"`
	Err       string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Processed time.Time     `json:"processed_at"`
}

// ErrorResult captures the error object returned by the engine on failure
type ErrorResult struct {
	Error string `json:"error"`
}
