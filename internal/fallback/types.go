package fallback

import (
	"errors"

	"github.com/vzahanych/engagement-edge/internal/landmarks"
)

// ErrRemoteUnavailable is returned when the remote service gave no usable result
var ErrRemoteUnavailable = errors.New("remote engagement service unavailable")

// ExtractionLandmarks is the extraction method sent with landmark payloads
const ExtractionLandmarks = "landmarks"

// ProcessRequest is the body posted to the remote engagement service
type ProcessRequest struct {
	VideoID          string          `json:"videoId"`
	CurrentVideoTime float64         `json:"currentVideoTime"`
	ExtractionMethod string          `json:"extractionMethod"`
	Payload          LandmarkPayload `json:"payload"`
	ModelVariant     string          `json:"modelVariant,omitempty"`
}

// LandmarkPayload carries the frame window
type LandmarkPayload struct {
	FPS             int               `json:"fps"`
	IntervalSeconds float64           `json:"intervalSeconds"`
	LandmarkCount   int               `json:"landmarkCount"`
	Landmarks       []landmarks.Frame `json:"landmarks"`
}

// ProcessResponse is the remote service's answer
type ProcessResponse struct {
	ModelResult *ModelResult `json:"modelResult"`
}

// ModelResult is the remote model output. Only the score is required.
type ModelResult struct {
	Score      *float64 `json:"score"`
	Class      string   `json:"class,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Model      string   `json:"model,omitempty"`
}
