package inference

import (
	"errors"
	"time"
)

var (
	// ErrNotReady is returned when no session could be loaded for a prediction
	ErrNotReady = errors.New("inference engine not ready")
	// ErrInvalidScoreRange is returned for regression scores outside [0, 1]
	ErrInvalidScoreRange = errors.New("invalid score range")
	// ErrInvalidOutput is returned when model outputs don't match the output contract
	ErrInvalidOutput = errors.New("invalid model output")
)

// InvalidScoreRangeLabel is the display label for a score that can't be bucketed
const InvalidScoreRangeLabel = "Invalid Score Range"

// Mode tells where a prediction was computed
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// State is the engine's session lifecycle state
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
)

// Prediction is the decoded result of one inference
type Prediction struct {
	ID             string               `json:"id"`
	Score          float64              `json:"score"`
	ClassIndex     int                  `json:"classIndex"`
	ClassName      string               `json:"className"`
	RawOutputs     map[string][]float32 `json:"rawOutputs,omitempty"`
	ModelID        string               `json:"modelId"`
	Mode           Mode                 `json:"mode"`
	Classification *ClassificationHead  `json:"classification,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	LatencyMS      float64              `json:"latencyMs"`
}

// ClassificationHead carries the secondary classifier output of dual-head models
type ClassificationHead struct {
	ClassIndex    int       `json:"classIndex"`
	ClassName     string    `json:"className"`
	Probabilities []float64 `json:"probabilities"`
}

// Stats represents inference statistics
type Stats struct {
	TotalPredictions  int64   `json:"total_predictions"`
	FailedPredictions int64   `json:"failed_predictions"`
	AverageLatencyMS  float64 `json:"average_latency_ms"`
	Loads             int64   `json:"loads"`
	LoadFailures      int64   `json:"load_failures"`
}
