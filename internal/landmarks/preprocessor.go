package landmarks

import (
	"errors"
	"fmt"

	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/models"
)

// ErrEmptySequence is returned when no frame is supplied
var ErrEmptySequence = errors.New("empty landmark sequence")

// Preprocessor builds flat model input tensors from landmark frames
type Preprocessor struct {
	logger *logger.Logger
}

// NewPreprocessor creates a preprocessor
func NewPreprocessor(log *logger.Logger) *Preprocessor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Preprocessor{logger: log}
}

// Build converts frames into a row-major [sequence][landmark][coord] float32 buffer
// shaped for the given input contract. Only the latest SequenceLength frames are
// used; missing landmarks, coordinates and trailing frames are filled with Sentinel.
func (p *Preprocessor) Build(frames []Frame, in models.InputContract) ([]float32, error) {
	if len(frames) == 0 {
		return nil, ErrEmptySequence
	}
	if in.SequenceLength <= 0 || in.NumLandmarks <= 0 || in.NumCoords <= 0 {
		return nil, fmt.Errorf("invalid input contract %dx%dx%d", in.SequenceLength, in.NumLandmarks, in.NumCoords)
	}

	if len(frames) > in.SequenceLength {
		frames = frames[len(frames)-in.SequenceLength:]
	}

	grid := make([][][]float64, in.SequenceLength)
	for i := range grid {
		grid[i] = sentinelFrame(in.NumLandmarks, in.NumCoords)
		if i >= len(frames) {
			continue
		}
		fillFrame(grid[i], frames[i])
	}

	if in.Normalize {
		outliers := 0
		for i := range frames {
			outliers += Normalize(grid[i]).Outliers
		}
		if outliers > 0 {
			p.logger.Warn("Capped outlier landmarks during normalization", "count", outliers)
		}
	}

	out := make([]float32, 0, in.ElementCount())
	for _, frame := range grid {
		for _, lm := range frame {
			for _, v := range lm {
				out = append(out, float32(v))
			}
		}
	}

	return out, nil
}

func sentinelFrame(numLandmarks, numCoords int) [][]float64 {
	backing := make([]float64, numLandmarks*numCoords)
	for i := range backing {
		backing[i] = Sentinel
	}
	frame := make([][]float64, numLandmarks)
	for j := range frame {
		frame[j] = backing[j*numCoords : (j+1)*numCoords : (j+1)*numCoords]
	}
	return frame
}

func fillFrame(dst [][]float64, src Frame) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for j := 0; j < n; j++ {
		coords := [3]float64{src[j].X, src[j].Y, src[j].Z}
		for c := 0; c < len(dst[j]) && c < len(coords); c++ {
			dst[j][c] = coords[c]
		}
	}
}
