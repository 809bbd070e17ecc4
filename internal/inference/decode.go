package inference

import (
	"fmt"
	"math"

	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/session"
)

// bucket upper bounds (exclusive) for the five engagement classes; the last bucket includes 1.0
var bucketBounds = []float64{0.175, 0.40, 0.60, 0.825}

// Classify maps a regression score to its engagement bucket
func Classify(score float64) (int, string, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return -1, InvalidScoreRangeLabel, fmt.Errorf("%w: %v", ErrInvalidScoreRange, score)
	}
	for i, bound := range bucketBounds {
		if score < bound {
			return i, models.EngagementClasses[i], nil
		}
	}
	last := len(models.EngagementClasses) - 1
	return last, models.EngagementClasses[last], nil
}

// Clamp01 limits x to [0, 1]
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Softmax converts logits to probabilities, subtracting the max logit first
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	top := math.Inf(-1)
	for _, l := range logits {
		top = math.Max(top, float64(l))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - top)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value, the first one on ties
func Argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// Decode turns raw session outputs into a prediction according to the output contract
func Decode(contract models.OutputContract, outputs []session.Tensor) (*Prediction, error) {
	raw := make(map[string][]float32, len(outputs))
	for _, o := range outputs {
		raw[o.Name] = o.Data
	}

	var pred *Prediction
	var err error

	switch contract.OutputType {
	case models.OutputDualRegressionClassification:
		if len(outputs) < 2 {
			return nil, fmt.Errorf("%w: dual model returned %d outputs", ErrInvalidOutput, len(outputs))
		}
		pred, err = decodeRegression(outputs[0])
		if err != nil {
			return nil, err
		}
		head, err := decodeClassification(contract, outputs[1])
		if err != nil {
			return nil, err
		}
		pred.Classification = &ClassificationHead{
			ClassIndex:    head.ClassIndex,
			ClassName:     head.ClassName,
			Probabilities: head.Classification.Probabilities,
		}

	case models.OutputSingleRegression:
		if len(outputs) < 1 {
			return nil, fmt.Errorf("%w: no outputs", ErrInvalidOutput)
		}
		pred, err = decodeRegression(outputs[0])

	case models.OutputSingleClassification:
		if len(outputs) < 1 {
			return nil, fmt.Errorf("%w: no outputs", ErrInvalidOutput)
		}
		pred, err = decodeClassification(contract, outputs[0])
		if err == nil {
			pred.Classification = nil
		}

	default:
		return nil, fmt.Errorf("%w: unsupported output type %q", ErrInvalidOutput, contract.OutputType)
	}

	if err != nil {
		return nil, err
	}
	pred.RawOutputs = raw
	return pred, nil
}

// decodeRegression expects exactly one value. Logit vectors belong to
// classification contracts and are not reinterpreted here.
func decodeRegression(t session.Tensor) (*Prediction, error) {
	if len(t.Data) != 1 {
		return nil, fmt.Errorf("%w: regression output %s has %d values", ErrInvalidOutput, t.Name, len(t.Data))
	}
	v := float64(t.Data[0])
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: regression output %s is %v", ErrInvalidOutput, t.Name, v)
	}

	score := Clamp01(v)
	idx, name, err := Classify(score)
	if err != nil {
		return nil, err
	}
	return &Prediction{Score: score, ClassIndex: idx, ClassName: name}, nil
}

func decodeClassification(contract models.OutputContract, t session.Tensor) (*Prediction, error) {
	if len(t.Data) < 2 {
		return nil, fmt.Errorf("%w: classification output %s has %d values", ErrInvalidOutput, t.Name, len(t.Data))
	}
	if contract.NumClasses > 0 && len(t.Data) != contract.NumClasses {
		return nil, fmt.Errorf("%w: classification output %s has %d values, expected %d",
			ErrInvalidOutput, t.Name, len(t.Data), contract.NumClasses)
	}

	probs := Softmax(t.Data)
	for _, p := range probs {
		if math.IsNaN(p) {
			return nil, fmt.Errorf("%w: classification output %s is not finite", ErrInvalidOutput, t.Name)
		}
	}

	idx := Argmax(probs)
	return &Prediction{
		Score:      probs[idx],
		ClassIndex: idx,
		ClassName:  contract.Label(idx),
		Classification: &ClassificationHead{
			ClassIndex:    idx,
			ClassName:     contract.Label(idx),
			Probabilities: probs,
		},
	}, nil
}
