package landmarks

import "math"

const (
	minScaleDistance = 1e-6
	outlierFactor    = 5.0
)

// NormalizeResult reports what Normalize did to a frame
type NormalizeResult struct {
	Applied       bool
	ScaleDistance float64
	Scaled        bool
	Outliers      int
}

// Normalize centers a frame on the nose tip and scales it by the distance
// between the outer eye corners. frame is indexed [landmark][coord] and is
// modified in place. Sentinel landmarks are never touched, and frames that
// are all sentinel or whose reference landmarks are sentinel pass through.
func Normalize(frame [][]float64) NormalizeResult {
	var res NormalizeResult

	if len(frame) <= RightEyeOuterIndex || len(frame) <= LeftEyeOuterIndex || len(frame) <= NoseTipIndex {
		return res
	}
	if len(frame[0]) < 2 {
		return res
	}

	sentinel := make([]bool, len(frame))
	allSentinel := true
	for i, lm := range frame {
		sentinel[i] = isSentinelRow(lm)
		if !sentinel[i] {
			allSentinel = false
		}
	}
	if allSentinel {
		return res
	}
	if sentinel[NoseTipIndex] || sentinel[LeftEyeOuterIndex] || sentinel[RightEyeOuterIndex] {
		return res
	}

	res.Applied = true

	nose := append([]float64(nil), frame[NoseTipIndex]...)
	for i, lm := range frame {
		if sentinel[i] {
			continue
		}
		for c := 0; c < spatialDims(lm); c++ {
			lm[c] -= nose[c]
		}
	}

	left, right := frame[LeftEyeOuterIndex], frame[RightEyeOuterIndex]
	scale := math.Hypot(right[0]-left[0], right[1]-left[1])
	res.ScaleDistance = scale
	if scale < minScaleDistance {
		return res
	}
	res.Scaled = true

	threshold := outlierFactor * scale
	for i, lm := range frame {
		if sentinel[i] {
			continue
		}
		factor := 1 / scale
		if dist := norm(lm); dist > threshold {
			// keep the direction, cap the magnitude at the threshold
			factor = threshold / dist / scale
			res.Outliers++
		}
		for c := 0; c < spatialDims(lm); c++ {
			lm[c] *= factor
		}
	}

	return res
}

func isSentinelRow(coords []float64) bool {
	for _, v := range coords {
		if v != Sentinel {
			return false
		}
	}
	return len(coords) > 0
}

// spatialDims is the number of x, y, z coordinates present in a row
func spatialDims(v []float64) int {
	if len(v) > 3 {
		return 3
	}
	return len(v)
}

func norm(v []float64) float64 {
	var sum float64
	for c := 0; c < spatialDims(v); c++ {
		sum += v[c] * v[c]
	}
	return math.Sqrt(sum)
}
