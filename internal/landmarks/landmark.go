// Package landmarks turns face-landmark frames into model input tensors.
package landmarks

// Sentinel marks an absent or padding landmark coordinate
const Sentinel = -1.0

// Reference landmarks used for distance-based normalization
const (
	NoseTipIndex       = 1
	LeftEyeOuterIndex  = 33
	RightEyeOuterIndex = 263
)

// Landmark is one 3D facial keypoint in normalized image coordinates
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IsSentinel reports whether all coordinates carry the sentinel value
func (l Landmark) IsSentinel() bool {
	return l.X == Sentinel && l.Y == Sentinel && l.Z == Sentinel
}

// Frame is the set of landmarks detected in one camera sample
type Frame []Landmark

// PlaceholderFrame returns a frame of n sentinel landmarks, used when no face was detected
func PlaceholderFrame(n int) Frame {
	f := make(Frame, n)
	for i := range f {
		f[i] = Landmark{X: Sentinel, Y: Sentinel, Z: Sentinel}
	}
	return f
}

// IsPlaceholder reports whether the frame carries no detected landmark
func (f Frame) IsPlaceholder() bool {
	for _, l := range f {
		if !l.IsSentinel() {
			return false
		}
	}
	return true
}
