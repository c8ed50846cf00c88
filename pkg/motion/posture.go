package motion

import "github.com/teslashibe/go-cprcoach/pkg/geometry"

// ElbowAngles returns the shoulder-elbow-wrist angle for each arm.
func ElbowAngles(landmarks []geometry.Point) (left, right float64) {
	left = geometry.AngleDegrees(landmarks[LeftShoulder], landmarks[LeftElbow], landmarks[LeftWrist])
	right = geometry.AngleDegrees(landmarks[RightShoulder], landmarks[RightElbow], landmarks[RightWrist])
	return left, right
}

// ElbowsLocked reports whether both arms are straighter than LockedElbowDegree.
func ElbowsLocked(landmarks []geometry.Point) bool {
	if len(landmarks) < NumLandmarks {
		return false
	}
	left, right := ElbowAngles(landmarks)
	return left > LockedElbowDegree && right > LockedElbowDegree
}

// IsInStartPosition reports whether the subject is ready to compress: both
// elbows locked, hands together, and hands centered under the shoulders.
func IsInStartPosition(landmarks []geometry.Point) bool {
	if len(landmarks) < NumLandmarks {
		return false
	}

	lShoulder, rShoulder := landmarks[LeftShoulder], landmarks[RightShoulder]
	lWrist, rWrist := landmarks[LeftWrist], landmarks[RightWrist]

	wristSpread := abs(lWrist.X - rWrist.X)
	wristOffset := abs(geometry.Midpoint(lWrist, rWrist).X - geometry.Midpoint(lShoulder, rShoulder).X)

	return ElbowsLocked(landmarks) &&
		wristSpread < MaxWristSpread &&
		wristOffset < MaxWristOffset
}
