package tracker

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Detection is a single classified brick sensed in one frame
type Detection struct {
	Centroid Point
	Shape    Shape
	Color    Color
}

// NewDetection creates detection from integer sensor coordinates
func NewDetection(x, y int, shape Shape, color Color) Detection {
	return Detection{
		Centroid: Point{X: float64(x), Y: float64(y)},
		Shape:    shape,
		Color:    color,
	}
}

// Token is the persistent state of one physical brick.
// Centroid, shape and color always hold the last matched detection's values;
// the Kalman estimate is kept aside for rendering only.
type Token struct {
	ID               int
	Centroid         Point
	Shape            Shape
	Color            Color
	DisappearedCount int

	smoothed    Point
	track       []Point
	maxTrackLen int
	kf          *kalman_filter.Kalman2D
}

func newToken(id int, detection Detection, dt float64) *Token {
	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	kf := kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(detection.Centroid.X, detection.Centroid.Y))
	token := Token{
		ID:               id,
		Centroid:         detection.Centroid,
		Shape:            detection.Shape,
		Color:            detection.Color,
		DisappearedCount: 0,
		smoothed:         detection.Centroid,
		track:            make([]Point, 0, 150),
		maxTrackLen:      150,
		kf:               kf,
	}
	token.track = append(token.track, token.Centroid)
	return &token
}

// Smoothed returns Kalman-filtered position of the token
func (token *Token) Smoothed() Point {
	return token.smoothed
}

// Track returns token's recent positions. Be careful: this is not copy of track, but reference to it
func (token *Token) Track() []Point {
	return token.track
}

// SetMaxTrackLen sets token's max track length
func (token *Token) SetMaxTrackLen(newMaxTrackLen int) {
	token.maxTrackLen = newMaxTrackLen
}

// match applies the matched detection and resets disappearance counter
func (token *Token) match(detection Detection) error {
	token.Centroid = detection.Centroid
	token.Shape = detection.Shape
	token.Color = detection.Color
	token.DisappearedCount = 0

	token.kf.Predict()
	err := token.kf.Update(token.Centroid.X, token.Centroid.Y)
	if err != nil {
		return errors.Wrapf(err, "Can't update smoothing filter of token %d", token.ID)
	}
	stateX, stateY := token.kf.GetState()
	token.smoothed = Point{X: stateX, Y: stateY}

	token.track = append(token.track, token.Centroid)
	if len(token.track) > token.maxTrackLen {
		token.track = token.track[1:]
	}
	return nil
}

// miss marks one more frame without a matching detection
func (token *Token) miss() {
	token.DisappearedCount++
}

func (token *Token) record() BrickRecord {
	return BrickRecord{
		ID:       token.ID,
		Centroid: token.Centroid,
		Shape:    token.Shape,
		Color:    token.Color,
	}
}
