package world

import "math"

// Angles are degrees. 0 points along +x, positive turns toward +y (screen
// coordinates, so clockwise on screen).

// NormalizeDeg maps a to [-180, 180).
func NormalizeDeg(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// AngleTo returns the heading from (x0, y0) toward (x1, y1).
func AngleTo(x0, y0, x1, y1 float64) float64 {
	return NormalizeDeg(math.Atan2(y1-y0, x1-x0) * 180 / math.Pi)
}

// Vector returns the unit vector for heading deg scaled by length.
func Vector(deg, length float64) (float64, float64) {
	rad := deg * math.Pi / 180
	return math.Cos(rad) * length, math.Sin(rad) * length
}

func Distance(x0, y0, x1, y1 float64) float64 {
	return math.Hypot(x1-x0, y1-y0)
}
