package calcs

import "github.com/go-gl/mathgl/mgl64"

// Centroid is the mean of the points. It is the zero vector for no points.
func Centroid(points []mgl64.Vec3) (c mgl64.Vec3) {
	if len(points) == 0 {
		return
	}

	for _, p := range points {
		c = c.Add(p)
	}

	return c.Mul(1 / float64(len(points)))
}

// WeightedCentroid weights each point by w. Points with zero weight are ignored;
// ok is false if nothing carried weight.
func WeightedCentroid(points []mgl64.Vec3, w []float64) (c mgl64.Vec3, ok bool) {
	var sum float64

	for i, p := range points {
		if i >= len(w) {
			break
		}
		sum += w[i]
		c = c.Add(p.Mul(w[i]))
	}

	if sum == 0 {
		return mgl64.Vec3{}, false
	}
	return c.Mul(1 / sum), true
}
