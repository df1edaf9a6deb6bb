package gcode

import (
	"math"
	"time"
)

// Point is a two-axis position in millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AxisDuration estimates how long one axis takes to travel distance mm with a
// symmetric trapezoidal velocity profile: accelerate to feed, cruise,
// decelerate. Moves too short to reach feed use a triangular profile.
// feed is in mm/min, accel in mm/sec^2.
func AxisDuration(distance, feed, accel float64) time.Duration {
	distance = math.Abs(distance)
	if distance == 0 || feed <= 0 {
		return 0
	}
	v := feed / 60
	if accel <= 0 {
		return seconds(distance / v)
	}

	// T = (v-u)/A
	rampTime := v / accel
	// D = 1/2 A T^2
	rampDist := 0.5 * accel * rampTime * rampTime

	if distance < 2*rampDist {
		return seconds(2 * math.Sqrt(distance/accel))
	}
	cruise := (distance - 2*rampDist) / v
	return seconds(cruise + 2*rampTime)
}

// MoveDuration estimates a move from one point to another; axes move
// simultaneously so the slowest one wins.
func MoveDuration(from, to Point, feed, accel float64) time.Duration {
	dx := AxisDuration(to.X-from.X, feed, accel)
	dy := AxisDuration(to.Y-from.Y, feed, accel)
	if dx > dy {
		return dx
	}
	return dy
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
