// Package scan drives the machine over a rectangular raster, stopping at every
// grid point long enough for a measurement to be taken.
package scan

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"

	"github.com/professor93/grblctl/internal/gcode"
	"github.com/professor93/grblctl/pkg/constants"
)

// Axis orders. The first letter names the primary axis, the one swept along
// each row.
const (
	OrderXY = "xy"
	OrderYX = "yx"
)

// Ratio is the aspect ratio of the scanned area.
type Ratio struct {
	X int `json:"x" validate:"gt=0"`
	Y int `json:"y" validate:"gt=0"`
}

// Plan describes a raster scan. A zero range is derived from the other one
// through the aspect ratio.
type Plan struct {
	XRange  float64 `json:"x_range" validate:"gte=0"`
	YRange  float64 `json:"y_range" validate:"gte=0"`
	Ratio   Ratio   `json:"ratio"`
	Quality int     `json:"quality" validate:"gt=0,lte=100"`
	Order   string  `json:"order" validate:"oneof=xy yx"`
}

var validate = validator.New()

// DefaultPlan returns the stock 130 mm wide 4:3 scan.
func DefaultPlan() Plan {
	return Plan{
		XRange:  constants.DefaultScanXRange,
		Ratio:   Ratio{X: constants.DefaultScanRatioX, Y: constants.DefaultScanRatioY},
		Quality: constants.DefaultScanQuality,
		Order:   constants.DefaultScanOrder,
	}
}

// Normalize validates the plan and fills in a derived range.
func (p Plan) Normalize() (Plan, error) {
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("invalid scan plan: %w", err)
	}
	if p.XRange == 0 && p.YRange == 0 {
		return p, fmt.Errorf("invalid scan plan: x_range or y_range must be set")
	}

	x, y := p.ranges()
	p.XRange, _ = x.Float64()
	p.YRange, _ = y.Float64()
	return p, nil
}

func (p Plan) ranges() (x, y *big.Rat) {
	ratio := big.NewRat(int64(p.Ratio.X), int64(p.Ratio.Y))
	x = new(big.Rat).SetFloat64(p.XRange)
	y = new(big.Rat).SetFloat64(p.YRange)

	switch {
	case p.XRange == 0:
		x.Mul(y, ratio)
	case p.YRange == 0:
		y.Quo(x, ratio)
	}
	return x, y
}

// Divisions returns the number of intervals along each axis.
func (p Plan) Divisions() (dx, dy int) {
	return p.Ratio.X * p.Quality, p.Ratio.Y * p.Quality
}

// Steps returns the exact grid spacing along each axis.
func (p Plan) Steps() (x, y *big.Rat) {
	rx, ry := p.ranges()
	dx, dy := p.Divisions()
	x = new(big.Rat).Quo(rx, big.NewRat(int64(dx), 1))
	y = new(big.Rat).Quo(ry, big.NewRat(int64(dy), 1))
	return x, y
}

// PointCount is the number of grid points the scan visits.
func (p Plan) PointCount() int {
	dx, dy := p.Divisions()
	return (dx + 1) * (dy + 1)
}

// Points returns the serpentine path over the grid, starting at the origin.
// The primary axis is swept first and reverses on every row; the path ends on
// the last row.
func (p Plan) Points() ([]gcode.Point, error) {
	p, err := p.Normalize()
	if err != nil {
		return nil, err
	}

	sx, sy := p.Steps()
	dx, dy := p.Divisions()

	nPri, nSec := dx, dy
	sPri, sSec := sx, sy
	if p.Order == OrderYX {
		nPri, nSec = dy, dx
		sPri, sSec = sy, sx
	}

	coord := func(step *big.Rat, i int) float64 {
		v, _ := new(big.Rat).Mul(step, big.NewRat(int64(i), 1)).Float64()
		return v
	}

	points := make([]gcode.Point, 0, p.PointCount())
	for row := 0; row <= nSec; row++ {
		for k := 0; k <= nPri; k++ {
			i := k
			if row%2 == 1 {
				i = nPri - k
			}
			pri, sec := coord(sPri, i), coord(sSec, row)
			if p.Order == OrderYX {
				points = append(points, gcode.Point{X: sec, Y: pri})
			} else {
				points = append(points, gcode.Point{X: pri, Y: sec})
			}
		}
	}
	return points, nil
}
