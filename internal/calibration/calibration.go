// Package calibration turns raw MaixSense-A010 samples into depth values and
// projects depth frames into 3-D point clouds.
package calibration

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
)

// Sensor field of view used by the default calibration.
const (
	DefaultHorizontalFOV = 70.0 // degrees
	DefaultVerticalFOV   = 60.0 // degrees
	DefaultImageSize     = 100

	// MaxQuantizationUnit is the largest linear step the sensor supports.
	MaxQuantizationUnit = 9

	// nonlinearScale is the empirical response of the sensor in
	// quantization unit 0: depth_mm = (pixel / 5.1)^2.
	nonlinearScale = 5.1
)

// Calibration maps pixels to depth and depth frames to points. Configure the
// field of view and image size before sharing it between goroutines. The
// quantization unit may change at any time, following the device.
type Calibration struct {
	unit      atomic.Int32
	hfov      float64 // radians
	vfov      float64 // radians
	imageSize int
}

// NewDefault returns the stock calibration: quantization unit 0, 70x60
// degree field of view and 100x100 images.
func NewDefault() *Calibration {
	return New(DefaultHorizontalFOV, DefaultVerticalFOV)
}

// New returns a calibration for a sensor with the given field of view in
// degrees.
func New(hfovDeg, vfovDeg float64) *Calibration {
	return &Calibration{
		hfov:      hfovDeg * math.Pi / 180,
		vfov:      vfovDeg * math.Pi / 180,
		imageSize: DefaultImageSize,
	}
}

// ValidQuantizationUnit returns unit if it is in [0,9] and 0 otherwise,
// reporting the substitution as a warning. The driver and the calibration
// share this rule so that both agree on the effective unit.
func ValidQuantizationUnit(unit int) int {
	if unit < 0 || unit > MaxQuantizationUnit {
		monitoring.Warnf("quantization unit must be in [0,%d], got %d; using 0", MaxQuantizationUnit, unit)
		return 0
	}
	return unit
}

// SetQuantizationUnit selects the depth mode: 0 for the nonlinear curve in
// metres, 1..9 for linear steps. Out-of-range values fall back to 0.
func (c *Calibration) SetQuantizationUnit(unit int) {
	c.unit.Store(int32(ValidQuantizationUnit(unit)))
}

func (c *Calibration) QuantizationUnit() int { return int(c.unit.Load()) }

// SetImageSize sets the side length of the square images the intrinsics are
// reported for.
func (c *Calibration) SetImageSize(n int) {
	if n > 0 {
		c.imageSize = n
	}
}

// Depth converts one raw sample. In unit 0 the result is metres; in units
// 1..9 it is unit*pixel in the unit's step scale (millimetres in practice).
// Callers must not mix values from the two modes.
func (c *Calibration) Depth(pixel uint8) float64 {
	return depth(int(c.unit.Load()), pixel)
}

func depth(unit int, pixel uint8) float64 {
	if unit == 0 {
		s := float64(pixel) / nonlinearScale
		return s * s * 1e-3
	}
	return float64(unit * int(pixel))
}

// Valid reports whether a raw sample carries a usable return. 0 means no
// return and 255 means saturated.
func Valid(pixel uint8) bool {
	return pixel > 0 && pixel < 255
}

// Intrinsics is the pinhole model for one image size.
type Intrinsics struct {
	Rows, Cols int
	Fx, Fy     float64
	Cx, Cy     float64
}

// Intrinsics returns the pinhole parameters for the configured image size.
func (c *Calibration) Intrinsics() Intrinsics {
	return c.intrinsicsFor(c.imageSize, c.imageSize)
}

func (c *Calibration) intrinsicsFor(rows, cols int) Intrinsics {
	return Intrinsics{
		Rows: rows,
		Cols: cols,
		Fx:   (float64(cols) / 2) / math.Tan(c.hfov/2),
		Fy:   (float64(rows) / 2) / math.Tan(c.vfov/2),
		Cx:   float64(cols) / 2,
		Cy:   float64(rows) / 2,
	}
}

// Project maps pixel (i, j) at the given depth into camera coordinates:
// x to the right, y down, z along the optical axis.
func (in Intrinsics) Project(i, j int, depth float64) r3.Vec {
	return r3.Vec{
		X: (float64(j) - in.Cx) * depth / in.Fx,
		Y: (float64(i) - in.Cy) * depth / in.Fy,
		Z: depth,
	}
}

// ImageToPointCloud projects every valid pixel of f, in row-major order. The
// intrinsics follow the frame's own size, so a binning change needs no
// reconfiguration.
func (c *Calibration) ImageToPointCloud(f frame.Frame) []r3.Vec {
	if f.IsZero() {
		return nil
	}
	in := c.intrinsicsFor(f.Rows(), f.Cols())
	unit := c.QuantizationUnit()
	points := make([]r3.Vec, 0, f.Len())
	for i := 0; i < f.Rows(); i++ {
		for j := 0; j < f.Cols(); j++ {
			p := f.Pixel(i, j)
			if !Valid(p) {
				continue
			}
			points = append(points, in.Project(i, j, depth(unit, p)))
		}
	}
	return points
}
