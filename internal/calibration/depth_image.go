package calibration

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tofcam/internal/frame"
)

// DepthImage reads a frame through a calibration.
type DepthImage struct {
	frame frame.Frame
	cal   *Calibration
}

// Adapt wraps f so its pixels read as depth values.
func (c *Calibration) Adapt(f frame.Frame) DepthImage {
	return DepthImage{frame: f, cal: c}
}

func (d DepthImage) Rows() int          { return d.frame.Rows() }
func (d DepthImage) Cols() int          { return d.frame.Cols() }
func (d DepthImage) Frame() frame.Frame { return d.frame }

// CheckPixel reports whether pixel (i, j) holds a usable return.
func (d DepthImage) CheckPixel(i, j int) bool {
	return Valid(d.frame.Pixel(i, j))
}

// Depth returns the calibrated depth of pixel (i, j).
func (d DepthImage) Depth(i, j int) float64 {
	return d.cal.Depth(d.frame.Pixel(i, j))
}

// DepthMap returns the depth of every pixel, row-major, invalid ones
// included.
func (d DepthImage) DepthMap() []float64 {
	out := make([]float64, d.frame.Len())
	for k := range out {
		out[k] = d.cal.Depth(d.frame.At(k))
	}
	return out
}

// Stats summarises the valid depths of a frame.
type Stats struct {
	Valid  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Stats computes depth statistics over the valid pixels of the image.
func (d DepthImage) Stats() Stats {
	depths := make([]float64, 0, d.frame.Len())
	for k := 0; k < d.frame.Len(); k++ {
		if p := d.frame.At(k); Valid(p) {
			depths = append(depths, d.cal.Depth(p))
		}
	}
	if len(depths) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(depths, nil)
	if len(depths) == 1 {
		std = 0
	}
	return Stats{
		Valid:  len(depths),
		Min:    floats.Min(depths),
		Max:    floats.Max(depths),
		Mean:   mean,
		StdDev: std,
	}
}
