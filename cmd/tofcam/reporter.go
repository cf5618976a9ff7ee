package main

import (
	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
)

// depthReporter logs calibrated depth statistics for every n-th frame. It
// runs on the queue's dispatch goroutine and is not safe for concurrent use.
type depthReporter struct {
	cal   *calibration.Calibration
	every int
	seen  int
}

func newDepthReporter(cal *calibration.Calibration, every int) *depthReporter {
	if every < 1 {
		every = 1
	}
	return &depthReporter{cal: cal, every: every}
}

func (r *depthReporter) ConsumeImage(f frame.Frame) {
	r.seen++
	if r.seen%r.every != 0 {
		return
	}
	st := r.cal.Adapt(f).Stats()
	points := r.cal.ImageToPointCloud(f)
	monitoring.Logf("[depth] frame %d %dx%d: %d valid, depth min %.3f mean %.3f max %.3f (sd %.3f), %d points",
		r.seen, f.Rows(), f.Cols(), st.Valid, st.Min, st.Mean, st.Max, st.StdDev, len(points))
}
