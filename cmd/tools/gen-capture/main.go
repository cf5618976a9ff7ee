// Command gen-capture writes a synthetic MaixSense-A010 capture for testing
// replay: a flat wall with a nearer box sweeping across it.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/recorder"
)

// Raw sample values of the scene.
const (
	wallPixel = 180
	boxPixel  = 80
)

func main() {
	dir := flag.String("o", ".", "output directory")
	frames := flag.Int("n", 100, "number of frames")
	res := flag.String("binning", "100x100", "frame resolution: 100x100, 50x50 or 25x25")
	interval := flag.Duration("interval", 0, "delay between frames, for captures with realistic timestamps")
	flag.Parse()

	b, err := frame.ParseBinning(*res)
	if err != nil {
		log.Fatalf("invalid -binning: %v", err)
	}

	rec, err := recorder.New(*dir, b, "gen-capture")
	if err != nil {
		log.Fatalf("failed to create capture: %v", err)
	}

	for i := 0; i < *frames; i++ {
		f, err := sceneFrame(b.Size(), i)
		if err != nil {
			log.Fatalf("failed to build frame %d: %v", i, err)
		}
		rec.ConsumeImage(f)
		if *interval > 0 {
			time.Sleep(*interval)
		}
		if (i+1)%10 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	if err := rec.Close(); err != nil {
		log.Fatalf("failed to finish capture: %v", err)
	}
	log.Printf("Created: %s", rec.Path())
}

// sceneFrame renders frame i of the scene at size x size. The box is a
// quarter of the image wide and wraps around at the right edge; the top-left
// pixel carries no return.
func sceneFrame(size, i int) (frame.Frame, error) {
	pixels := make([]byte, size*size)
	box := size / 4
	if box < 1 {
		box = 1
	}
	left := i % size
	top := (size - box) / 2
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			v := byte(wallPixel)
			dc := (c - left + size) % size
			if r >= top && r < top+box && dc < box {
				v = boxPixel
			}
			pixels[r*size+c] = v
		}
	}
	pixels[0] = 0
	return frame.New(size, size, pixels)
}
