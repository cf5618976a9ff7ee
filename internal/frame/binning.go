package frame

import (
	"fmt"
	"strings"
)

// Binning is the sensor-side pixel aggregation mode. It fixes the size of
// every frame the sensor streams after it is applied.
type Binning int

const (
	Binning100x100 Binning = iota
	Binning50x50
	Binning25x25
)

// Size returns the side length in pixels of frames produced in this mode.
func (b Binning) Size() int {
	switch b {
	case Binning50x50:
		return 50
	case Binning25x25:
		return 25
	default:
		return 100
	}
}

// Valid reports whether b is one of the known binning modes.
func (b Binning) Valid() bool {
	return b >= Binning100x100 && b <= Binning25x25
}

func (b Binning) String() string {
	n := b.Size()
	return fmt.Sprintf("%dx%d", n, n)
}

// BinningForSize maps a frame side length back to its binning mode.
func BinningForSize(n int) (Binning, bool) {
	switch n {
	case 100:
		return Binning100x100, true
	case 50:
		return Binning50x50, true
	case 25:
		return Binning25x25, true
	}
	return 0, false
}

// ParseBinning accepts "100x100", "50x50", "25x25" or the bare side length.
func ParseBinning(s string) (Binning, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if side, _, ok := strings.Cut(s, "x"); ok {
		if s != side+"x"+side {
			return 0, fmt.Errorf("unsupported binning %q: expected 100x100, 50x50 or 25x25", s)
		}
		s = side
	}
	switch s {
	case "100":
		return Binning100x100, nil
	case "50":
		return Binning50x50, nil
	case "25":
		return Binning25x25, nil
	}
	return 0, fmt.Errorf("unsupported binning %q: expected 100x100, 50x50 or 25x25", s)
}
