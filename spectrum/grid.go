package spectrum

import (
	"math"

	"sn-classify/faults"
)

// Default canonical grid bounds in Angstroms. Both built-in models were
// trained on spectra binned onto this grid.
const (
	DefaultMinWave = 3500.0
	DefaultMaxWave = 10000.0
	DefaultNumBins = 1024
)

// Grid is the canonical log-wavelength sampling shared by every spectrum and
// template. It is built once at startup and read concurrently without locks.
type Grid struct {
	w0    float64
	w1    float64
	nw    int
	dwlog float64
	wave  []float64
}

// NewGrid builds a log-spaced grid of nw bins covering [w0, w1).
func NewGrid(w0, w1 float64, nw int) (*Grid, error) {
	if w0 <= 0 || w1 <= 0 || w0 >= w1 {
		return nil, faults.New(faults.Configuration, "invalid wavelength range: w0=%.1f, w1=%.1f", w0, w1)
	}
	if nw <= 0 {
		return nil, faults.New(faults.Configuration, "invalid number of bins: %d", nw)
	}

	dwlog := math.Log(w1/w0) / float64(nw)
	wave := make([]float64, nw)
	for i := range wave {
		wave[i] = w0 * math.Exp(float64(i)*dwlog)
	}

	return &Grid{w0: w0, w1: w1, nw: nw, dwlog: dwlog, wave: wave}, nil
}

// DefaultGrid returns the grid both built-in models expect.
func DefaultGrid() *Grid {
	g, err := NewGrid(DefaultMinWave, DefaultMaxWave, DefaultNumBins)
	if err != nil {
		panic(err)
	}
	return g
}

// MinWave returns the lower wavelength bound.
func (g *Grid) MinWave() float64 { return g.w0 }

// MaxWave returns the upper wavelength bound.
func (g *Grid) MaxWave() float64 { return g.w1 }

// Size returns the number of bins.
func (g *Grid) Size() int { return g.nw }

// LogSpacing returns the constant logarithmic step between adjacent bins.
// A redshift z corresponds to a shift of ln(1+z)/LogSpacing() bins.
func (g *Grid) LogSpacing() float64 { return g.dwlog }

// Wavelengths returns the bin centers. The slice is shared and must be
// treated as read-only.
func (g *Grid) Wavelengths() []float64 { return g.wave }
