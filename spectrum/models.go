package spectrum

import (
	"math"

	"sn-classify/faults"
)

// Format identifies the on-disk encoding a spectrum was parsed from.
type Format string

const (
	FormatFITS Format = "fits"
	FormatDAT  Format = "dat"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
	FormatLNW  Format = "lnw"
)

// ProcessingState tracks how far a spectrum has moved through the pipeline.
type ProcessingState string

const (
	StateRaw          ProcessingState = "raw"
	StateNormalized   ProcessingState = "normalized"
	StateDeRedshifted ProcessingState = "de-redshifted"
)

// Spectrum is a wavelength/flux pair with provenance. Instances are owned by
// the request that created them and are never shared across requests.
type Spectrum struct {
	Wave []float64
	Flux []float64

	SourceFormat Format
	FileName     string
	State        ProcessingState
}

// Validate checks the structural invariants every spectrum must satisfy
// before it is allowed near the numeric pipeline: equal-length arrays,
// strictly increasing wavelengths and finite values throughout.
func (s *Spectrum) Validate() error {
	if len(s.Wave) != len(s.Flux) {
		return faults.New(faults.Validation,
			"wavelength and flux arrays differ in length: %d vs %d", len(s.Wave), len(s.Flux))
	}
	if len(s.Wave) < 2 {
		return faults.New(faults.Validation, "spectrum has %d points, need at least 2", len(s.Wave))
	}
	for i := range s.Wave {
		if math.IsNaN(s.Wave[i]) || math.IsInf(s.Wave[i], 0) {
			return faults.New(faults.Validation, "non-finite wavelength at index %d", i)
		}
		if math.IsNaN(s.Flux[i]) || math.IsInf(s.Flux[i], 0) {
			return faults.New(faults.Validation, "non-finite flux at index %d", i)
		}
		if i > 0 && s.Wave[i] <= s.Wave[i-1] {
			return faults.New(faults.Validation,
				"wavelengths not strictly increasing at index %d (%.3f after %.3f)",
				i, s.Wave[i], s.Wave[i-1])
		}
	}
	return nil
}

// Processed is a spectrum resampled onto the canonical grid, ready for
// template correlation or model inference. MinIndex/MaxIndex bound the region
// covered by real data; bins outside it hold the flat continuum fill value.
type Processed struct {
	Flux     []float64
	MinIndex int
	MaxIndex int

	Redshift float64
	State    ProcessingState
	FileName string
}

// InputVector converts the processed flux to the float32 layout the
// inference backends consume.
func (p *Processed) InputVector() []float32 {
	out := make([]float32, len(p.Flux))
	for i, v := range p.Flux {
		out[i] = float32(v)
	}
	return out
}
