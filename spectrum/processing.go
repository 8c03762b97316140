package spectrum

// Spectrum Normalization Pipeline
//
// Transforms a raw spectrum into the fixed-length, continuum-free vector the
// classification models were trained on. The steps run in a fixed order:
//
//  1. Clip to the requested wavelength window
//  2. De-redshift when the caller supplies a known z
//  3. Min-max normalise and resample onto the canonical log-wavelength grid
//  4. Median-filter smoothing when requested
//  5. Continuum removal (cubic-spline fit, divide out)
//  6. Mean-zero the data-covered region
//  7. Cosine-bell apodization of the region edges
//  8. Final normalisation with the outer region held at a flat 0.5
//
// The result is deterministic for a given (spectrum, options) pair and is
// guaranteed free of NaN/Inf values with exactly grid.Size() points.

import (
	"math"

	dspwindow "github.com/cwbudde/algo-dsp/dsp/window"

	"sn-classify/faults"
)

const (
	// Physically plausible redshift window for user-supplied values.
	MinRedshift = -1.0
	MaxRedshift = 20.0

	// Minimum points that must survive clipping for interpolation to make
	// sense.
	minClippedPoints = 2

	defaultSplineKnots = 13
	apodizeFraction    = 0.05
	outerFluxValue     = 0.5
)

// Options configures a single normalization run. Zero values for MinWave and
// MaxWave default to the canonical grid bounds.
type Options struct {
	Smoothing int
	KnownZ    bool
	ZValue    float64
	MinWave   float64
	MaxWave   float64
}

// Processor normalizes raw spectra onto a canonical grid. It is stateless
// apart from the shared read-only grid and safe for concurrent use.
type Processor struct {
	grid        *Grid
	splineKnots int
}

// NewProcessor builds a normalizer bound to the given canonical grid.
func NewProcessor(grid *Grid) *Processor {
	return &Processor{grid: grid, splineKnots: defaultSplineKnots}
}

// Grid returns the canonical grid the processor resamples onto.
func (p *Processor) Grid() *Grid { return p.grid }

// Process runs the full normalization pipeline on a raw spectrum.
func (p *Processor) Process(spec *Spectrum, opts Options) (*Processed, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	minWave := opts.MinWave
	if minWave <= 0 {
		minWave = p.grid.MinWave()
	}
	maxWave := opts.MaxWave
	if maxWave <= 0 {
		maxWave = p.grid.MaxWave()
	}
	if minWave >= maxWave {
		return nil, faults.New(faults.Validation,
			"invalid wavelength window: minWave=%.1f >= maxWave=%.1f", minWave, maxWave)
	}
	if opts.KnownZ && (opts.ZValue <= MinRedshift || opts.ZValue > MaxRedshift) {
		return nil, faults.New(faults.Validation,
			"redshift %.4f outside plausible range (%.0f, %.0f]", opts.ZValue, MinRedshift, MaxRedshift)
	}
	if opts.Smoothing < 0 {
		return nil, faults.New(faults.Validation, "smoothing must be >= 0, got %d", opts.Smoothing)
	}

	// 1) Clip to the requested window.
	wave, flux := clip(spec.Wave, spec.Flux, minWave, maxWave)
	if len(wave) < minClippedPoints {
		return nil, faults.New(faults.Validation,
			"only %d valid points remain after clipping to [%.1f, %.1f]",
			len(wave), minWave, maxWave)
	}

	// 2) Shift to the rest frame when the redshift is known.
	state := StateNormalized
	redshift := 0.0
	if opts.KnownZ {
		redshift = opts.ZValue
		factor := 1 + opts.ZValue
		shifted := make([]float64, len(wave))
		for i, w := range wave {
			shifted[i] = w / factor
		}
		wave = shifted
		if opts.ZValue != 0 {
			state = StateDeRedshifted
		}
	}

	// 3) Normalise and resample onto the canonical grid.
	flux, err := normaliseFlux(flux)
	if err != nil {
		return nil, err
	}
	binned, minIdx, maxIdx := p.resample(wave, flux)
	if maxIdx <= minIdx {
		return nil, faults.New(faults.Validation,
			"spectrum does not overlap the %.0f-%.0f A grid after processing",
			p.grid.MinWave(), p.grid.MaxWave())
	}

	// 4) Optional median-filter smoothing over the covered region.
	if opts.Smoothing > 0 {
		medianFilterRegion(binned, minIdx, maxIdx, p.smoothingKernel(wave, opts.Smoothing))
	}

	// 5) Continuum removal: fit a spline to flux+1 and divide it out.
	fluxPlus := make([]float64, len(binned))
	for i := range binned {
		fluxPlus[i] = binned[i] + 1
	}
	continuum := fitContinuum(fluxPlus, minIdx, maxIdx, p.splineKnots)
	for i := minIdx; i <= maxIdx; i++ {
		if continuum[i] != 0 {
			binned[i] = fluxPlus[i]/continuum[i] - 1
		}
	}

	// 6) Mean-zero the covered region.
	meanZeroRegion(binned, minIdx, maxIdx)

	// 7) Taper the region edges so correlation sees no step artifacts.
	if err := p.apodize(binned, minIdx, maxIdx); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "apodization failed")
	}

	// 8) Final normalisation; everything outside the data sits at a flat
	// continuum value.
	region, err := normaliseFlux(binned[minIdx : maxIdx+1])
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(binned))
	for i := range out {
		out[i] = outerFluxValue
	}
	copy(out[minIdx:maxIdx+1], region)

	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, faults.New(faults.Pipeline, "non-finite value at bin %d after normalization", i)
		}
	}

	return &Processed{
		Flux:     out,
		MinIndex: minIdx,
		MaxIndex: maxIdx,
		Redshift: redshift,
		State:    state,
		FileName: spec.FileName,
	}, nil
}

func clip(wave, flux []float64, minWave, maxWave float64) ([]float64, []float64) {
	outW := make([]float64, 0, len(wave))
	outF := make([]float64, 0, len(flux))
	for i, w := range wave {
		if w < minWave || w > maxWave {
			continue
		}
		outW = append(outW, w)
		outF = append(outF, flux[i])
	}
	return outW, outF
}

// normaliseFlux rescales to [0, 1]. A constant array flattens to zeros, which
// downstream stages treat as "no information" rather than an error.
func normaliseFlux(flux []float64) ([]float64, error) {
	if len(flux) == 0 {
		return nil, faults.New(faults.Validation, "cannot normalise an empty flux array")
	}

	min, max := flux[0], flux[0]
	for _, v := range flux {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, faults.New(faults.Validation, "flux contains non-finite values")
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(flux))
	span := max - min
	if span < 1e-12 {
		return out, nil
	}
	for i, v := range flux {
		out[i] = (v - min) / span
	}
	return out, nil
}

// resample interpolates the spectrum onto the canonical log grid, filling
// bins outside the data coverage with zero. It returns the first and last
// bins covered by real data.
func (p *Processor) resample(wave, flux []float64) ([]float64, int, int) {
	gridWave := p.grid.Wavelengths()
	binned := make([]float64, len(gridWave))

	minIdx, maxIdx := -1, -1
	j := 0
	for i, gw := range gridWave {
		if gw < wave[0] || gw > wave[len(wave)-1] {
			continue
		}
		if minIdx < 0 {
			minIdx = i
		}
		maxIdx = i

		for j < len(wave)-2 && wave[j+1] <= gw {
			j++
		}
		w0, w1 := wave[j], wave[j+1]
		if w1 == w0 {
			binned[i] = flux[j]
			continue
		}
		t := (gw - w0) / (w1 - w0)
		binned[i] = flux[j] + t*(flux[j+1]-flux[j])
	}

	if minIdx < 0 {
		return binned, 0, 0
	}
	return binned, minIdx, maxIdx
}

// smoothingKernel converts the requested smoothing window into an odd
// median-filter width by rescaling it from the input sampling density to the
// grid's density. Dense input spectra get a proportionally wider kernel so
// the effective wavelength window stays the same.
func (p *Processor) smoothingKernel(wave []float64, smoothing int) int {
	gridDensity := (p.grid.MaxWave() - p.grid.MinWave()) / float64(p.grid.Size())
	span := wave[len(wave)-1] - wave[0]
	if span <= 0 {
		return 1
	}
	inputDensity := span / float64(len(wave))
	return int(gridDensity/inputDensity*float64(smoothing)/2)*2 + 1
}

// medianFilterRegion applies an odd-width median filter in place over
// [minIdx, maxIdx], leaving the outer bins untouched.
func medianFilterRegion(flux []float64, minIdx, maxIdx, kernel int) {
	if kernel < 3 {
		return
	}
	if kernel%2 == 0 {
		kernel++
	}
	half := kernel / 2

	region := make([]float64, maxIdx-minIdx+1)
	copy(region, flux[minIdx:maxIdx+1])
	window := make([]float64, 0, kernel)

	for i := range region {
		window = window[:0]
		for k := i - half; k <= i+half; k++ {
			if k < 0 || k >= len(region) {
				continue
			}
			window = append(window, region[k])
		}
		flux[minIdx+i] = median(window)
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	// Insertion sort; kernels are small.
	for i := 1; i < len(values); i++ {
		for k := i; k > 0 && values[k] < values[k-1]; k-- {
			values[k], values[k-1] = values[k-1], values[k]
		}
	}
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

func meanZeroRegion(flux []float64, minIdx, maxIdx int) {
	if maxIdx <= minIdx {
		return
	}
	sum := 0.0
	for i := minIdx; i <= maxIdx; i++ {
		sum += flux[i]
	}
	mean := sum / float64(maxIdx-minIdx+1)
	for i := minIdx; i <= maxIdx; i++ {
		flux[i] -= mean
	}
}

// apodize tapers the edges of the covered region with a cosine bell covering
// apodizeFraction of the grid at each end.
func (p *Processor) apodize(flux []float64, minIdx, maxIdx int) error {
	regionLen := maxIdx - minIdx + 1
	nsquash := int(float64(p.grid.Size()) * apodizeFraction)
	if nsquash <= 1 || regionLen < 2*nsquash {
		return nil
	}

	alpha := 2 * float64(nsquash) / float64(regionLen)
	if alpha > 1 {
		alpha = 1
	}
	taper, err := dspwindow.Tukey(regionLen, alpha)
	if err != nil {
		return err
	}
	for i := 0; i < regionLen; i++ {
		flux[minIdx+i] *= taper[i]
	}
	return nil
}
