package templates

// Redshift Matcher
//
// Cross-correlates a processed spectrum against rest-frame templates. On the
// log-wavelength grid a redshift is a pure translation, so the lag of the
// correlation peak maps directly to z:
//
//	ln(lambda_obs) = ln(lambda_rest) + ln(1+z)  =>  z = exp(lag*dwlog) - 1
//
// Correlations run over zero-padded FFTs so lags are linear, not circular.
// Each candidate gets an RLAP quality score (peak strength times overlap);
// candidates below the threshold are discarded, and an empty survivor set is
// reported as an explicit no-match rather than an error.

import (
	"math"
	"math/cmplx"
	"sort"

	algofft "github.com/cwbudde/algo-fft"

	"sn-classify/faults"
	"sn-classify/spectrum"
)

const (
	// DefaultMaxRedshift bounds the lag search. Supernova spectra beyond
	// z=1 are outside the useful range of the template corpus.
	DefaultMaxRedshift = 1.0

	// DefaultRLAPThreshold is the minimum quality score for a correlation
	// to count as a valid match.
	DefaultRLAPThreshold = 5.0

	// minOverlapFraction is the smallest spectrum/template overlap, as a
	// fraction of the grid, at which a lag is still considered.
	minOverlapFraction = 0.25

	outerFill = 0.5
)

// Match is the correlation result for a single template.
type Match struct {
	Type          string  `json:"type"`
	AgeBin        string  `json:"ageBin"`
	Redshift      float64 `json:"redshift"`
	RedshiftError float64 `json:"redshiftError"`
	RLAP          float64 `json:"rlap"`
	Overlap       float64 `json:"overlap"`
}

// Estimate is the outcome of matching a spectrum against a candidate set.
// When NoMatch is set no field besides Message carries information.
type Estimate struct {
	Redshift      float64 `json:"redshift"`
	RedshiftError float64 `json:"redshiftError"`
	TemplateType  string  `json:"templateType"`
	TemplateAge   string  `json:"templateAge"`
	RLAP          float64 `json:"rlap"`
	NoMatch       bool    `json:"noMatch"`
	Message       string  `json:"message,omitempty"`
	Matches       []Match `json:"matches,omitempty"`
}

// Matcher estimates redshifts by template cross-correlation. A Matcher is
// stateless between calls and safe for concurrent use.
type Matcher struct {
	grid          *spectrum.Grid
	maxRedshift   float64
	rlapThreshold float64
	fftSize       int
	maxLag        int
}

// MatcherOption adjusts matcher tuning.
type MatcherOption func(*Matcher)

// WithMaxRedshift overrides the redshift search bound.
func WithMaxRedshift(z float64) MatcherOption {
	return func(m *Matcher) { m.maxRedshift = z }
}

// WithRLAPThreshold overrides the minimum match quality.
func WithRLAPThreshold(t float64) MatcherOption {
	return func(m *Matcher) { m.rlapThreshold = t }
}

// NewMatcher builds a matcher for the given grid.
func NewMatcher(grid *spectrum.Grid, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		grid:          grid,
		maxRedshift:   DefaultMaxRedshift,
		rlapThreshold: DefaultRLAPThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.fftSize = nextPowerOfTwo(2 * grid.Size())
	m.maxLag = int(math.Log(1+m.maxRedshift) / grid.LogSpacing())
	if m.maxLag >= grid.Size() {
		m.maxLag = grid.Size() - 1
	}
	return m
}

// Estimate correlates the spectrum against every candidate, ranks the valid
// matches by RLAP and returns the best one. An empty candidate set or a set
// with no match above the threshold yields a NoMatch estimate.
func (m *Matcher) Estimate(spec *spectrum.Processed, candidates []*Template) (*Estimate, error) {
	matches := make([]Match, 0, len(candidates))
	for _, tpl := range candidates {
		match, err := m.Correlate(spec, tpl)
		if err != nil {
			return nil, err
		}
		if match.RLAP >= m.rlapThreshold {
			matches = append(matches, match)
		}
	}

	if len(matches) == 0 {
		return &Estimate{NoMatch: true, Message: "no valid templates found"}, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].RLAP != matches[j].RLAP {
			return matches[i].RLAP > matches[j].RLAP
		}
		if matches[i].Type != matches[j].Type {
			return matches[i].Type < matches[j].Type
		}
		return matches[i].AgeBin < matches[j].AgeBin
	})

	best := matches[0]
	return &Estimate{
		Redshift:      best.Redshift,
		RedshiftError: best.RedshiftError,
		TemplateType:  best.Type,
		TemplateAge:   best.AgeBin,
		RLAP:          best.RLAP,
		Matches:       matches,
	}, nil
}

// Correlate cross-correlates one spectrum against one template and locates
// the correlation peak within the allowed lag window.
func (m *Matcher) Correlate(spec *spectrum.Processed, tpl *Template) (Match, error) {
	if len(spec.Flux) != m.grid.Size() {
		return Match{}, faults.New(faults.Validation,
			"spectrum has %d bins, matcher grid expects %d", len(spec.Flux), m.grid.Size())
	}

	x := centeredSignal(spec.Flux, spec.MinIndex, spec.MaxIndex)
	y := centeredSignal(tpl.Flux, tpl.MinIndex, tpl.MaxIndex)

	corr, err := m.crossCorrelate(x, y)
	if err != nil {
		return Match{}, err
	}

	norm := math.Sqrt(sumSquares(x) * sumSquares(y))
	if norm == 0 {
		return Match{Type: tpl.Type, AgeBin: tpl.AgeBin}, nil
	}

	// Peak search restricted to lags with both a plausible redshift and a
	// real overlap between the two covered regions.
	minBins := int(minOverlapFraction * float64(m.grid.Size()))
	bestLag, bestVal := 0, math.Inf(-1)
	for lag := -m.maxLag; lag <= m.maxLag; lag++ {
		if overlapBins(spec, tpl, lag) < minBins {
			continue
		}
		v := corr[lagIndex(lag, m.fftSize)] / norm
		if v > bestVal {
			bestVal, bestLag = v, lag
		}
	}
	if math.IsInf(bestVal, -1) {
		// No lag had enough overlap. Report a zero-quality match so the
		// caller's threshold filters it out.
		return Match{Type: tpl.Type, AgeBin: tpl.AgeBin}, nil
	}

	r := peakSignificance(corr, norm, bestLag, bestVal, m.fftSize)
	lap := float64(overlapBins(spec, tpl, bestLag)) * m.grid.LogSpacing()

	z := math.Exp(float64(bestLag)*m.grid.LogSpacing()) - 1
	width := peakWidth(corr, norm, bestLag, bestVal, m.maxLag, m.fftSize)
	zerr := float64(width) * m.grid.LogSpacing() * (1 + z) / (2 * (1 + r))

	return Match{
		Type:          tpl.Type,
		AgeBin:        tpl.AgeBin,
		Redshift:      z,
		RedshiftError: zerr,
		RLAP:          r * lap,
		Overlap:       lap,
	}, nil
}

// crossCorrelate computes corr[k] = sum_n x[n]*y[n-k] for all lags via the
// zero-padded FFT product X * conj(Y). Negative lags land at fftSize-|k|.
func (m *Matcher) crossCorrelate(x, y []float64) ([]float64, error) {
	plan, err := algofft.NewPlan64(m.fftSize)
	if err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "failed to create correlation plan")
	}

	xc := make([]complex128, m.fftSize)
	yc := make([]complex128, m.fftSize)
	for i, v := range x {
		xc[i] = complex(v, 0)
	}
	for i, v := range y {
		yc[i] = complex(v, 0)
	}

	xf := make([]complex128, m.fftSize)
	yf := make([]complex128, m.fftSize)
	if err := plan.Forward(xf, xc); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "forward transform failed")
	}
	if err := plan.Forward(yf, yc); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "forward transform failed")
	}

	prod := make([]complex128, m.fftSize)
	for i := range prod {
		prod[i] = xf[i] * cmplx.Conj(yf[i])
	}

	ct := make([]complex128, m.fftSize)
	if err := plan.Inverse(ct, prod); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "inverse transform failed")
	}

	corr := make([]float64, m.fftSize)
	for i, c := range ct {
		corr[i] = real(c)
	}
	return corr, nil
}

// peakSignificance scores the peak against the RMS of the antisymmetric
// residual of the correlation about the peak lag. A correlation produced by
// a genuine match is nearly symmetric about its own peak, so the residual
// stays small regardless of where the peak sits, and peak height dominates
// the ranking across candidates.
func peakSignificance(corr []float64, norm float64, bestLag int, peak float64, fftSize int) float64 {
	var sum float64
	n := 0
	for d := 1; d < fftSize/2; d++ {
		a := (corr[lagIndex(bestLag+d, fftSize)] - corr[lagIndex(bestLag-d, fftSize)]) / (2 * norm)
		sum += a * a
		n++
	}
	if n == 0 {
		return 0
	}
	sigma := math.Sqrt(sum / float64(n))
	if sigma < 1e-12 {
		sigma = 1e-12
	}
	return peak / (math.Sqrt2 * sigma)
}

// peakWidth measures the full width of the peak at half its height, in bins.
func peakWidth(corr []float64, norm float64, bestLag int, peak float64, maxLag, fftSize int) int {
	half := peak / 2
	left, right := bestLag, bestLag
	for left > -maxLag && corr[lagIndex(left-1, fftSize)]/norm > half {
		left--
	}
	for right < maxLag && corr[lagIndex(right+1, fftSize)]/norm > half {
		right++
	}
	w := right - left
	if w < 1 {
		w = 1
	}
	return w
}

// centeredSignal zeroes the padding bins and removes the mean of the covered
// region so the correlation is not dominated by the DC offset.
func centeredSignal(flux []float64, minIdx, maxIdx int) []float64 {
	out := make([]float64, len(flux))
	if maxIdx <= minIdx {
		return out
	}
	var mean float64
	for i := minIdx; i <= maxIdx; i++ {
		mean += flux[i]
	}
	mean /= float64(maxIdx - minIdx + 1)
	for i := minIdx; i <= maxIdx; i++ {
		out[i] = flux[i] - mean
	}
	return out
}

// overlapBins counts grid bins covered by both the spectrum and the template
// shifted by the given lag.
func overlapBins(spec *spectrum.Processed, tpl *Template, lag int) int {
	lo := spec.MinIndex
	if t := tpl.MinIndex + lag; t > lo {
		lo = t
	}
	hi := spec.MaxIndex
	if t := tpl.MaxIndex + lag; t < hi {
		hi = t
	}
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

func lagIndex(lag, fftSize int) int {
	if lag < 0 {
		return fftSize + lag
	}
	return lag
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
