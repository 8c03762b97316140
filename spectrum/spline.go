package spectrum

// Continuum estimation via a natural cubic spline through a small set of
// anchor points. The anchors are local averages of the flux, so the spline
// tracks the broad continuum shape while ignoring line features.

// fitContinuum returns a smooth continuum over flux[min..max] (inclusive)
// using numAnchors spline knots. Regions outside the valid range are zero.
// The flux is expected to be shifted positive (DASH fits flux+1).
func fitContinuum(flux []float64, minIdx, maxIdx, numAnchors int) []float64 {
	continuum := make([]float64, len(flux))
	region := maxIdx - minIdx + 1
	if region <= 5 || numAnchors < 3 {
		for i := minIdx; i <= maxIdx; i++ {
			continuum[i] = 1.0
		}
		return continuum
	}
	if numAnchors > region {
		numAnchors = region
	}

	// Anchor each knot at the local mean so single lines do not drag the fit.
	xs := make([]float64, numAnchors)
	ys := make([]float64, numAnchors)
	halfWin := region / (2 * numAnchors)
	if halfWin < 1 {
		halfWin = 1
	}
	for k := 0; k < numAnchors; k++ {
		center := minIdx + k*(region-1)/(numAnchors-1)
		lo := center - halfWin
		hi := center + halfWin
		if lo < minIdx {
			lo = minIdx
		}
		if hi > maxIdx {
			hi = maxIdx
		}
		sum := 0.0
		for i := lo; i <= hi; i++ {
			sum += flux[i]
		}
		xs[k] = float64(center)
		ys[k] = sum / float64(hi-lo+1)
	}

	spline := newCubicSpline(xs, ys)
	for i := minIdx; i <= maxIdx; i++ {
		continuum[i] = spline.at(float64(i))
	}
	return continuum
}

// cubicSpline is a natural cubic spline through strictly increasing knots.
type cubicSpline struct {
	xs []float64
	ys []float64
	m  []float64 // second derivatives at the knots
}

func newCubicSpline(xs, ys []float64) *cubicSpline {
	n := len(xs)
	m := make([]float64, n)
	if n < 3 {
		return &cubicSpline{xs: xs, ys: ys, m: m}
	}

	// Tridiagonal solve for the natural spline second derivatives.
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	d := make([]float64, n)
	b[0], b[n-1] = 1, 1

	for i := 1; i < n-1; i++ {
		h0 := xs[i] - xs[i-1]
		h1 := xs[i+1] - xs[i]
		a[i] = h0
		b[i] = 2 * (h0 + h1)
		c[i] = h1
		d[i] = 6 * ((ys[i+1]-ys[i])/h1 - (ys[i]-ys[i-1])/h0)
	}

	for i := 1; i < n; i++ {
		if b[i-1] == 0 {
			continue
		}
		factor := a[i] / b[i-1]
		b[i] -= factor * c[i-1]
		d[i] -= factor * d[i-1]
	}
	if b[n-1] != 0 {
		m[n-1] = d[n-1] / b[n-1]
	}
	for i := n - 2; i >= 0; i-- {
		if b[i] == 0 {
			continue
		}
		m[i] = (d[i] - c[i]*m[i+1]) / b[i]
	}

	return &cubicSpline{xs: xs, ys: ys, m: m}
}

func (s *cubicSpline) at(x float64) float64 {
	n := len(s.xs)
	if n == 0 {
		return 0
	}
	if n == 1 || x <= s.xs[0] {
		return s.ys[0]
	}
	if x >= s.xs[n-1] {
		return s.ys[n-1]
	}

	// Locate the knot interval by binary search.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if s.xs[mid] <= x {
			lo = mid
		} else {
			hi = mid
		}
	}

	h := s.xs[hi] - s.xs[lo]
	if h == 0 {
		return s.ys[lo]
	}
	t := (x - s.xs[lo]) / h
	u := 1 - t
	return u*s.ys[lo] + t*s.ys[hi] +
		h*h/6*((u*u*u-u)*s.m[lo]+(t*t*t-t)*s.m[hi])
}
