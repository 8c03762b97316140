package templates

import (
	"math"
	"testing"

	"sn-classify/spectrum"
)

// featureTemplate builds a rest-frame template with a few absorption-like
// features so the correlation has a sharp, unambiguous peak.
func featureTemplate(snType, ageBin string, grid *spectrum.Grid) *Template {
	flux := make([]float64, grid.Size())
	for i := range flux {
		flux[i] = 0.5
	}
	centers := []float64{250, 420, 600, 780}
	for i := 150; i <= 900; i++ {
		v := 0.55
		for _, c := range centers {
			d := (float64(i) - c) / 12.0
			v -= 0.35 * math.Exp(-d*d)
		}
		flux[i] = v
	}
	return &Template{Type: snType, AgeBin: ageBin, Flux: flux, MinIndex: 150, MaxIndex: 900}
}

// shiftedSpectrum shifts a template redward by the given number of log bins,
// simulating a redshifted observation of the same object.
func shiftedSpectrum(tpl *Template, lag int, grid *spectrum.Grid) *spectrum.Processed {
	flux := make([]float64, grid.Size())
	for i := range flux {
		flux[i] = 0.5
	}
	for i := tpl.MinIndex; i <= tpl.MaxIndex; i++ {
		j := i + lag
		if j >= 0 && j < grid.Size() {
			flux[j] = tpl.Flux[i]
		}
	}
	return &spectrum.Processed{
		Flux:     flux,
		MinIndex: tpl.MinIndex + lag,
		MaxIndex: tpl.MaxIndex + lag,
		State:    spectrum.StateNormalized,
	}
}

func TestMatcherRecoversZeroRedshift(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid)
	tpl := featureTemplate("Ia", "-2 to 2", grid)

	match, err := matcher.Correlate(shiftedSpectrum(tpl, 0, grid), tpl)
	if err != nil {
		t.Fatalf("correlate failed: %v", err)
	}
	if math.Abs(match.Redshift) > 1e-9 {
		t.Fatalf("expected redshift 0 for identical spectrum, got %g", match.Redshift)
	}
	if match.RLAP < DefaultRLAPThreshold {
		t.Fatalf("self-correlation RLAP %g below threshold %g", match.RLAP, DefaultRLAPThreshold)
	}
}

func TestMatcherRecoversShiftedRedshift(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid, WithRLAPThreshold(1.0))
	tpl := featureTemplate("Ia", "-2 to 2", grid)

	lag := 30
	wantZ := math.Exp(float64(lag)*grid.LogSpacing()) - 1

	est, err := matcher.Estimate(shiftedSpectrum(tpl, lag, grid), []*Template{tpl})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if est.NoMatch {
		t.Fatalf("expected a match, got no-match: %s", est.Message)
	}
	if math.Abs(est.Redshift-wantZ) > grid.LogSpacing() {
		t.Fatalf("recovered redshift %g, want %g", est.Redshift, wantZ)
	}
	if est.RedshiftError <= 0 {
		t.Fatalf("expected positive redshift uncertainty, got %g", est.RedshiftError)
	}
	if est.TemplateType != "Ia" || est.TemplateAge != "-2 to 2" {
		t.Fatalf("wrong best template: %s (%s)", est.TemplateType, est.TemplateAge)
	}
}

func TestMatcherRanksBestTemplateFirst(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid, WithRLAPThreshold(1.0))

	right := featureTemplate("Ia", "-2 to 2", grid)

	// Same coverage, different feature placement. Correlates worse than
	// the template the spectrum was generated from.
	wrong := featureTemplate("II", "2 to 6", grid)
	for i := wrong.MinIndex; i <= wrong.MaxIndex; i++ {
		wrong.Flux[i] = 0.55 - 0.35*math.Exp(-sq((float64(i)-340)/9.0)) - 0.35*math.Exp(-sq((float64(i)-700)/9.0))
	}

	est, err := matcher.Estimate(shiftedSpectrum(right, 12, grid), []*Template{wrong, right})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if est.NoMatch {
		t.Fatalf("expected a match, got no-match: %s", est.Message)
	}
	if est.TemplateType != "Ia" {
		t.Fatalf("best match should be the generating template, got %s", est.TemplateType)
	}
	if len(est.Matches) > 1 && est.Matches[0].RLAP < est.Matches[1].RLAP {
		t.Fatal("matches are not ranked by descending RLAP")
	}
}

func TestMatcherEmptyCandidateSetIsNoMatch(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid)
	tpl := featureTemplate("Ia", "-2 to 2", grid)

	est, err := matcher.Estimate(shiftedSpectrum(tpl, 0, grid), nil)
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if !est.NoMatch {
		t.Fatal("expected no-match for empty candidate set")
	}
	if est.Message != "no valid templates found" {
		t.Fatalf("unexpected no-match message: %q", est.Message)
	}
}

func TestMatcherBelowThresholdIsNoMatch(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid, WithRLAPThreshold(math.Inf(1)))
	tpl := featureTemplate("Ia", "-2 to 2", grid)

	est, err := matcher.Estimate(shiftedSpectrum(tpl, 0, grid), []*Template{tpl})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if !est.NoMatch {
		t.Fatal("expected no-match when every correlation is below the threshold")
	}
	if est.Message != "no valid templates found" {
		t.Fatalf("unexpected no-match message: %q", est.Message)
	}
}

func TestMatcherIsDeterministic(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	matcher := NewMatcher(grid)
	tpl := featureTemplate("Ia", "-2 to 2", grid)
	spec := shiftedSpectrum(tpl, 25, grid)

	first, err := matcher.Estimate(spec, []*Template{tpl})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	for run := 0; run < 3; run++ {
		again, err := matcher.Estimate(spec, []*Template{tpl})
		if err != nil {
			t.Fatalf("estimate failed on run %d: %v", run, err)
		}
		if again.Redshift != first.Redshift || again.RLAP != first.RLAP {
			t.Fatalf("estimate is not deterministic: run %d got z=%g rlap=%g, want z=%g rlap=%g",
				run, again.Redshift, again.RLAP, first.Redshift, first.RLAP)
		}
	}
}

func sq(x float64) float64 { return x * x }
