package spectrum

import (
	"math"
	"testing"

	"sn-classify/faults"
)

// syntheticSpectrum builds a smooth continuum with a couple of absorption
// features, covering [4000, 9500] with the given sampling.
func syntheticSpectrum(n int) *Spectrum {
	wave := make([]float64, n)
	flux := make([]float64, n)
	for i := 0; i < n; i++ {
		w := 4000.0 + float64(i)*(5500.0/float64(n-1))
		f := 10.0 + 2.0*math.Sin(w/600.0) - 3.0*math.Exp(-math.Pow((w-6150)/80, 2))
		wave[i] = w
		flux[i] = f
	}
	return &Spectrum{Wave: wave, Flux: flux, SourceFormat: FormatDAT, FileName: "synthetic.dat", State: StateRaw}
}

func TestProcessProducesCanonicalGrid(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	processed, err := proc.Process(syntheticSpectrum(800), Options{})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(processed.Flux) != DefaultNumBins {
		t.Fatalf("expected %d bins, got %d", DefaultNumBins, len(processed.Flux))
	}
	for i, v := range processed.Flux {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite value at bin %d", i)
		}
	}
	if processed.State != StateNormalized {
		t.Fatalf("expected normalized state, got %s", processed.State)
	}
	if processed.MinIndex >= processed.MaxIndex {
		t.Fatalf("invalid coverage region [%d, %d]", processed.MinIndex, processed.MaxIndex)
	}
	// Bins outside the data coverage hold the flat continuum value.
	if processed.MinIndex > 0 && processed.Flux[0] != outerFluxValue {
		t.Fatalf("expected outer fill %.2f, got %v", outerFluxValue, processed.Flux[0])
	}
}

func TestProcessZeroRedshiftIsNoOp(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	spec := syntheticSpectrum(600)

	plain, err := proc.Process(spec, Options{})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	withZ, err := proc.Process(spec, Options{KnownZ: true, ZValue: 0})
	if err != nil {
		t.Fatalf("Process with z=0 returned error: %v", err)
	}

	if withZ.State != StateNormalized {
		t.Fatalf("z=0 should not mark the spectrum de-redshifted, got %s", withZ.State)
	}
	for i := range plain.Flux {
		if plain.Flux[i] != withZ.Flux[i] {
			t.Fatalf("bin %d differs: %v vs %v", i, plain.Flux[i], withZ.Flux[i])
		}
	}
}

func TestProcessKnownRedshiftShiftsCoverage(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	spec := syntheticSpectrum(600)

	rest, err := proc.Process(spec, Options{})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	shifted, err := proc.Process(spec, Options{KnownZ: true, ZValue: 0.1})
	if err != nil {
		t.Fatalf("Process with z=0.1 returned error: %v", err)
	}

	if shifted.State != StateDeRedshifted {
		t.Fatalf("expected de-redshifted state, got %s", shifted.State)
	}
	if shifted.Redshift != 0.1 {
		t.Fatalf("expected redshift 0.1 recorded, got %v", shifted.Redshift)
	}
	// De-redshifting moves the spectrum blueward, so coverage must start
	// earlier on the grid.
	if shifted.MinIndex >= rest.MinIndex {
		t.Fatalf("expected blueward shift: minIndex %d vs %d", shifted.MinIndex, rest.MinIndex)
	}
}

func TestProcessRejectsImplausibleRedshift(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	for _, z := range []float64{-1.5, 25.0} {
		_, err := proc.Process(syntheticSpectrum(100), Options{KnownZ: true, ZValue: z})
		if err == nil {
			t.Fatalf("expected validation error for z=%v", z)
		}
		if !faults.IsKind(err, faults.Validation) {
			t.Fatalf("expected validation error for z=%v, got %v", z, err)
		}
	}
}

func TestProcessRejectsNonOverlappingWindow(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	_, err := proc.Process(syntheticSpectrum(100), Options{MinWave: 9600, MaxWave: 9900})
	if err == nil {
		t.Fatal("expected validation error when clipping removes all points")
	}
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessRejectsNonFiniteInput(t *testing.T) {
	t.Parallel()

	spec := syntheticSpectrum(50)
	spec.Flux[25] = math.NaN()

	proc := NewProcessor(DefaultGrid())
	_, err := proc.Process(spec, Options{})
	if err == nil {
		t.Fatal("expected validation error for NaN flux")
	}
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessSmoothingIsDeterministic(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	spec := syntheticSpectrum(700)

	first, err := proc.Process(spec, Options{Smoothing: 6})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	second, err := proc.Process(spec, Options{Smoothing: 6})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	for i := range first.Flux {
		if first.Flux[i] != second.Flux[i] {
			t.Fatalf("smoothing not deterministic at bin %d", i)
		}
	}
}

func TestSmoothingKernelTracksInputDensity(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(DefaultGrid())
	gridDensity := (DefaultMaxWave - DefaultMinWave) / float64(DefaultNumBins)

	// 2 A per point over [4000, 6000].
	dense := make([]float64, 1000)
	for i := range dense {
		dense[i] = 4000 + 2*float64(i)
	}
	// 20 A per point over the same range.
	coarse := make([]float64, 100)
	for i := range coarse {
		coarse[i] = 4000 + 20*float64(i)
	}

	for _, tc := range []struct {
		name      string
		wave      []float64
		density   float64
		smoothing int
	}{
		{"dense", dense, 1.998, 6},
		{"coarse", coarse, 19.8, 6},
	} {
		kernel := proc.smoothingKernel(tc.wave, tc.smoothing)
		want := int(gridDensity/tc.density*float64(tc.smoothing)/2)*2 + 1
		if kernel != want {
			t.Fatalf("%s: kernel %d, want %d", tc.name, kernel, want)
		}
		if kernel%2 != 1 {
			t.Fatalf("%s: kernel %d is not odd", tc.name, kernel)
		}
	}

	if dk, ck := proc.smoothingKernel(dense, 6), proc.smoothingKernel(coarse, 6); dk <= ck {
		t.Fatalf("denser sampling must widen the kernel: dense %d vs coarse %d", dk, ck)
	}
}

func TestMedianFilterRegion(t *testing.T) {
	t.Parallel()

	flux := []float64{0, 0, 1, 1, 9, 1, 1, 0, 0}
	medianFilterRegion(flux, 2, 6, 3)
	if flux[4] != 1 {
		t.Fatalf("expected spike suppressed to 1, got %v", flux[4])
	}
	if flux[0] != 0 || flux[8] != 0 {
		t.Fatalf("outer bins must stay untouched: %v", flux)
	}
}
