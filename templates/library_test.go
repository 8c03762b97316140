package templates

import (
	"math"
	"strings"
	"testing"

	"sn-classify/faults"
	"sn-classify/spectrum"
)

func flatTemplate(snType, ageBin string, size int) Template {
	flux := make([]float64, size)
	for i := range flux {
		flux[i] = 0.5
	}
	for i := 100; i <= 900 && i < size; i++ {
		flux[i] = 0.5 + 0.3*math.Sin(float64(i)/25)
	}
	return Template{Type: snType, AgeBin: ageBin, Flux: flux}
}

func TestLibraryLookup(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	lib, err := NewLibrary(grid, []Template{
		flatTemplate("Ia", "-2 to 2", grid.Size()),
		flatTemplate("Ia", "2 to 6", grid.Size()),
		flatTemplate("Ib", "-2 to 2", grid.Size()),
	})
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	tpl, err := lib.Lookup("Ia", "2 to 6")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if tpl.Type != "Ia" || tpl.AgeBin != "2 to 6" {
		t.Fatalf("lookup returned wrong template: %s (%s)", tpl.Type, tpl.AgeBin)
	}
}

func TestLibraryLookupMissingNamesBothParameters(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	lib, err := NewLibrary(grid, []Template{flatTemplate("Ia", "-2 to 2", grid.Size())})
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	_, err = lib.Lookup("IIn", "10 to 14")
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if !faults.IsKind(err, faults.NotFound) {
		t.Fatalf("expected not-found error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "IIn") || !strings.Contains(err.Error(), "10 to 14") {
		t.Fatalf("error should name both type and age bin, got: %v", err)
	}
}

func TestLibraryRejectsWrongBinCount(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	bad := Template{Type: "Ia", AgeBin: "-2 to 2", Flux: make([]float64, 512)}
	if _, err := NewLibrary(grid, []Template{bad}); err == nil {
		t.Fatal("expected error for template with wrong bin count")
	}
}

func TestLibraryRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	_, err := NewLibrary(grid, []Template{
		flatTemplate("Ia", "-2 to 2", grid.Size()),
		flatTemplate("Ia", "-2 to 2", grid.Size()),
	})
	if err == nil {
		t.Fatal("expected error for duplicate (type, age bin) key")
	}
	if !faults.IsKind(err, faults.Configuration) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
}

func TestLibraryKeysSortedAndComplete(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	lib, err := NewLibrary(grid, []Template{
		flatTemplate("II", "2 to 6", grid.Size()),
		flatTemplate("Ia", "2 to 6", grid.Size()),
		flatTemplate("Ia", "-2 to 2", grid.Size()),
	})
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	keys := lib.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	want := []Key{
		{Type: "II", AgeBin: "2 to 6"},
		{Type: "Ia", AgeBin: "-2 to 2"},
		{Type: "Ia", AgeBin: "2 to 6"},
	}
	for i, key := range keys {
		if key != want[i] {
			t.Fatalf("key %d: got %+v, want %+v", i, key, want[i])
		}
	}

	if got := lib.ForType("Ia"); len(got) != 2 {
		t.Fatalf("expected 2 templates for Ia, got %d", len(got))
	}
}

func TestLibraryDerivesCoverageFromFill(t *testing.T) {
	t.Parallel()

	grid := spectrum.DefaultGrid()
	lib, err := NewLibrary(grid, []Template{flatTemplate("Ia", "-2 to 2", grid.Size())})
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	tpl, err := lib.Lookup("Ia", "-2 to 2")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if tpl.MinIndex < 100-1 || tpl.MinIndex > 101 {
		t.Fatalf("derived min index %d, expected near 100", tpl.MinIndex)
	}
	if tpl.MaxIndex < 899 || tpl.MaxIndex > 901 {
		t.Fatalf("derived max index %d, expected near 900", tpl.MaxIndex)
	}
}
