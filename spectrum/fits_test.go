package spectrum

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"sn-classify/faults"
)

func fitsCard(key, value string) []byte {
	return []byte(fmt.Sprintf("%-8s= %-70s", key, value)[:80])
}

// fitsHeaderBlock lays out cards plus END, padded to the 2880-byte boundary.
func fitsHeaderBlock(cards ...[]byte) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.Write(c)
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for buf.Len()%fitsBlockSize != 0 {
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func padToBlock(data []byte) []byte {
	for len(data)%fitsBlockSize != 0 {
		data = append(data, 0)
	}
	return data
}

func imageFITS(n int, crval, cdelt float64) []byte {
	header := fitsHeaderBlock(
		fitsCard("SIMPLE", "T"),
		fitsCard("BITPIX", "-32"),
		fitsCard("NAXIS", "1"),
		fitsCard("NAXIS1", fmt.Sprintf("%d", n)),
		fitsCard("CRVAL1", fmt.Sprintf("%.1f", crval)),
		fitsCard("CDELT1", fmt.Sprintf("%.1f", cdelt)),
		fitsCard("CRPIX1", "1.0"),
	)

	data := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		flux := float32(1.0 + 0.2*math.Sin(float64(i)/20))
		data = binary.BigEndian.AppendUint32(data, math.Float32bits(flux))
	}
	return append(header, padToBlock(data)...)
}

func TestParseFITSImageHDU(t *testing.T) {
	t.Parallel()

	spec, err := parseFITS(imageFITS(200, 4000, 2), "sn.fits")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if len(spec.Wave) != 200 {
		t.Fatalf("expected 200 points, got %d", len(spec.Wave))
	}
	if spec.Wave[0] != 4000 {
		t.Fatalf("expected first wavelength 4000, got %g", spec.Wave[0])
	}
	if got := spec.Wave[1] - spec.Wave[0]; got != 2 {
		t.Fatalf("expected 2 A spacing, got %g", got)
	}
	if spec.SourceFormat != FormatFITS {
		t.Fatalf("expected FITS source format, got %s", spec.SourceFormat)
	}
}

func TestParseFITSImageClipsToUsableRange(t *testing.T) {
	t.Parallel()

	// 2000-5000 A at 3 A spacing: everything below 3500 A must be dropped.
	spec, err := parseFITS(imageFITS(1000, 2000, 3), "uv.fits")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if spec.Wave[0] < DefaultMinWave {
		t.Fatalf("wavelengths below %g survived: %g", float64(DefaultMinWave), spec.Wave[0])
	}
}

func TestParseFITSBinaryTable(t *testing.T) {
	t.Parallel()

	const rows = 64
	primary := fitsHeaderBlock(
		fitsCard("SIMPLE", "T"),
		fitsCard("BITPIX", "8"),
		fitsCard("NAXIS", "0"),
	)
	table := fitsHeaderBlock(
		fitsCard("XTENSION", "'BINTABLE'"),
		fitsCard("BITPIX", "8"),
		fitsCard("NAXIS", "2"),
		fitsCard("NAXIS1", "8"),
		fitsCard("NAXIS2", fmt.Sprintf("%d", rows)),
		fitsCard("TFIELDS", "2"),
		fitsCard("TTYPE1", "'WAVE'"),
		fitsCard("TFORM1", "'E'"),
		fitsCard("TTYPE2", "'FLUX'"),
		fitsCard("TFORM2", "'E'"),
	)

	data := make([]byte, 0, rows*8)
	for i := 0; i < rows; i++ {
		wave := float32(5000 + 10*i)
		flux := float32(2.0 + 0.1*float64(i))
		data = binary.BigEndian.AppendUint32(data, math.Float32bits(wave))
		data = binary.BigEndian.AppendUint32(data, math.Float32bits(flux))
	}

	var file []byte
	file = append(file, primary...)
	file = append(file, table...)
	file = append(file, padToBlock(data)...)

	spec, err := parseFITS(file, "table.fits")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(spec.Wave) != rows {
		t.Fatalf("expected %d points, got %d", rows, len(spec.Wave))
	}
	if spec.Wave[0] != 5000 || spec.Wave[rows-1] != 5000+10*(rows-1) {
		t.Fatalf("unexpected wavelength bounds: %g to %g", spec.Wave[0], spec.Wave[rows-1])
	}
	if spec.Flux[0] != 2.0 {
		t.Fatalf("expected first flux 2.0, got %g", spec.Flux[0])
	}
}

func TestParseFITSRejectsNonFITS(t *testing.T) {
	t.Parallel()

	_, err := parseFITS(bytes.Repeat([]byte{'x'}, fitsBlockSize), "junk.fits")
	if err == nil {
		t.Fatal("expected error for non-FITS payload")
	}
	if !faults.IsKind(err, faults.Format) {
		t.Fatalf("expected format error, got: %v", err)
	}
}

func TestParseFITSRejectsTruncated(t *testing.T) {
	t.Parallel()

	_, err := parseFITS([]byte("SIMPLE  =                    T"), "short.fits")
	if err == nil {
		t.Fatal("expected error for truncated file")
	}
	if !faults.IsKind(err, faults.Format) {
		t.Fatalf("expected format error, got: %v", err)
	}
}

func TestParseFITSRejectsMissingSpectrum(t *testing.T) {
	t.Parallel()

	// A header-only file with no image axes and no table extension.
	file := fitsHeaderBlock(
		fitsCard("SIMPLE", "T"),
		fitsCard("BITPIX", "8"),
		fitsCard("NAXIS", "0"),
	)
	_, err := parseFITS(file, "empty.fits")
	if err == nil {
		t.Fatal("expected error for a FITS file without spectral data")
	}
	if !faults.IsKind(err, faults.Format) {
		t.Fatalf("expected format error, got: %v", err)
	}
}
