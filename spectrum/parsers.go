package spectrum

// Spectrum File Parsers
//
// Decodes the raw upload formats supported by the service into wavelength and
// flux arrays:
//
//  1. DAT/TXT: whitespace- or comma-delimited two-column text, '#' comments
//  2. CSV: header-aware, picks WAVE/FLUX columns by name with a positional
//     fallback to the first two columns
//  3. LNW: legacy SNID-style two-column text whose first line is a header
//  4. FITS: primary-HDU 1D image with linear WCS, or a binary table with
//     named wavelength/flux columns (see fits.go)
//
// Parsing is a pure transform: bytes in, a raw Spectrum out. A recognized but
// malformed file fails with a line/column-qualified message; an unknown
// extension fails fast with the list of supported formats. Points outside the
// canonical grid range are dropped at read time and the remainder is sorted
// by wavelength, matching the behaviour the classify endpoint documents.

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"sn-classify/faults"
)

// SupportedExtensions lists every file extension the parsers accept.
func SupportedExtensions() []string {
	return []string{".fits", ".dat", ".txt", ".ascii", ".flm", ".csv", ".lnw"}
}

// DetectFormat maps a file name to its parser, failing with the supported
// list for anything unrecognized.
func DetectFormat(fileName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".fits":
		return FormatFITS, nil
	case ".dat":
		return FormatDAT, nil
	case ".txt", ".ascii", ".flm":
		return FormatTXT, nil
	case ".csv":
		return FormatCSV, nil
	case ".lnw":
		return FormatLNW, nil
	default:
		return "", faults.New(faults.Format,
			"unsupported file format %q (supported: %s)",
			fileName, strings.Join(SupportedExtensions(), ", "))
	}
}

// Parse sniffs the format from the file name and decodes the payload into a
// raw spectrum.
func Parse(data []byte, fileName string) (*Spectrum, error) {
	format, err := DetectFormat(fileName)
	if err != nil {
		return nil, err
	}
	return ParseAs(data, fileName, format)
}

// ParseAs decodes the payload with a caller-declared format tag.
func ParseAs(data []byte, fileName string, format Format) (*Spectrum, error) {
	if len(data) == 0 {
		return nil, faults.New(faults.Format, "%s: file is empty", fileName)
	}

	var (
		spec *Spectrum
		err  error
	)
	switch format {
	case FormatDAT, FormatTXT:
		spec, err = parseColumns(data, fileName, format, false)
	case FormatLNW:
		spec, err = parseColumns(data, fileName, FormatLNW, true)
	case FormatCSV:
		spec, err = parseCSV(data, fileName)
	case FormatFITS:
		spec, err = parseFITS(data, fileName)
	default:
		return nil, faults.New(faults.Format,
			"unsupported file format %q (supported: %s)",
			fileName, strings.Join(SupportedExtensions(), ", "))
	}
	if err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

type point struct {
	wave float64
	flux float64
}

// parseColumns handles the two-column text family. LNW files carry a header
// line with template metadata which is skipped when it is not numeric data.
func parseColumns(data []byte, fileName string, format Format, skipHeader bool) (*Spectrum, error) {
	lines := strings.Split(string(data), "\n")
	points := make([]point, 0, len(lines))

	for lineNo, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := splitColumns(trimmed)
		// LNW headers carry counts and the template name on the first line.
		if skipHeader && lineNo == 0 && (len(fields) > 2 || !looksLikeDataLine(fields)) {
			continue
		}

		if len(fields) < 2 {
			return nil, faults.New(faults.Format,
				"%s: line %d: expected two columns (wavelength flux), got %d",
				fileName, lineNo+1, len(fields))
		}

		wave, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, faults.New(faults.Format,
				"%s: line %d, column %d: invalid wavelength %q",
				fileName, lineNo+1, columnOf(trimmed, fields[0]), fields[0])
		}
		flux, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, faults.New(faults.Format,
				"%s: line %d, column %d: invalid flux %q",
				fileName, lineNo+1, columnOf(trimmed, fields[1]), fields[1])
		}

		if wave < DefaultMinWave || wave > DefaultMaxWave {
			continue
		}
		points = append(points, point{wave: wave, flux: flux})
	}

	return assemble(points, fileName, format)
}

// parseCSV reads a header-bearing CSV, preferring named WAVE/FLUX columns and
// falling back to the first two columns. Tab-delimited files with a .csv
// extension are tolerated.
func parseCSV(data []byte, fileName string) (*Spectrum, error) {
	content := string(data)
	delimiter := ","
	if firstLine, _, _ := strings.Cut(content, "\n"); !strings.Contains(firstLine, ",") && strings.Contains(firstLine, "\t") {
		delimiter = "\t"
	}

	lines := strings.Split(content, "\n")
	waveIdx, fluxIdx := -1, -1
	firstDataLine := 0

	if len(lines) > 0 {
		header := strings.Split(strings.TrimSpace(strings.TrimSuffix(lines[0], "\r")), delimiter)
		for i, col := range header {
			switch strings.ToUpper(strings.TrimSpace(col)) {
			case "WAVE", "WAVELENGTH", "LAMBDA", "WL":
				waveIdx = i
			case "FLUX", "FLUX_DENSITY", "F":
				fluxIdx = i
			}
		}
		if waveIdx >= 0 && fluxIdx >= 0 {
			firstDataLine = 1
		} else if !looksLikeDataLine(header) {
			// Unnamed header row: skip it and use the first two columns.
			firstDataLine = 1
		}
		if waveIdx < 0 || fluxIdx < 0 {
			waveIdx, fluxIdx = 0, 1
		}
	}

	points := make([]point, 0, len(lines))
	for lineNo := firstDataLine; lineNo < len(lines); lineNo++ {
		trimmed := strings.TrimSpace(strings.TrimSuffix(lines[lineNo], "\r"))
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Split(trimmed, delimiter)
		if len(fields) <= waveIdx || len(fields) <= fluxIdx {
			return nil, faults.New(faults.Format,
				"%s: line %d: expected at least %d columns, got %d",
				fileName, lineNo+1, maxInt(waveIdx, fluxIdx)+1, len(fields))
		}

		waveStr := strings.TrimSpace(fields[waveIdx])
		fluxStr := strings.TrimSpace(fields[fluxIdx])
		wave, err := strconv.ParseFloat(waveStr, 64)
		if err != nil {
			return nil, faults.New(faults.Format,
				"%s: line %d, column %d: invalid wavelength %q",
				fileName, lineNo+1, waveIdx+1, waveStr)
		}
		flux, err := strconv.ParseFloat(fluxStr, 64)
		if err != nil {
			return nil, faults.New(faults.Format,
				"%s: line %d, column %d: invalid flux %q",
				fileName, lineNo+1, fluxIdx+1, fluxStr)
		}

		if wave < DefaultMinWave || wave > DefaultMaxWave {
			continue
		}
		points = append(points, point{wave: wave, flux: flux})
	}

	return assemble(points, fileName, FormatCSV)
}

func assemble(points []point, fileName string, format Format) (*Spectrum, error) {
	if len(points) == 0 {
		return nil, faults.New(faults.Format,
			"%s: no valid spectrum points in the %.0f-%.0f A range",
			fileName, DefaultMinWave, DefaultMaxWave)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].wave < points[j].wave })

	// Collapse duplicate wavelengths so the strictly-increasing invariant
	// holds; duplicates occasionally appear in stitched spectra.
	wave := make([]float64, 0, len(points))
	flux := make([]float64, 0, len(points))
	for _, p := range points {
		if len(wave) > 0 && p.wave <= wave[len(wave)-1] {
			continue
		}
		wave = append(wave, p.wave)
		flux = append(flux, p.flux)
	}

	if len(wave) < 2 {
		return nil, faults.New(faults.Format, "%s: fewer than two usable spectrum points", fileName)
	}

	return &Spectrum{
		Wave:         wave,
		Flux:         flux,
		SourceFormat: format,
		FileName:     fileName,
		State:        StateRaw,
	}, nil
}

func splitColumns(line string) []string {
	if strings.Contains(line, ",") && !strings.ContainsAny(line, " \t") {
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return strings.Fields(strings.ReplaceAll(line, ",", " "))
}

// looksLikeDataLine reports whether the first two fields parse as floats.
func looksLikeDataLine(fields []string) bool {
	if len(fields) < 2 {
		return false
	}
	for _, f := range fields[:2] {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return false
		}
	}
	return true
}

// columnOf returns the 1-based character column where token starts in line.
func columnOf(line, token string) int {
	if idx := strings.Index(line, token); idx >= 0 {
		return idx + 1
	}
	return 1
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
