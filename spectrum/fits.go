package spectrum

// Minimal FITS reader for optical spectra.
//
// Two layouts cover the archives users upload:
//
//  1. Primary HDU holding a 1D flux image with a linear wavelength WCS
//     (CRVAL1/CDELT1/CRPIX1)
//  2. A BINTABLE extension with named wavelength and flux columns, either one
//     scalar pair per row or a single row of fixed-length vector cells
//
// Header cards are 80-byte records in 2880-byte blocks; data follows the
// header padded to the next block boundary. Values are big-endian.

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"sn-classify/faults"
)

const fitsBlockSize = 2880

type fitsHeader struct {
	cards map[string]string
	size  int // bytes consumed by the header, block aligned
}

func parseFITS(data []byte, fileName string) (*Spectrum, error) {
	if len(data) < fitsBlockSize {
		return nil, faults.New(faults.Format, "%s: truncated FITS file (%d bytes)", fileName, len(data))
	}
	if !strings.HasPrefix(string(data[:8]), "SIMPLE") {
		return nil, faults.New(faults.Format, "%s: missing SIMPLE card, not a FITS file", fileName)
	}

	offset := 0
	primary, err := readFITSHeader(data, offset, fileName)
	if err != nil {
		return nil, err
	}

	// Try the primary HDU as a 1D image first.
	if spec, ok, err := imageSpectrum(primary, data, offset+primary.size, fileName); err != nil {
		return nil, err
	} else if ok {
		return spec, nil
	}

	// Walk extensions looking for a binary table with usable columns.
	offset += primary.size + dataSize(primary)
	for offset+fitsBlockSize <= len(data) {
		hdr, err := readFITSHeader(data, offset, fileName)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(hdr.cards["XTENSION"], "BINTABLE") {
			spec, err := tableSpectrum(hdr, data, offset+hdr.size, fileName)
			if err != nil {
				return nil, err
			}
			return spec, nil
		}
		offset += hdr.size + dataSize(hdr)
	}

	return nil, faults.New(faults.Format,
		"%s: no 1D image or BINTABLE spectrum extension found", fileName)
}

func readFITSHeader(data []byte, offset int, fileName string) (*fitsHeader, error) {
	cards := make(map[string]string)
	pos := offset
	for {
		if pos+fitsBlockSize > len(data) {
			return nil, faults.New(faults.Format, "%s: unterminated FITS header", fileName)
		}
		block := data[pos : pos+fitsBlockSize]
		pos += fitsBlockSize

		ended := false
		for i := 0; i < fitsBlockSize; i += 80 {
			card := string(block[i : i+80])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				ended = true
				break
			}
			if key == "" || key == "COMMENT" || key == "HISTORY" {
				continue
			}
			if len(card) > 10 && card[8] == '=' {
				value := strings.TrimSpace(card[10:])
				// Strip trailing comment and quoting.
				if strings.HasPrefix(value, "'") {
					if end := strings.Index(value[1:], "'"); end >= 0 {
						value = strings.TrimSpace(value[1 : end+1])
					}
				} else if slash := strings.Index(value, "/"); slash >= 0 {
					value = strings.TrimSpace(value[:slash])
				}
				cards[key] = value
			}
		}
		if ended {
			break
		}
	}

	return &fitsHeader{cards: cards, size: pos - offset}, nil
}

func (h *fitsHeader) intCard(key string, fallback int) int {
	if v, ok := h.cards[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (h *fitsHeader) floatCard(key string, fallback float64) float64 {
	if v, ok := h.cards[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// dataSize returns the block-aligned byte length of the data unit following
// the header.
func dataSize(h *fitsHeader) int {
	bitpix := h.intCard("BITPIX", 8)
	naxis := h.intCard("NAXIS", 0)
	if naxis == 0 {
		return 0
	}
	elems := 1
	for i := 1; i <= naxis; i++ {
		elems *= h.intCard("NAXIS"+strconv.Itoa(i), 0)
	}
	raw := elems * abs(bitpix) / 8
	if rem := raw % fitsBlockSize; rem != 0 {
		raw += fitsBlockSize - rem
	}
	return raw
}

// imageSpectrum extracts a spectrum from a 1D image HDU with a linear WCS.
// The second return value is false when the HDU carries no image data.
func imageSpectrum(h *fitsHeader, data []byte, dataOffset int, fileName string) (*Spectrum, bool, error) {
	naxis := h.intCard("NAXIS", 0)
	n := h.intCard("NAXIS1", 0)
	if naxis < 1 || n < 2 {
		return nil, false, nil
	}

	crval := h.floatCard("CRVAL1", 0)
	cdelt := h.floatCard("CDELT1", h.floatCard("CD1_1", 0))
	crpix := h.floatCard("CRPIX1", 1)
	if cdelt == 0 {
		return nil, false, nil
	}

	bitpix := h.intCard("BITPIX", 8)
	bscale := h.floatCard("BSCALE", 1)
	bzero := h.floatCard("BZERO", 0)

	width := abs(bitpix) / 8
	if dataOffset+n*width > len(data) {
		return nil, false, faults.New(faults.Format, "%s: FITS image data truncated", fileName)
	}

	points := make([]point, 0, n)
	for i := 0; i < n; i++ {
		raw := data[dataOffset+i*width : dataOffset+(i+1)*width]
		value, err := decodeFITSValue(raw, bitpix)
		if err != nil {
			return nil, false, faults.New(faults.Format,
				"%s: unsupported BITPIX %d in image HDU", fileName, bitpix)
		}
		wave := crval + cdelt*(float64(i)+1-crpix)
		flux := value*bscale + bzero
		if wave < DefaultMinWave || wave > DefaultMaxWave {
			continue
		}
		points = append(points, point{wave: wave, flux: flux})
	}

	spec, err := assemble(points, fileName, FormatFITS)
	if err != nil {
		return nil, false, err
	}
	return spec, true, nil
}

type fitsColumn struct {
	offset int // byte offset inside a row
	width  int // bytes per element
	repeat int
	isF64  bool
}

// tableSpectrum extracts wavelength/flux columns from a BINTABLE extension.
func tableSpectrum(h *fitsHeader, data []byte, dataOffset int, fileName string) (*Spectrum, error) {
	fields := h.intCard("TFIELDS", 0)
	rowBytes := h.intCard("NAXIS1", 0)
	rows := h.intCard("NAXIS2", 0)
	if fields == 0 || rowBytes == 0 || rows == 0 {
		return nil, faults.New(faults.Format, "%s: empty BINTABLE extension", fileName)
	}

	var waveCol, fluxCol *fitsColumn
	offset := 0
	for i := 1; i <= fields; i++ {
		form := h.cards["TFORM"+strconv.Itoa(i)]
		repeat, width, isF64, err := parseTForm(form)
		if err != nil {
			return nil, faults.New(faults.Format, "%s: column %d: %v", fileName, i, err)
		}

		name := strings.ToUpper(strings.TrimSpace(h.cards["TTYPE"+strconv.Itoa(i)]))
		col := &fitsColumn{offset: offset, width: width, repeat: repeat, isF64: isF64}
		switch name {
		case "WAVE", "WAVELENGTH", "LAMBDA", "WL", "LOGLAM":
			waveCol = col
		case "FLUX", "FLUX_DENSITY", "F":
			fluxCol = col
		}
		offset += repeat * width
	}
	if waveCol == nil || fluxCol == nil {
		return nil, faults.New(faults.Format,
			"%s: BINTABLE lacks wavelength/flux columns (need WAVE and FLUX TTYPEs)", fileName)
	}
	if dataOffset+rows*rowBytes > len(data) {
		return nil, faults.New(faults.Format, "%s: FITS table data truncated", fileName)
	}

	readCell := func(col *fitsColumn, row, elem int) float64 {
		base := dataOffset + row*rowBytes + col.offset + elem*col.width
		raw := data[base : base+col.width]
		if col.isF64 {
			return math.Float64frombits(binary.BigEndian.Uint64(raw))
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
	}

	points := make([]point, 0, rows*waveCol.repeat)
	appendPoint := func(wave, flux float64) {
		if math.IsNaN(wave) || math.IsNaN(flux) {
			return
		}
		if wave < DefaultMinWave || wave > DefaultMaxWave {
			return
		}
		points = append(points, point{wave: wave, flux: flux})
	}

	if waveCol.repeat > 1 && rows >= 1 {
		// Vector cells: the whole spectrum lives in one row.
		n := minInt(waveCol.repeat, fluxCol.repeat)
		for i := 0; i < n; i++ {
			appendPoint(readCell(waveCol, 0, i), readCell(fluxCol, 0, i))
		}
	} else {
		for r := 0; r < rows; r++ {
			appendPoint(readCell(waveCol, r, 0), readCell(fluxCol, r, 0))
		}
	}

	return assemble(points, fileName, FormatFITS)
}

// parseTForm decodes a BINTABLE TFORM like "E", "1D" or "1024E". Only
// floating-point columns are supported.
func parseTForm(form string) (repeat, width int, isF64 bool, err error) {
	form = strings.TrimSpace(form)
	if form == "" {
		return 0, 0, false, faults.New(faults.Format, "missing TFORM")
	}

	repeat = 1
	idx := 0
	for idx < len(form) && form[idx] >= '0' && form[idx] <= '9' {
		idx++
	}
	if idx > 0 {
		repeat, _ = strconv.Atoi(form[:idx])
	}
	if idx >= len(form) {
		return 0, 0, false, faults.New(faults.Format, "malformed TFORM %q", form)
	}

	switch form[idx] {
	case 'E':
		return repeat, 4, false, nil
	case 'D':
		return repeat, 8, true, nil
	default:
		return 0, 0, false, faults.New(faults.Format, "unsupported TFORM type %q", form)
	}
}

func decodeFITSValue(raw []byte, bitpix int) (float64, error) {
	switch bitpix {
	case -32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), nil
	case -64:
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
	case 16:
		return float64(int16(binary.BigEndian.Uint16(raw))), nil
	case 32:
		return float64(int32(binary.BigEndian.Uint32(raw))), nil
	default:
		return 0, faults.New(faults.Format, "unsupported BITPIX %d", bitpix)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
