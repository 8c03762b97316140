package templates

// Corpus building. Turns a directory tree of reference spectra, laid out as
// <dir>/<type>/<age bin>/<files>, into the JSON corpus the service loads at
// startup. Every file runs through the same normalization as live requests,
// and files sharing a (type, age bin) key are averaged bin by bin.

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"sn-classify/faults"
	"sn-classify/spectrum"
)

// BuildCorpus processes every spectrum under dir into templates.
func BuildCorpus(dir string, processor *spectrum.Processor) ([]Template, error) {
	grid := processor.Grid()

	type accumulator struct {
		sum   []float64
		count []int
	}
	acc := make(map[Key]*accumulator)

	typeDirs, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to read corpus directory %s", dir)
	}

	for _, typeDir := range typeDirs {
		if !typeDir.IsDir() {
			continue
		}
		snType := typeDir.Name()

		ageDirs, err := os.ReadDir(filepath.Join(dir, snType))
		if err != nil {
			return nil, faults.Wrap(faults.Configuration, err, "failed to read type directory %s", snType)
		}

		for _, ageDir := range ageDirs {
			if !ageDir.IsDir() {
				continue
			}
			ageBin := ageDir.Name()
			key := Key{Type: snType, AgeBin: ageBin}

			entries, err := os.ReadDir(filepath.Join(dir, snType, ageBin))
			if err != nil {
				return nil, faults.Wrap(faults.Configuration, err, "failed to read age directory %s/%s", snType, ageBin)
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				name := entry.Name()
				if _, err := spectrum.DetectFormat(name); err != nil {
					continue
				}

				path := filepath.Join(dir, snType, ageBin, name)
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, faults.Wrap(faults.Configuration, err, "failed to read %s", path)
				}
				spec, err := spectrum.Parse(data, name)
				if err != nil {
					return nil, faults.Wrap(faults.Configuration, err, "failed to parse %s", path)
				}
				processed, err := processor.Process(spec, spectrum.Options{})
				if err != nil {
					return nil, faults.Wrap(faults.Configuration, err, "failed to process %s", path)
				}

				a := acc[key]
				if a == nil {
					a = &accumulator{
						sum:   make([]float64, grid.Size()),
						count: make([]int, grid.Size()),
					}
					acc[key] = a
				}
				for i := processed.MinIndex; i <= processed.MaxIndex; i++ {
					a.sum[i] += processed.Flux[i]
					a.count[i]++
				}
			}
		}
	}

	if len(acc) == 0 {
		return nil, faults.New(faults.Configuration, "no usable spectra under %s", dir)
	}

	keys := make([]Key, 0, len(acc))
	for key := range acc {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].AgeBin < keys[j].AgeBin
	})

	out := make([]Template, 0, len(keys))
	for _, key := range keys {
		a := acc[key]
		flux := make([]float64, grid.Size())
		minIdx, maxIdx := -1, -1
		for i := range flux {
			if a.count[i] > 0 {
				flux[i] = a.sum[i] / float64(a.count[i])
				if minIdx < 0 {
					minIdx = i
				}
				maxIdx = i
			} else {
				flux[i] = 0.5
			}
		}
		out = append(out, Template{
			Type:     key.Type,
			AgeBin:   key.AgeBin,
			Flux:     flux,
			MinIndex: minIdx,
			MaxIndex: maxIdx,
		})
	}
	return out, nil
}

// SaveCorpus writes templates as the corpus JSON file.
func SaveCorpus(path string, corpus []Template) error {
	data, err := json.MarshalIndent(corpus, "", "  ")
	if err != nil {
		return faults.Wrap(faults.Configuration, err, "failed to encode corpus")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return faults.Wrap(faults.Configuration, err, "failed to write corpus %s", path)
	}
	return nil
}
