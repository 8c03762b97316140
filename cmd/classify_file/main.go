package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"sn-classify/classify"
	"sn-classify/inference"
	"sn-classify/models"
	"sn-classify/spectrum"
	"sn-classify/templates"
)

func main() {
	file := flag.String("file", "", "Spectrum file to classify")
	corpus := flag.String("corpus", filepath.Join("data", "templates.json"), "Template corpus JSON")
	modelPath := flag.String("model", filepath.Join("data", "dash.onnx"), "Model file")
	classesPath := flag.String("classes", filepath.Join("data", "dash_classes.json"), "Class mapping JSON")
	knownZ := flag.Bool("knownZ", false, "Treat -z as the known redshift")
	zValue := flag.Float64("z", 0, "Known redshift (with -knownZ)")
	estimateZ := flag.Bool("estimateZ", false, "Estimate the redshift by template correlation before classifying")
	snType := flag.String("type", "", "Supernova type for redshift estimation (with -estimateZ)")
	snAgeBin := flag.String("ageBin", "", "Age bin narrowing redshift estimation to one template")
	smoothing := flag.Int("smooth", 0, "Median smoothing half-width in bins")
	rlap := flag.Bool("rlap", false, "Compute the RLAP quality score")
	flag.Parse()

	if *file == "" {
		log.Fatal("usage: classify_file -file <spectrum> [-knownZ -z <redshift>]")
	}

	grid := spectrum.DefaultGrid()
	processor := spectrum.NewProcessor(grid)

	library, err := templates.LoadLibrary(*corpus, grid)
	if err != nil {
		log.Fatalf("failed to load template corpus: %v", err)
	}

	classesData, err := os.ReadFile(*classesPath)
	if err != nil {
		log.Fatalf("failed to read class mapping: %v", err)
	}
	var classes []string
	if err := json.Unmarshal(classesData, &classes); err != nil {
		log.Fatalf("failed to parse class mapping: %v", err)
	}

	backend, err := inference.NewONNXBackend(*modelPath, "input", "output", len(classes))
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}
	defer backend.Close()

	descriptor, err := classify.NewDescriptor("dash", classify.KindDash, backend,
		[][]int64{{1, int64(grid.Size())}}, classes)
	if err != nil {
		log.Fatalf("failed to build model descriptor: %v", err)
	}
	descriptor.EmitsProbabilities = true

	registry, err := classify.NewRegistry(descriptor)
	if err != nil {
		log.Fatalf("failed to build registry: %v", err)
	}

	orchestrator := classify.NewOrchestrator(processor, library,
		templates.NewMatcher(grid), classify.NewDispatcher(registry), nil)

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("failed to read spectrum: %v", err)
	}

	result, err := orchestrator.Classify(context.Background(), filepath.Base(*file), data,
		models.ClassifyOptions{
			Smoothing:     *smoothing,
			KnownZ:        *knownZ,
			ZValue:        *zValue,
			EstimateZ:     *estimateZ,
			SNType:        *snType,
			SNAgeBin:      *snAgeBin,
			CalculateRlap: *rlap,
		})
	if err != nil {
		log.Fatalf("classification failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}
