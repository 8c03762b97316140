package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"sn-classify/spectrum"
	"sn-classify/templates"
)

func main() {
	dir := flag.String("dir", "train_data", "Directory of reference spectra, laid out as <type>/<age bin>/<files>")
	out := flag.String("out", filepath.Join("data", "templates.json"), "Output path for the corpus JSON")
	flag.Parse()

	processor := spectrum.NewProcessor(spectrum.DefaultGrid())

	corpus, err := templates.BuildCorpus(*dir, processor)
	if err != nil {
		log.Fatalf("failed to build corpus: %v", err)
	}

	if err := templates.SaveCorpus(*out, corpus); err != nil {
		log.Fatalf("failed to save corpus: %v", err)
	}

	fmt.Printf("Saved %d templates to %s\n", len(corpus), *out)
}
