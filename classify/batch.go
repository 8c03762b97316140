package classify

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"sn-classify/faults"
	"sn-classify/models"
	"sn-classify/spectrum"
	"sn-classify/utils"
)

// maxArchiveEntrySize bounds a single decompressed spectrum file. Spectra
// are small text files, so anything larger is a broken or hostile archive.
const maxArchiveEntrySize = 64 << 20

// BatchItem is one spectrum file submitted as part of a batch.
type BatchItem struct {
	FileName string
	Data     []byte
}

// ExpandArchive unpacks a zip archive into batch items. Directories and
// files with unsupported extensions are skipped. Entry order is preserved.
func ExpandArchive(data []byte) ([]BatchItem, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, faults.Wrap(faults.Format, err, "failed to open zip archive")
	}

	var items []BatchItem
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(entry.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, err := spectrum.DetectFormat(name); err != nil {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, faults.Wrap(faults.Format, err, "failed to read archive entry %s", entry.Name)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, faults.Wrap(faults.Format, err, "failed to read archive entry %s", entry.Name)
		}
		if len(content) > maxArchiveEntrySize {
			return nil, faults.New(faults.Format, "archive entry %s exceeds size limit", entry.Name)
		}

		items = append(items, BatchItem{FileName: name, Data: content})
	}

	if len(items) == 0 {
		return nil, faults.New(faults.Validation, "archive contains no spectrum files")
	}
	return items, nil
}

// ClassifyBatch classifies every item with a bounded worker pool. A failing
// item never aborts the batch; its error is captured in its outcome slot.
// Outcomes are returned in submission order.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, items []BatchItem, opts models.ClassifyOptions) *models.BatchSummary {
	workers, err := strconv.Atoi(utils.GetEnv("BATCH_WORKERS", "4"))
	if err != nil || workers <= 0 {
		workers = 4
	}
	if workers > len(items) {
		workers = len(items)
	}

	outcomes := make([]models.BatchOutcome, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				outcomes[idx] = o.classifyBatchItem(ctx, item, opts)
			}
		}()
	}

	for idx := range items {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			outcomes[idx] = models.BatchOutcome{
				FileName: items[idx].FileName,
				Error:    "batch canceled",
			}
		}
	}
	close(jobs)
	wg.Wait()

	summary := &models.BatchSummary{Total: len(items), Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Error == "" {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// classifyBatchItem isolates one item, converting panics and errors into a
// failed outcome.
func (o *Orchestrator) classifyBatchItem(ctx context.Context, item BatchItem, opts models.ClassifyOptions) (outcome models.BatchOutcome) {
	outcome.FileName = item.FileName

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "panic while classifying batch item",
				slog.String("fileName", item.FileName), slog.Any("panic", r))
			outcome.Result = nil
			outcome.Error = "internal error while classifying spectrum"
		}
	}()

	result, err := o.Classify(ctx, item.FileName, item.Data, opts)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Result = result
	return outcome
}
