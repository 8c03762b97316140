package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"sn-classify/db"
	"sn-classify/faults"
	"sn-classify/models"
	"sn-classify/spectrum"
	"sn-classify/templates"
	"sn-classify/utils"
)

// DefaultModelID is used when a request names no model.
const DefaultModelID = string(KindDash)

// Orchestrator runs the full classification pipeline: parse, normalize,
// estimate the redshift when the request asks for it, dispatch to a model
// and rank the output. One orchestrator serves all requests concurrently.
type Orchestrator struct {
	processor  *spectrum.Processor
	library    *templates.Library
	matcher    *templates.Matcher
	dispatcher *Dispatcher
	store      db.Store
	logger     *slog.Logger
	timeout    time.Duration
}

// NewOrchestrator wires the pipeline stages together. The store may be nil,
// in which case no history is written. The per-request timeout comes from
// CLASSIFY_TIMEOUT_SECONDS.
func NewOrchestrator(processor *spectrum.Processor, library *templates.Library,
	matcher *templates.Matcher, dispatcher *Dispatcher, store db.Store) *Orchestrator {

	timeoutSeconds, err := strconv.Atoi(utils.GetEnv("CLASSIFY_TIMEOUT_SECONDS", "30"))
	if err != nil || timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &Orchestrator{
		processor:  processor,
		library:    library,
		matcher:    matcher,
		dispatcher: dispatcher,
		store:      store,
		logger:     utils.GetLogger(),
		timeout:    time.Duration(timeoutSeconds) * time.Second,
	}
}

// Library returns the template corpus the orchestrator matches against.
func (o *Orchestrator) Library() *templates.Library { return o.library }

// ModelDispatcher returns the model dispatcher.
func (o *Orchestrator) ModelDispatcher() *Dispatcher { return o.dispatcher }

// Store returns the history store, possibly nil.
func (o *Orchestrator) Store() db.Store { return o.store }

// Classify runs one spectrum through the pipeline.
func (o *Orchestrator) Classify(ctx context.Context, fileName string, data []byte, opts models.ClassifyOptions) (*models.ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()

	modelID := opts.ModelType
	if modelID == "" {
		modelID = DefaultModelID
	}

	spec, err := spectrum.Parse(data, fileName)
	if err != nil {
		return nil, err
	}

	result := &models.ClassificationResult{
		FileName: fileName,
		Model:    modelID,
	}

	procOpts := spectrum.Options{
		Smoothing: opts.Smoothing,
		MinWave:   opts.MinWave,
		MaxWave:   opts.MaxWave,
	}

	var processed *spectrum.Processed
	switch {
	case opts.KnownZ:
		procOpts.KnownZ = true
		procOpts.ZValue = opts.ZValue
		processed, err = o.processor.Process(spec, procOpts)
		if err != nil {
			return nil, err
		}
		z := opts.ZValue
		result.Redshift = &z
		result.RedshiftSource = "known"

	case opts.EstimateZ:
		// Normalize at rest first, then correlate against the requested
		// type's templates to find the redshift and reprocess with it.
		restOnly, err := o.processor.Process(spec, procOpts)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, faults.Wrap(faults.Pipeline, err, "classification of %s timed out", fileName)
		}

		candidates, err := o.redshiftCandidates(opts.SNType, opts.SNAgeBin)
		if err != nil {
			return nil, err
		}
		estimate, err := o.matcher.Estimate(restOnly, candidates)
		if err != nil {
			return nil, err
		}

		if estimate.NoMatch {
			result.Message = estimate.Message
			processed = restOnly
		} else {
			procOpts.KnownZ = true
			procOpts.ZValue = estimate.Redshift
			processed, err = o.processor.Process(spec, procOpts)
			if err != nil {
				return nil, err
			}
			z, zerr := estimate.Redshift, estimate.RedshiftError
			result.Redshift = &z
			result.RedshiftError = &zerr
			result.RedshiftSource = "estimated"
		}

	default:
		processed, err = o.processor.Process(spec, procOpts)
		if err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "classification of %s timed out", fileName)
	}

	matches, err := o.dispatcher.Dispatch(ctx, modelID, processed.InputVector())
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.Wrap(faults.Pipeline, ctx.Err(), "classification of %s timed out", fileName)
		}
		return nil, err
	}

	result.Matches = matches
	if len(matches) > 0 {
		result.BestType = matches[0].Type
		result.BestAge = matches[0].Age
		result.Probability = matches[0].Probability
	}

	if opts.CalculateRlap && result.BestType != "" {
		o.attachRlap(processed, result)
	}

	result.LatencyMs = time.Since(started).Seconds() * 1000

	o.recordHistory(ctx, result)
	return result, nil
}

// EstimateRedshift runs only the parse, normalize and correlation stages.
func (o *Orchestrator) EstimateRedshift(ctx context.Context, fileName string, data []byte, opts models.ClassifyOptions) (*models.RedshiftEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	spec, err := spectrum.Parse(data, fileName)
	if err != nil {
		return nil, err
	}

	processed, err := o.processor.Process(spec, spectrum.Options{
		Smoothing: opts.Smoothing,
		MinWave:   opts.MinWave,
		MaxWave:   opts.MaxWave,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "redshift estimation of %s timed out", fileName)
	}

	candidates, err := o.redshiftCandidates(opts.SNType, opts.SNAgeBin)
	if err != nil {
		return nil, err
	}
	estimate, err := o.matcher.Estimate(processed, candidates)
	if err != nil {
		return nil, err
	}

	if estimate.NoMatch {
		return &models.RedshiftEstimate{Message: estimate.Message}, nil
	}
	z, zerr := estimate.Redshift, estimate.RedshiftError
	return &models.RedshiftEstimate{
		EstimatedRedshift:      &z,
		EstimatedRedshiftError: &zerr,
	}, nil
}

// redshiftCandidates selects the template set correlation runs against: a
// single (type, age bin) pair when both are given, every age bin of the
// type otherwise. The type is mandatory.
func (o *Orchestrator) redshiftCandidates(snType, ageBin string) ([]*templates.Template, error) {
	if snType == "" {
		return nil, faults.New(faults.Validation, "redshift estimation requires a supernova type")
	}
	if ageBin != "" {
		tpl, err := o.library.Lookup(snType, ageBin)
		if err != nil {
			return nil, err
		}
		return []*templates.Template{tpl}, nil
	}
	candidates := o.library.ForType(snType)
	if len(candidates) == 0 {
		return nil, faults.New(faults.NotFound, "no templates for type %q", snType)
	}
	return candidates, nil
}

// attachRlap correlates the rest-frame spectrum against the templates of
// the winning type and reports the quality of the best one.
func (o *Orchestrator) attachRlap(processed *spectrum.Processed, result *models.ClassificationResult) {
	candidates := o.library.ForType(result.BestType)
	if len(candidates) == 0 {
		result.ReliableMatches = false
		return
	}

	estimate, err := o.matcher.Estimate(processed, candidates)
	if err != nil {
		o.logger.Warn("rlap computation failed",
			slog.String("fileName", result.FileName), slog.Any("error", err))
		return
	}
	if estimate.NoMatch {
		result.ReliableMatches = false
		return
	}
	rlap := estimate.RLAP
	result.RLAP = &rlap
	result.ReliableMatches = true
}

// recordHistory persists the result. Failures are logged, not surfaced: a
// classification that worked is not failed by a history write.
func (o *Orchestrator) recordHistory(ctx context.Context, result *models.ClassificationResult) {
	if o.store == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to encode classification for history", slog.Any("error", err))
		return
	}

	record := &models.StoredClassification{
		Timestamp: time.Now().UTC(),
		FileName:  result.FileName,
		Model:     result.Model,
		BestType:  result.BestType,
		BestAge:   result.BestAge,
		Redshift:  result.Redshift,
		Result:    payload,
	}
	if err := o.store.SaveClassification(record); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist classification", slog.Any("error", err))
	}
}
