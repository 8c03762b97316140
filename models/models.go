package models

import (
	"encoding/json"
	"time"
)

// ClassifyOptions carries the per-request tuning of the classification
// pipeline. Zero values select the documented defaults.
//
// EstimateZ requests redshift-aware classification: the pipeline correlates
// the normalized spectrum against the templates selected by SNType (and
// SNAgeBin, when given) and de-redshifts before inference. Without it the
// spectrum is classified as normalized.
type ClassifyOptions struct {
	Smoothing     int     `json:"smoothing"`
	MinWave       float64 `json:"minWave"`
	MaxWave       float64 `json:"maxWave"`
	KnownZ        bool    `json:"knownZ"`
	ZValue        float64 `json:"zValue"`
	EstimateZ     bool    `json:"estimateZ"`
	SNType        string  `json:"snType"`
	SNAgeBin      string  `json:"snAgeBin"`
	CalculateRlap bool    `json:"calculateRlap"`
	ModelType     string  `json:"modelType"`
}

// ClassMatch is one ranked entry of a classification result.
type ClassMatch struct {
	Type        string  `json:"type"`
	Age         string  `json:"age,omitempty"`
	Probability float64 `json:"probability"`
}

// ClassificationResult is the outcome of classifying a single spectrum.
type ClassificationResult struct {
	FileName        string       `json:"fileName"`
	Model           string       `json:"model"`
	Matches         []ClassMatch `json:"matches"`
	BestType        string       `json:"bestType,omitempty"`
	BestAge         string       `json:"bestAge,omitempty"`
	Probability     float64      `json:"probability"`
	Redshift        *float64     `json:"redshift,omitempty"`
	RedshiftError   *float64     `json:"redshiftError,omitempty"`
	RedshiftSource  string       `json:"redshiftSource,omitempty"`
	RLAP            *float64     `json:"rlap,omitempty"`
	ReliableMatches bool         `json:"reliableMatches"`
	Message         string       `json:"message,omitempty"`
	LatencyMs       float64      `json:"latencyMs"`
}

// RedshiftEstimate is the response of the standalone redshift endpoint.
type RedshiftEstimate struct {
	EstimatedRedshift      *float64 `json:"estimated_redshift"`
	EstimatedRedshiftError *float64 `json:"estimated_redshift_error"`
	Message                string   `json:"message,omitempty"`
}

// BatchOutcome is the per-file result of a batch run. Exactly one of Result
// and Error is set.
type BatchOutcome struct {
	FileName string                `json:"fileName"`
	Result   *ClassificationResult `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// BatchSummary aggregates a batch run, outcomes in submission order.
type BatchSummary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Outcomes  []BatchOutcome `json:"outcomes"`
}

// ModelInfo describes a registered classification model.
type ModelInfo struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Classes     []string  `json:"classes"`
	InputShapes [][]int64 `json:"inputShapes"`
	UploadedAt  string    `json:"uploadedAt,omitempty"`
}

// StoredClassification is a persisted classification record.
type StoredClassification struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	FileName  string          `json:"fileName"`
	Model     string          `json:"model"`
	BestType  string          `json:"bestType,omitempty"`
	BestAge   string          `json:"bestAge,omitempty"`
	Redshift  *float64        `json:"redshift,omitempty"`
	Result    json.RawMessage `json:"result"`
}

// StoredModel is a persisted user-uploaded model record.
type StoredModel struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Classes   []string  `json:"classes"`
	InputDims []int64   `json:"inputDims"`
	CreatedAt time.Time `json:"createdAt"`
}
