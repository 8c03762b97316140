package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"log/slog"
	"time"

	"sn-classify/classify"
	"sn-classify/models"
	"sn-classify/templates"
	"sn-classify/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

type socketController struct {
	orchestrator *classify.Orchestrator
	library      *templates.Library
	registry     *classify.Registry
}

// spectrumPayload is the newSpectrum event body. The file content arrives
// base64-encoded so binary formats survive the JSON transport.
type spectrumPayload struct {
	FileName string                 `json:"fileName"`
	Data     string                 `json:"data"`
	Options  models.ClassifyOptions `json:"options"`
}

type corpusInfo struct {
	TemplateCount int      `json:"templateCount"`
	Types         []string `json:"types"`
	Models        []string `json:"models"`
}

func newSocketController(orchestrator *classify.Orchestrator, library *templates.Library, registry *classify.Registry) *socketController {
	return &socketController{orchestrator: orchestrator, library: library, registry: registry}
}

func (c *socketController) emitCorpusInfo(socket socketio.Conn) {
	descriptors := c.registry.List()
	modelIDs := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		modelIDs = append(modelIDs, d.ID)
	}
	socket.Emit("corpusInfo", corpusInfo{
		TemplateCount: c.library.Count(),
		Types:         c.library.Types(),
		Models:        modelIDs,
	})
}

func (c *socketController) handleRequestCorpusInfo(socket socketio.Conn) {
	c.emitCorpusInfo(socket)
}

func (c *socketController) handleNewSpectrum(socket socketio.Conn, payload string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	if payload == "" {
		logger.ErrorContext(ctx, "no data received in newSpectrum event")
		socket.Emit("analysisError", map[string]string{"message": "no spectrum data received"})
		return
	}

	var req spectrumPayload
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse spectrum payload", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "invalid spectrum payload"})
		return
	}

	if req.FileName == "" || req.Data == "" {
		socket.Emit("analysisError", map[string]string{"message": "fileName and data are required"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to decode spectrum data", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "spectrum data is not valid base64"})
		return
	}

	logger.InfoContext(ctx, "received spectrum",
		slog.String("socketID", socket.ID()),
		slog.String("fileName", req.FileName),
		slog.Int("bytes", len(data)),
	)

	started := time.Now()

	result, err := c.orchestrator.Classify(ctx, req.FileName, data, req.Options)
	if err != nil {
		err := xerrors.New(err)
		log.Printf("[handleNewSpectrum] Classification error for socket %s: %v\n", socket.ID(), err)
		logger.ErrorContext(ctx, "failed to classify spectrum",
			slog.String("fileName", req.FileName), slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": err.Error()})
		return
	}

	logger.InfoContext(ctx, "classification complete",
		slog.String("socketID", socket.ID()),
		slog.String("fileName", req.FileName),
		slog.Float64("latency_ms", time.Since(started).Seconds()*1000),
		slog.String("bestType", result.BestType),
		slog.String("bestAge", result.BestAge),
		slog.Float64("probability", result.Probability),
	)

	socket.Emit("classificationResult", result)
}
