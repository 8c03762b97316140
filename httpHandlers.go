package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sn-classify/chat"
	"sn-classify/classify"
	"sn-classify/db"
	"sn-classify/faults"
	"sn-classify/inference"
	"sn-classify/models"
	"sn-classify/spectrum"
	"sn-classify/templates"
	"sn-classify/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

type apiError struct {
	Message string `json:"message"`
}

const maxUploadBytes = 256 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	kind, ok := faults.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case faults.Format, faults.Validation:
		return http.StatusBadRequest
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Conflict:
		return http.StatusConflict
	case faults.ExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func allowCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// parseClassifyOptions reads pipeline options from a multipart form. Absent
// fields fall back to the documented defaults.
func parseClassifyOptions(r *http.Request) (models.ClassifyOptions, error) {
	opts := models.ClassifyOptions{
		MinWave: spectrum.DefaultMinWave,
		MaxWave: spectrum.DefaultMaxWave,
	}

	if v := strings.TrimSpace(r.FormValue("smoothing")); v != "" {
		smoothing, err := strconv.Atoi(v)
		if err != nil || smoothing < 0 {
			return opts, faults.New(faults.Validation, "invalid smoothing value %q", v)
		}
		opts.Smoothing = smoothing
	}
	if v := strings.TrimSpace(r.FormValue("minWave")); v != "" {
		minWave, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, faults.New(faults.Validation, "invalid minWave value %q", v)
		}
		opts.MinWave = minWave
	}
	if v := strings.TrimSpace(r.FormValue("maxWave")); v != "" {
		maxWave, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, faults.New(faults.Validation, "invalid maxWave value %q", v)
		}
		opts.MaxWave = maxWave
	}
	if strings.EqualFold(r.FormValue("knownZ"), "true") {
		zStr := strings.TrimSpace(r.FormValue("zValue"))
		zValue, err := strconv.ParseFloat(zStr, 64)
		if err != nil {
			return opts, faults.New(faults.Validation, "invalid zValue %q", zStr)
		}
		opts.KnownZ = true
		opts.ZValue = zValue
	}
	opts.EstimateZ = strings.EqualFold(r.FormValue("estimateZ"), "true")
	opts.SNType = strings.TrimSpace(r.FormValue("snType"))
	opts.SNAgeBin = strings.TrimSpace(r.FormValue("snAgeBin"))
	opts.CalculateRlap = strings.EqualFold(r.FormValue("calculateRlap"), "true")
	opts.ModelType = strings.TrimSpace(r.FormValue("modelType"))

	return opts, nil
}

func readUpload(r *http.Request, field string) (string, []byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, faults.New(faults.Validation, "missing %q file field", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, faults.Wrap(faults.Validation, err, "failed to read uploaded file")
	}
	return filepath.Base(header.Filename), data, nil
}

func newClassifyHandler(orchestrator *classify.Orchestrator) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "POST")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		opts, err := parseClassifyOptions(r)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		fileName, data, err := readUpload(r, "file")
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		result, err := orchestrator.Classify(ctx, fileName, data, opts)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "classification failed",
				slog.String("fileName", fileName), slog.Any("error", err))
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func newBatchHandler(orchestrator *classify.Orchestrator) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "POST")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		opts, err := parseClassifyOptions(r)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		// A batch arrives either as one zip archive or as repeated file
		// fields.
		var items []classify.BatchItem
		if r.MultipartForm.File["archive"] != nil {
			_, archiveData, err := readUpload(r, "archive")
			if err != nil {
				writeJSONError(w, statusForError(err), err.Error())
				return
			}
			items, err = classify.ExpandArchive(archiveData)
			if err != nil {
				writeJSONError(w, statusForError(err), err.Error())
				return
			}
		} else {
			for _, header := range r.MultipartForm.File["files"] {
				src, err := header.Open()
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "failed to read uploaded file")
					return
				}
				data, err := io.ReadAll(src)
				src.Close()
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "failed to read uploaded file")
					return
				}
				items = append(items, classify.BatchItem{
					FileName: filepath.Base(header.Filename),
					Data:     data,
				})
			}
			if len(items) == 0 {
				writeJSONError(w, http.StatusBadRequest, "no spectrum files provided")
				return
			}
		}

		summary := orchestrator.ClassifyBatch(ctx, items, opts)
		logger.InfoContext(ctx, "batch classification complete",
			slog.Int("total", summary.Total),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed),
		)
		writeJSON(w, http.StatusOK, summary)
	}
}

func newEstimateHandler(orchestrator *classify.Orchestrator) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "POST")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		opts, err := parseClassifyOptions(r)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		fileName, data, err := readUpload(r, "file")
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		estimate, err := orchestrator.EstimateRedshift(ctx, fileName, data, opts)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "redshift estimation failed",
				slog.String("fileName", fileName), slog.Any("error", err))
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, estimate)
	}
}

type templatesResponse struct {
	Count int             `json:"count"`
	Types []string        `json:"types"`
	Keys  []templates.Key `json:"keys"`
}

func newTemplatesHandler(library *templates.Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowCORS(w, "GET")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		writeJSON(w, http.StatusOK, templatesResponse{
			Count: library.Count(),
			Types: library.Types(),
			Keys:  library.Keys(),
		})
	}
}

func newModelsHandler(registry *classify.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowCORS(w, "GET")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		descriptors := registry.List()
		infos := make([]models.ModelInfo, 0, len(descriptors))
		for _, d := range descriptors {
			infos = append(infos, models.ModelInfo{
				ID:          d.ID,
				Kind:        string(d.Kind),
				Classes:     d.Classes,
				InputShapes: d.InputShapes,
			})
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

func newModelUploadHandler(registry *classify.Registry, store db.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "POST")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		id := strings.TrimSpace(r.FormValue("id"))
		if id == "" {
			writeJSONError(w, http.StatusBadRequest, "model id is required")
			return
		}

		var classes []string
		if err := json.Unmarshal([]byte(r.FormValue("classes")), &classes); err != nil || len(classes) == 0 {
			writeJSONError(w, http.StatusBadRequest, "classes must be a non-empty JSON array of labels")
			return
		}

		inputShape := []int64{1, int64(spectrum.DefaultNumBins)}
		if v := strings.TrimSpace(r.FormValue("inputShape")); v != "" {
			if err := json.Unmarshal([]byte(v), &inputShape); err != nil || len(inputShape) == 0 {
				writeJSONError(w, http.StatusBadRequest, "inputShape must be a JSON array of dimensions")
				return
			}
		}

		_, modelData, err := readUpload(r, "model")
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		modelDir := filepath.Join("tmp", "models")
		if err := utils.CreateFolder(modelDir); err != nil {
			logger.ErrorContext(ctx, "failed to create model dir", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "internal error while preparing upload")
			return
		}
		modelPath := filepath.Join(modelDir, id+".onnx")
		if err := os.WriteFile(modelPath, modelData, 0o644); err != nil {
			logger.ErrorContext(ctx, "failed to persist model file", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "internal error while storing model")
			return
		}

		descriptor, err := buildUserModel(id, modelPath, inputShape, classes, r.FormValue("outputSize"))
		if err != nil {
			os.Remove(modelPath)
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		if err := registry.Publish(descriptor); err != nil {
			descriptor.Close()
			os.Remove(modelPath)
			writeJSONError(w, statusForError(err), err.Error())
			return
		}

		if store != nil {
			record := &models.StoredModel{
				ID:        id,
				Path:      modelPath,
				Classes:   classes,
				InputDims: inputShape,
				CreatedAt: time.Now().UTC(),
			}
			if err := store.SaveModel(record); err != nil {
				logger.ErrorContext(ctx, "failed to persist model metadata", slog.Any("error", err))
				// The model stays published; it just won't survive a restart
			}
		}

		logger.InfoContext(ctx, "published user model",
			slog.String("id", id), slog.Int("classes", len(classes)))
		writeJSON(w, http.StatusCreated, models.ModelInfo{
			ID:          id,
			Kind:        string(classify.KindUser),
			Classes:     classes,
			InputShapes: [][]int64{inputShape},
		})
	}
}

// buildUserModel loads an uploaded model and validates it against its class
// mapping before it becomes visible.
func buildUserModel(id, modelPath string, inputShape []int64, classes []string, declaredOutput string) (*classify.ModelDescriptor, error) {
	backend, err := inference.NewONNXBackend(modelPath, "input", "output", len(classes))
	if err != nil {
		return nil, err
	}

	descriptor, err := classify.NewDescriptor(id, classify.KindUser, backend, [][]int64{inputShape}, classes)
	if err != nil {
		backend.Close()
		return nil, err
	}

	if v := strings.TrimSpace(declaredOutput); v != "" {
		outputSize, err := strconv.Atoi(v)
		if err != nil {
			backend.Close()
			return nil, faults.New(faults.Validation, "invalid outputSize %q", v)
		}
		if err := descriptor.ValidateOutputSize(outputSize); err != nil {
			backend.Close()
			return nil, err
		}
	}
	return descriptor, nil
}

func newHistoryHandler(store db.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "GET")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		history, err := store.ListClassifications(limit)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load classification history", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		if history == nil {
			history = []models.StoredClassification{}
		}

		writeJSON(w, http.StatusOK, history)
	}
}

type explainRequest struct {
	Result   *models.ClassificationResult `json:"result"`
	Question string                       `json:"question"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

func newExplainHandler(gemini *chat.GeminiClient) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowCORS(w, "POST")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if gemini == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "explanation service is not configured")
			return
		}

		var req explainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Result == nil {
			writeJSONError(w, http.StatusBadRequest, "request must carry a classification result")
			return
		}

		explanation, err := gemini.ExplainClassification(req.Result, req.Question)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "failed to generate explanation", slog.Any("error", err))
			writeJSONError(w, statusForError(err), "failed to generate explanation")
			return
		}

		writeJSON(w, http.StatusOK, explainResponse{Explanation: explanation})
	}
}

// loadBuiltinModel builds one of the startup models. Any failure here is
// fatal: the service must not come up with a broken built-in.
func loadBuiltinModel(id string, kind classify.ModelKind, modelPath, classesPath string, emitsProbabilities bool) (*classify.ModelDescriptor, error) {
	classesData, err := os.ReadFile(filepath.Clean(classesPath))
	if err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to read class mapping %s", classesPath)
	}
	var classes []string
	if err := json.Unmarshal(classesData, &classes); err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to parse class mapping %s", classesPath)
	}

	var backend inference.Backend
	if url := utils.GetEnv("MODEL_SERVICE_URL", ""); url != "" {
		backend = inference.NewRemoteBackend(url)
	} else {
		backend, err = inference.NewONNXBackend(modelPath, "input", "output", len(classes))
		if err != nil {
			return nil, err
		}
	}

	descriptor, err := classify.NewDescriptor(id, kind, backend,
		[][]int64{{1, int64(spectrum.DefaultNumBins)}}, classes)
	if err != nil {
		backend.Close()
		return nil, err
	}
	descriptor.EmitsProbabilities = emitsProbabilities
	return descriptor, nil
}

// restoreUserModels republishes models persisted by earlier runs. A model
// that no longer loads is skipped, not fatal.
func restoreUserModels(registry *classify.Registry, store db.Store) {
	logger := utils.GetLogger()
	ctx := context.Background()

	records, err := store.ListModels()
	if err != nil {
		logger.ErrorContext(ctx, "failed to list stored models", slog.Any("error", err))
		return
	}

	for _, record := range records {
		backend, err := inference.NewONNXBackend(record.Path, "input", "output", len(record.Classes))
		if err != nil {
			logger.WarnContext(ctx, "skipping stored model",
				slog.String("id", record.ID), slog.Any("error", err))
			continue
		}
		descriptor, err := classify.NewDescriptor(record.ID, classify.KindUser, backend,
			[][]int64{record.InputDims}, record.Classes)
		if err != nil {
			backend.Close()
			logger.WarnContext(ctx, "skipping stored model",
				slog.String("id", record.ID), slog.Any("error", err))
			continue
		}
		if err := registry.Publish(descriptor); err != nil {
			descriptor.Close()
			logger.WarnContext(ctx, "skipping stored model",
				slog.String("id", record.ID), slog.Any("error", err))
			continue
		}
		logger.InfoContext(ctx, "restored user model", slog.String("id", record.ID))
	}
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	grid := spectrum.DefaultGrid()
	processor := spectrum.NewProcessor(grid)

	corpusPath := utils.GetEnv("TEMPLATE_CORPUS_PATH", filepath.Join("data", "templates.json"))
	library, err := templates.LoadLibrary(corpusPath, grid)
	if err != nil {
		log.Fatalf("failed to load template corpus: %v", err)
	}
	log.Printf("Loaded %d templates from %s", library.Count(), corpusPath)

	dash, err := loadBuiltinModel("dash", classify.KindDash,
		utils.GetEnv("DASH_MODEL_PATH", filepath.Join("data", "dash.onnx")),
		utils.GetEnv("DASH_CLASSES_PATH", filepath.Join("data", "dash_classes.json")),
		true)
	if err != nil {
		log.Fatalf("failed to load dash model: %v", err)
	}
	transformer, err := loadBuiltinModel("transformer", classify.KindTransformer,
		utils.GetEnv("TRANSFORMER_MODEL_PATH", filepath.Join("data", "transformer.onnx")),
		utils.GetEnv("TRANSFORMER_CLASSES_PATH", filepath.Join("data", "transformer_classes.json")),
		false)
	if err != nil {
		log.Fatalf("failed to load transformer model: %v", err)
	}

	registry, err := classify.NewRegistry(dash, transformer)
	if err != nil {
		log.Fatalf("failed to build model registry: %v", err)
	}

	store, err := db.NewStore()
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	restoreUserModels(registry, store)

	matcher := templates.NewMatcher(grid)
	orchestrator := classify.NewOrchestrator(processor, library, matcher,
		classify.NewDispatcher(registry), store)

	var gemini *chat.GeminiClient
	if os.Getenv("GEMINI_API_KEY") != "" {
		gemini, err = chat.NewGeminiClient()
		if err != nil {
			log.Printf("Explanation service disabled: %v", err)
		}
	} else {
		log.Println("GEMINI_API_KEY not set, explanation endpoint disabled")
	}

	controller := newSocketController(orchestrator, library, registry)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitCorpusInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestCorpusInfo", func(socket socketio.Conn) {
		controller.handleRequestCorpusInfo(socket)
	})

	server.OnEvent("/", "newSpectrum", func(socket socketio.Conn, msg string) {
		log.Printf("newSpectrum event received from %s, data length: %d\n", socket.ID(), len(msg))
		// Run handler in goroutine to prevent blocking, with panic recovery
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleNewSpectrum for socket %s: %v\n", socket.ID(), r)
					socket.Emit("analysisError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleNewSpectrum(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := protocol == "https"

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/api/classify", newClassifyHandler(orchestrator))
	mux.HandleFunc("/api/classify/batch", newBatchHandler(orchestrator))
	mux.HandleFunc("/api/classify/explain", newExplainHandler(gemini))
	mux.HandleFunc("/api/estimate", newEstimateHandler(orchestrator))
	mux.HandleFunc("/api/templates", newTemplatesHandler(library))
	mux.HandleFunc("/api/models", newModelsHandler(registry))
	mux.HandleFunc("/api/models/upload", newModelUploadHandler(registry, store))
	mux.HandleFunc("/api/history", newHistoryHandler(store))
	mux.Handle("/", http.FileServer(http.Dir("static")))

	serveHTTP(server, serveHTTPS, port, mux)
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		cert_key := utils.GetEnv("CERT_KEY", "")
		cert_file := utils.GetEnv("CERT_FILE", "")
		if cert_key == "" || cert_file == "" {
			log.Fatal("CERT_KEY and CERT_FILE must be set to serve https")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(cert_file, cert_key); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
