// Package channel exposes the agent graph over HTTP.
package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
	"github.com/chih3b/SanteConnect/internal/infra/middleware"
	"github.com/chih3b/SanteConnect/internal/usecase/multiagent"
)

// Default task strings used when a request leaves the task empty.
const (
	defaultProcessTask = "Process this prescription image"
	defaultBatchTask   = "Process multiple tasks"
)

// GraphBuilder builds a fresh agent graph. Each request gets its own.
type GraphBuilder interface {
	Build() *multiagent.Orchestrator
}

// BuilderFunc adapts a function to GraphBuilder.
type BuilderFunc func() *multiagent.Orchestrator

// Build implements GraphBuilder.
func (f BuilderFunc) Build() *multiagent.Orchestrator { return f() }

// HTTPServer serves the agent API.
type HTTPServer struct {
	cfg     config.HTTPConfig
	graphs  GraphBuilder
	logger  *slog.Logger
	server  *http.Server
	started time.Time

	// Actual bound address (set after Start)
	boundAddr string

	// Lifecycle of the rate limiter cleanup goroutine
	cancel context.CancelFunc
}

type processRequest struct {
	Task    string         `json:"task"`
	Image   string         `json:"image,omitempty"` // base64, data URL prefix allowed
	Context map[string]any `json:"context,omitempty"`
}

type batchRequest struct {
	Tasks []struct {
		ID      string         `json:"id,omitempty"`
		Task    string         `json:"task"`
		Image   string         `json:"image,omitempty"`
		Context map[string]any `json:"context,omitempty"`
	} `json:"tasks"`
}

// NewHTTPServer creates the API server.
func NewHTTPServer(cfg config.HTTPConfig, graphs GraphBuilder, log *slog.Logger) *HTTPServer {
	return &HTTPServer{
		cfg:    cfg,
		graphs: graphs,
		logger: logger.OrDiscard(log),
	}
}

// Handler returns the API routes wrapped in the middleware chain. The rate
// limiter's cleanup goroutine runs until ctx ends.
func (s *HTTPServer) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/process-image", s.handleProcessImage)
	mux.HandleFunc("POST /api/v1/agent/process", s.handleProcess)
	mux.HandleFunc("POST /api/v1/agent/batch", s.handleBatch)
	mux.HandleFunc("GET /api/v1/agent/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	limit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerMin: s.cfg.RateLimitPerMin,
		Burst:          s.cfg.RateLimitBurst,
		TrustedProxies: s.cfg.TrustedProxies,
	})
	return middleware.AccessLog(s.logger)(
		middleware.SecurityHeaders(
			limit(middleware.MaxBody(s.cfg.MaxBodyBytes)(mux)),
		),
	)
}

// Start begins serving. Non-blocking.
func (s *HTTPServer) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()
	s.started = time.Now()

	go func() {
		s.logger.Info("http server started", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address after Start.
func (s *HTTPServer) Addr() string { return s.boundAddr }

func (s *HTTPServer) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required: "+requestError(err))
		return
	}
	defer file.Close()

	img, err := imaging.Decode(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid image file")
		return
	}

	mode := r.FormValue("mode")
	if mode == "" {
		mode = domain.ModeFull
	}
	tc := domain.TaskContext{Image: img, Mode: mode}
	if tc.FilterPHI, err = formBool(r, "filter_phi"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tc.ExtractDrugs, err = formBool(r, "extract_drugs"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respond(w, r, "Process image with mode: "+mode, tc)
}

func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON: "+requestError(err))
		return
	}

	tc, err := decodeContext(req.Context, req.Image)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	task := req.Task
	if task == "" {
		task = defaultProcessTask
	}
	s.respond(w, r, task, tc)
}

func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON: "+requestError(err))
		return
	}

	items := make([]domain.BatchItem, 0, len(req.Tasks))
	for i, t := range req.Tasks {
		tc, err := decodeContext(t.Context, t.Image)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("tasks[%d]: %v", i, err))
			return
		}
		items = append(items, domain.BatchItem{ID: t.ID, Task: t.Task, Context: tc})
	}

	s.respond(w, r, defaultBatchTask, domain.TaskContext{TaskType: domain.TaskBatch, Tasks: items})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.graphs.Build().SystemStatus())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if !s.started.IsZero() {
		body["uptime_seconds"] = int(time.Since(s.started).Seconds())
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// respond runs the task on a fresh graph. Agent failures are reported in the
// body with 200; only a fault of the orchestrator itself is a 500.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, task string, tc domain.TaskContext) {
	orch := s.graphs.Build()
	resp := orch.Process(r.Context(), task, tc)

	status := http.StatusOK
	if resp.Failed() && resp.AgentName == orch.Name() && strings.HasPrefix(resp.Error, "internal error") {
		status = http.StatusInternalServerError
	}
	middleware.WriteJSON(w, status, resp)
}

var imageType = reflect.TypeOf((*image.Image)(nil)).Elem()

// base64ImageHook decodes base64 strings into images wherever the target
// field is an image.Image, including nested batch contexts.
func base64ImageHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != imageType {
		return data, nil
	}
	str, ok := data.(string)
	if !ok {
		return data, nil
	}
	return decodeImage(str)
}

// decodeContext turns a JSON request context into a TaskContext. img, when
// set, overrides context.image.
func decodeContext(raw map[string]any, img string) (domain.TaskContext, error) {
	var tc domain.TaskContext
	if img != "" {
		if raw == nil {
			raw = map[string]any{}
		}
		raw["image"] = img
	}
	if len(raw) == 0 {
		return tc, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       base64ImageHook,
		WeaklyTypedInput: true,
		Result:           &tc,
	})
	if err != nil {
		return tc, err
	}
	if err := dec.Decode(raw); err != nil {
		return tc, fmt.Errorf("invalid context: %w", err)
	}
	return tc, nil
}

func decodeImage(s string) (image.Image, error) {
	if _, rest, ok := strings.Cut(s, ";base64,"); ok {
		s = rest
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64", domain.ErrInvalidInput)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return img, nil
}

// formBool reads an optional boolean form or query value.
func formBool(r *http.Request, key string) (*bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean", key)
	}
	return &b, nil
}

func requestError(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Sprintf("request body too large (max %d bytes)", maxErr.Limit)
	}
	return err.Error()
}
