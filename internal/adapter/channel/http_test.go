package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/usecase/multiagent"
)

// --- fakes ---

type fakeAgent struct {
	name string
	fn   func(task string, tc domain.TaskContext) *domain.Response

	mu   sync.Mutex
	seen []domain.TaskContext
}

func (f *fakeAgent) Name() string        { return f.name }
func (f *fakeAgent) Description() string { return "fake " + f.name }

func (f *fakeAgent) Process(_ context.Context, task string, tc domain.TaskContext) *domain.Response {
	f.mu.Lock()
	f.seen = append(f.seen, tc)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(task, tc)
	}
	if tc.Image == nil {
		return domain.Fail(f.name, "No image provided")
	}
	return domain.OK(f.name, &domain.Data{TextRecognition: &domain.RecognitionResult{Text: "Rx"}}, nil, nil)
}

func (f *fakeAgent) last() domain.TaskContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[len(f.seen)-1]
}

type testAPI struct {
	ocr     *fakeAgent
	phi     *fakeAgent
	handler http.Handler
	builds  int
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		ocr: &fakeAgent{name: domain.AgentOCR},
		phi: &fakeAgent{name: domain.AgentPHIFilter, fn: func(_ string, tc domain.TaskContext) *domain.Response {
			return domain.OK(domain.AgentPHIFilter,
				&domain.Data{PHIFiltering: &domain.FilteringResult{RedactedText: "[NAME_REDACTED]"}}, nil, nil)
		}},
	}
	var mu sync.Mutex
	build := BuilderFunc(func() *multiagent.Orchestrator {
		mu.Lock()
		api.builds++
		mu.Unlock()
		o := multiagent.NewOrchestrator(multiagent.Options{}, nil)
		o.RegisterAgent(api.ocr)
		o.RegisterAgent(api.phi)
		o.AddRoutingRule("phi", domain.AgentPHIFilter, 10)
		return o
	})

	cfg := config.Defaults().HTTP
	cfg.RateLimitPerMin = 0
	cfg.MaxBodyBytes = 1 << 20

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	api.handler = NewHTTPServer(cfg, build, nil).Handler(ctx)
	return api
}

func (a *testAPI) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON (%d): %q", w.Code, w.Body.String())
	}
	return w, body
}

func postJSON(path string, v any) *http.Request {
	b, _ := json.Marshal(v)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "rx.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(file)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// --- tests ---

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", w.Code, body)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestProcessImage(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, multipartRequest(t, pngBytes(t), map[string]string{
		"mode":       "ocr_only",
		"filter_phi": "false",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if body["success"] != true || body["agent_name"] != domain.AgentOCR {
		t.Errorf("unexpected body %v", body)
	}
	tc := api.ocr.last()
	if tc.Image == nil || tc.Mode != domain.ModeOCROnly {
		t.Errorf("context not built from form: mode=%q image=%v", tc.Mode, tc.Image != nil)
	}
	if tc.FilterPHI == nil || *tc.FilterPHI {
		t.Errorf("filter_phi = %v, want false", tc.FilterPHI)
	}
	if tc.ExtractDrugs != nil {
		t.Error("extract_drugs should stay unset")
	}
}

func TestProcessImageRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		req    *http.Request
		errSub string
	}{
		{"missing file", multipartRequest(t, nil, nil), "file is required"},
		{"not an image", multipartRequest(t, []byte("hello"), nil), "Invalid image file"},
		{"bad bool", multipartRequest(t, pngBytes(t), map[string]string{"filter_phi": "maybe"}), "filter_phi must be a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := api.do(t, tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.errSub) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.errSub)
			}
		})
	}
}

func TestAgentProcess(t *testing.T) {
	api := newTestAPI(t)
	img := base64.StdEncoding.EncodeToString(pngBytes(t))

	w, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{
		"task":  "Extract medical information",
		"image": "data:image/png;base64," + img,
		"context": map[string]any{
			"extract_drugs": "false",
			"min_area":      "150",
			"language":      "fr",
		},
	}))

	if w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("status = %d body %v", w.Code, body)
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["request_id"] != nil {
		t.Error("delegated response should be returned unchanged")
	}

	tc := api.ocr.last()
	if tc.Image == nil {
		t.Error("image not decoded")
	}
	if tc.ExtractDrugs == nil || *tc.ExtractDrugs {
		t.Errorf("extract_drugs = %v", tc.ExtractDrugs)
	}
	if tc.MinArea == nil || *tc.MinArea != 150 {
		t.Errorf("min_area = %v", tc.MinArea)
	}
	if tc.Params["language"] != "fr" {
		t.Errorf("unknown keys should land in Params, got %v", tc.Params)
	}
}

func TestAgentProcessExplicitAgent(t *testing.T) {
	api := newTestAPI(t)

	_, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{
		"task":    "anything",
		"context": map[string]any{"agent": domain.AgentPHIFilter, "text": "Amira"},
	}))
	if body["agent_name"] != domain.AgentPHIFilter {
		t.Errorf("agent_name = %v", body["agent_name"])
	}
	if got := api.phi.last().Text; got != "Amira" {
		t.Errorf("text = %q", got)
	}
}

func TestAgentProcessSubAgentFailureIs200(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{"task": "scan this"}))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["success"] != false || body["error"] != "No image provided" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestAgentProcessUnavailableAgent(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{
		"task":    "x",
		"context": map[string]any{"agent": "Ghost"},
	}))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["error"] != "Agent 'Ghost' not available" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestAgentProcessOrchestratorFaultIs500(t *testing.T) {
	api := newTestAPI(t)
	api.ocr.fn = func(string, domain.TaskContext) *domain.Response { panic("boom") }

	w, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{"task": "scan"}))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if body["success"] != false {
		t.Errorf("unexpected body %v", body)
	}
}

func TestAgentProcessBadRequests(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"invalid json", httptest.NewRequest(http.MethodPost, "/api/v1/agent/process", strings.NewReader("{"))},
		{"bad base64", postJSON("/api/v1/agent/process", map[string]any{"image": "%%%"})},
		{"bad context type", postJSON("/api/v1/agent/process", map[string]any{"context": map[string]any{"min_area": "lots"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := api.do(t, tt.req)
			if w.Code != http.StatusBadRequest || body["success"] != false {
				t.Errorf("got %d %v", w.Code, body)
			}
		})
	}
}

func TestAgentProcessBodyTooLarge(t *testing.T) {
	api := newTestAPI(t)
	big := strings.Repeat("a", 2<<20)

	w, body := api.do(t, postJSON("/api/v1/agent/process", map[string]any{"task": big}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "too large") {
		t.Errorf("error = %q", msg)
	}
}

func TestBatch(t *testing.T) {
	api := newTestAPI(t)
	img := base64.StdEncoding.EncodeToString(pngBytes(t))

	w, body := api.do(t, postJSON("/api/v1/agent/batch", map[string]any{
		"tasks": []map[string]any{
			{"id": "a", "task": "scan", "image": img},
			{"id": "b", "task": "scan"},
			{"task": "check phi", "context": map[string]any{"text": "Amira"}},
		},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %v", w.Code, body)
	}
	if body["agent_name"] != domain.AgentOrchestrator || body["success"] != true {
		t.Errorf("unexpected body %v", body)
	}

	data := body["data"].(map[string]any)
	batch := data["batch"].(map[string]any)
	summary := batch["summary"].(map[string]any)
	if summary["total"] != float64(3) || summary["successful"] != float64(2) || summary["failed"] != float64(1) {
		t.Errorf("summary = %v", summary)
	}
	results := batch["results"].([]any)
	ids := []string{}
	for _, r := range results {
		ids = append(ids, r.(map[string]any)["task_id"].(string))
	}
	if strings.Join(ids, ",") != "a,b,2" {
		t.Errorf("task ids = %v", ids)
	}
	meta := body["metadata"].(map[string]any)
	if meta["batch_size"] != float64(3) || meta["request_id"] == nil {
		t.Errorf("metadata = %v", meta)
	}
}

func TestBatchEmpty(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, postJSON("/api/v1/agent/batch", map[string]any{"tasks": []any{}}))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if body["error"] != "No tasks provided for batch processing" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStatus(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/agent/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	orch := body["orchestrator"].(map[string]any)
	if orch["name"] != domain.AgentOrchestrator {
		t.Errorf("orchestrator = %v", orch)
	}
	subs := body["sub_agents"].(map[string]any)
	if len(subs) != 2 {
		t.Errorf("expected 2 sub-agents, got %v", subs)
	}
}

func TestFreshGraphPerRequest(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/agent/status", nil))
	}
	if api.builds != 3 {
		t.Errorf("builds = %d, want 3", api.builds)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agent/process", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := config.Defaults().HTTP
	cfg.Addr = "127.0.0.1:0"
	srv := NewHTTPServer(cfg, BuilderFunc(func() *multiagent.Orchestrator {
		return multiagent.NewOrchestrator(multiagent.Options{}, nil)
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(ctx)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
