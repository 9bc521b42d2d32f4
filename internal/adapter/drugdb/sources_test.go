package drugdb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
)

func TestRxNormClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drugs.json":
			assert.Equal(t, "amoxicillin", r.URL.Query().Get("name"))
			_, _ = io.WriteString(w, `{"drugGroup":{"conceptGroup":[
				{"tty":"SBD"},
				{"tty":"SCD","conceptProperties":[
					{"rxcui":"308182","name":"amoxicillin 250 MG Oral Capsule"},
					{"rxcui":"308191","name":"amoxicillin 500 MG Oral Capsule"}]}]}}`)
		case "/rxcui/308182/related.json":
			assert.Equal(t, "BN", r.URL.Query().Get("tty"))
			_, _ = io.WriteString(w, `{"relatedGroup":{"conceptGroup":[{"tty":"BN","conceptProperties":[
				{"name":"Amoxil"},{"name":"Moxatag"}]}]}}`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewRxNormClient(config.SourceConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	res, err := c.Lookup(context.Background(), "amoxicillin")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Len(t, res.Alternatives, 2)

	assert.Equal(t, "amoxicillin 250 MG Oral Capsule", res.Alternatives[0].GenericName)
	assert.Equal(t, []string{"Amoxil", "Moxatag"}, res.Alternatives[0].BrandNames)
	assert.Equal(t, "308182", res.Alternatives[0].RxCUI)
	assert.Equal(t, "See prescribing information", res.Alternatives[0].Indication)
	// Brand lookup failures leave an empty list.
	assert.Equal(t, []string{}, res.Alternatives[1].BrandNames)
}

func TestRxNormClient_NoConcepts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"drugGroup":{"name":"enzoflam"}}`)
	}))
	defer srv.Close()

	res, err := NewRxNormClient(config.SourceConfig{BaseURL: srv.URL}).Lookup(context.Background(), "enzoflam")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestOpenFDAClient_FallsBackToBrandName(t *testing.T) {
	var (
		mu       sync.Mutex
		searches []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("search")
		mu.Lock()
		searches = append(searches, q)
		mu.Unlock()
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		if strings.HasPrefix(q, "openfda.generic_name") {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{
			"openfda":{"generic_name":["AMOXICILLIN AND CLAVULANATE POTASSIUM"],
			           "brand_name":["AUGMENTIN","A","B","C"],
			           "manufacturer_name":["GSK"]},
			"indications_and_usage":["`+strings.Repeat("x", 300)+`"]},
			{"openfda":{}}]}`)
	}))
	defer srv.Close()

	res, err := NewOpenFDAClient(config.SourceConfig{BaseURL: srv.URL}).Lookup(context.Background(), "augmentin")
	require.NoError(t, err)
	require.True(t, res.Found)

	mu.Lock()
	assert.Equal(t, []string{`openfda.generic_name:"augmentin"`, `openfda.brand_name:"augmentin"`}, searches)
	mu.Unlock()
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, "AMOXICILLIN AND CLAVULANATE POTASSIUM", res.Alternatives[0].GenericName)
	assert.Len(t, res.Alternatives[0].BrandNames, 3)
	assert.Equal(t, "GSK", res.Alternatives[0].Manufacturer)
	assert.Len(t, res.Alternatives[0].Indication, 200)
	assert.Equal(t, "Unknown", res.Alternatives[1].GenericName)
	assert.Equal(t, "Not available", res.Alternatives[1].Indication)
}

func TestOpenFDAClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenFDAClient(config.SourceConfig{BaseURL: srv.URL}).Lookup(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func newLLMServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 250, req.MaxTokens)
		assert.Contains(t, req.Messages[0].Content, `"enzoflam"`)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
}

func newTestLLM(t *testing.T, url string) *LLMClient {
	t.Helper()
	c, err := NewLLMClient(config.LLMConfig{BaseURL: url, APIKey: "hf_test", Model: "test-model", MaxTokens: 250, Temperature: 0.3})
	require.NoError(t, err)
	return c
}

func TestLLMClient_StructuredAnswer(t *testing.T) {
	srv := newLLMServer(t, "```json\n"+`{"uses":"pain and inflammation","dosages":"50mg twice daily",
		"alternatives":[{"generic_name":"diclofenac","indication":"pain"},{"generic_name":"ibuprofen"}]}`+"\n```")
	defer srv.Close()

	res, err := newTestLLM(t, srv.URL).Lookup(context.Background(), "enzoflam")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Contains(t, res.TextFromLLM, "Uses: pain and inflammation")
	assert.Contains(t, res.TextFromLLM, "Alternatives: diclofenac, ibuprofen")
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, "diclofenac", res.Alternatives[0].GenericName)
}

func TestLLMClient_FreeTextAnswer(t *testing.T) {
	srv := newLLMServer(t, "Enzoflam is a combination analgesic.")
	defer srv.Close()

	res, err := newTestLLM(t, srv.URL).Lookup(context.Background(), "enzoflam")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "Enzoflam is a combination analgesic.", res.TextFromLLM)
	assert.Empty(t, res.Alternatives)
}

func TestLLMClient_SchemaViolationKeepsText(t *testing.T) {
	srv := newLLMServer(t, `{"dosages":"n/a"}`)
	defer srv.Close()

	res, err := newTestLLM(t, srv.URL).Lookup(context.Background(), "enzoflam")
	require.NoError(t, err)
	assert.Equal(t, `{"dosages":"n/a"}`, res.TextFromLLM)
	assert.Empty(t, res.Alternatives)
}

func TestNewLLMClient_RequiresBaseURL(t *testing.T) {
	_, err := NewLLMClient(config.LLMConfig{})
	assert.Error(t, err)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`  {"a":1}  `))
}

type fakeSource struct {
	calls  atomic.Int32
	lookup func(ctx context.Context, name string) (*domain.SourceResult, error)
}

func (f *fakeSource) Label() string { return "fake" }
func (f *fakeSource) Priority() int { return 9 }

func (f *fakeSource) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	f.calls.Add(1)
	return f.lookup(ctx, name)
}

func TestGuard_OpensCircuit(t *testing.T) {
	inner := &fakeSource{lookup: func(context.Context, string) (*domain.SourceResult, error) {
		return nil, errors.New("registry down")
	}}
	g := Guard(inner, config.CircuitBreakerConfig{Enabled: true, MaxFailures: 2, Timeout: time.Minute},
		slog.New(slog.DiscardHandler))
	assert.Equal(t, "fake", g.Label())
	assert.Equal(t, 9, g.Priority())

	for i := 0; i < 2; i++ {
		_, err := g.Lookup(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Lookup(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestGuard_TimeoutCode(t *testing.T) {
	inner := &fakeSource{lookup: func(ctx context.Context, _ string) (*domain.SourceResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := Guard(inner, config.CircuitBreakerConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Lookup(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, domain.CodeDrugSourceTimeout, domain.ErrorCodeOf(err))
}
