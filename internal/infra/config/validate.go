package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateHTTP(cfg, ve)
	validatePipeline(cfg, ve)
	validateCollaborators(cfg, ve)
	validateDrugs(cfg, ve)
	validateTools(cfg, ve)
	validateRouting(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
}

func validateHTTP(cfg *Config, ve *ValidationError) {
	if cfg.HTTP.Addr == "" {
		ve.Add("http.addr must not be empty")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		ve.Add("http.max_body_bytes must be > 0")
	}
	if cfg.HTTP.RateLimitPerMin < 0 || cfg.HTTP.RateLimitBurst < 0 {
		ve.Add("http rate limits must be >= 0")
	}
}

func validatePipeline(cfg *Config, ve *ValidationError) {
	switch cfg.Pipeline.Mode {
	case "full", "ocr_only", "segment_only":
	default:
		ve.Add("pipeline.mode must be full, ocr_only or segment_only, got %q", cfg.Pipeline.Mode)
	}
	switch cfg.Pipeline.Method {
	case "auto", "azure", "trocr":
	default:
		ve.Add("pipeline.method must be auto, azure or trocr, got %q", cfg.Pipeline.Method)
	}
	if cfg.Pipeline.MinArea < 0 {
		ve.Add("pipeline.min_area must be >= 0")
	}
	if cfg.Pipeline.BatchConcurrency < 1 {
		ve.Add("pipeline.batch_concurrency must be >= 1")
	}
}

func validateCollaborators(cfg *Config, ve *ValidationError) {
	if cfg.Segmentation.Enabled && cfg.Segmentation.Endpoint == "" {
		ve.Add("segmentation.endpoint is required when segmentation is enabled")
	}
	if cfg.AzureOCR.Enabled {
		if cfg.AzureOCR.Endpoint == "" || cfg.AzureOCR.APIKey == "" {
			ve.Add("azure_ocr.endpoint and azure_ocr.api_key are required when azure_ocr is enabled")
		}
		if cfg.AzureOCR.PollAttempts <= 0 {
			ve.Add("azure_ocr.poll_attempts must be > 0")
		}
	}
	if cfg.Handwriting.Enabled && cfg.Handwriting.Endpoint == "" {
		ve.Add("handwriting.endpoint is required when handwriting is enabled")
	}
	if cfg.PHI.NEREnabled && cfg.PHI.NEREndpoint == "" {
		ve.Add("phi.ner_endpoint is required when phi.ner_enabled is set")
	}
}

func validateDrugs(cfg *Config, ve *ValidationError) {
	d := cfg.Drugs
	if d.MatchThreshold <= 0 || d.MatchThreshold > 1 {
		ve.Add("drugs.match_threshold must be in (0, 1]")
	}
	if d.HighConfidence < d.MatchThreshold || d.HighConfidence > 1 {
		ve.Add("drugs.high_confidence must be in [match_threshold, 1]")
	}
	if d.MaxAlternatives <= 0 {
		ve.Add("drugs.max_alternatives must be > 0")
	}
	if d.RxNorm.Enabled && d.RxNorm.BaseURL == "" {
		ve.Add("drugs.rxnorm.base_url is required when rxnorm is enabled")
	}
	if d.OpenFDA.Enabled && d.OpenFDA.BaseURL == "" {
		ve.Add("drugs.openfda.base_url is required when openfda is enabled")
	}
	if d.LLM.Enabled && (d.LLM.BaseURL == "" || d.LLM.Model == "") {
		ve.Add("drugs.llm.base_url and drugs.llm.model are required when llm is enabled")
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.Timeout <= 0 {
		ve.Add("tools.timeout must be > 0")
	}
	if cfg.Tools.RateLimitPerSec < 0 {
		ve.Add("tools.rate_limit_per_sec must be >= 0")
	}
	if cfg.Tools.RateLimitPerSec > 0 && cfg.Tools.RateLimitBurst < 1 {
		ve.Add("tools.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	cb := cfg.Tools.CircuitBreaker
	if cb.Enabled && cb.MaxFailures == 0 {
		ve.Add("tools.circuit_breaker.max_failures must be > 0")
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	for i, r := range cfg.Routing {
		if r.Pattern == "" || r.Agent == "" {
			ve.Add("routing[%d]: pattern and agent must not be empty", i)
		}
	}
}
