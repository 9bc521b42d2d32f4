package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logger       LoggerConfig        `yaml:"logger"`
	Tracer       TracerConfig        `yaml:"tracer"`
	HTTP         HTTPConfig          `yaml:"http"`
	Pipeline     PipelineConfig      `yaml:"pipeline"`
	Segmentation SegmentationConfig  `yaml:"segmentation"`
	AzureOCR     AzureOCRConfig      `yaml:"azure_ocr"`
	Handwriting  HandwritingConfig   `yaml:"handwriting"`
	PHI          PHIConfig           `yaml:"phi"`
	Drugs        DrugsConfig         `yaml:"drugs"`
	Tools        ToolsConfig         `yaml:"tools"`
	Routing      []RoutingRuleConfig `yaml:"routing,omitempty"`
	WorkflowsDir string              `yaml:"workflows_dir,omitempty"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	TrustedProxies  []string      `yaml:"trusted_proxies,omitempty"`
}

// PipelineConfig holds the defaults applied when a request leaves a field unset.
type PipelineConfig struct {
	Mode             string  `yaml:"mode"`
	FilterPHI        bool    `yaml:"filter_phi"`
	ExtractDrugs     bool    `yaml:"extract_drugs"`
	MinArea          float64 `yaml:"min_area"`
	Method           string  `yaml:"method"`
	BatchConcurrency int     `yaml:"batch_concurrency"` // 1 = sequential
}

// SegmentationConfig points at the hosted segmentation model.
type SegmentationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// AzureOCRConfig holds Azure Read API settings.
type AzureOCRConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HandwritingConfig points at the hosted handwriting recognition model.
type HandwritingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// PHIConfig holds PHI detection settings. The regex catalogue is always on;
// NER adds person/organisation/location detection from a hosted model.
type PHIConfig struct {
	NEREnabled  bool   `yaml:"ner_enabled"`
	NEREndpoint string `yaml:"ner_endpoint"`
	NERAPIKey   string `yaml:"ner_api_key,omitempty"`
}

// DrugsConfig holds medication lookup settings.
type DrugsConfig struct {
	StorePath       string       `yaml:"store_path"`
	MatchThreshold  float64      `yaml:"match_threshold"`
	HighConfidence  float64      `yaml:"high_confidence"`
	MaxAlternatives int          `yaml:"max_alternatives"`
	RxNorm          SourceConfig `yaml:"rxnorm"`
	OpenFDA         SourceConfig `yaml:"openfda"`
	LLM             LLMConfig    `yaml:"llm"`
}

// SourceConfig configures one external drug registry.
type SourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures the generative fallback (OpenAI-compatible chat API).
type LLMConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ToolsConfig holds the adapter-boundary limits applied to external tools.
type ToolsConfig struct {
	Timeout         time.Duration        `yaml:"timeout"`
	RateLimitPerSec float64              `yaml:"rate_limit_per_sec"` // 0 disables
	RateLimitBurst  int                  `yaml:"rate_limit_burst"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for external collaborators.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RoutingRuleConfig adds one orchestrator routing rule.
type RoutingRuleConfig struct {
	Pattern  string `yaml:"pattern"`
	Agent    string `yaml:"agent"`
	Priority int    `yaml:"priority"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.santeconnect/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".santeconnect", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Exporter: "noop"},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			MaxBodyBytes:    10 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			RateLimitPerMin: 100,
			RateLimitBurst:  20,
		},
		Pipeline: PipelineConfig{
			Mode:             "full",
			FilterPHI:        true,
			ExtractDrugs:     true,
			MinArea:          100,
			Method:           "auto",
			BatchConcurrency: 1,
		},
		AzureOCR: AzureOCRConfig{
			PollAttempts: 10,
			PollInterval: time.Second,
		},
		Drugs: DrugsConfig{
			StorePath:       filepath.Join(defaultDataDir(), "medications.db"),
			MatchThreshold:  0.6,
			HighConfidence:  0.85,
			MaxAlternatives: 15,
			RxNorm: SourceConfig{
				Enabled: true,
				BaseURL: "https://rxnav.nlm.nih.gov/REST",
				Timeout: 10 * time.Second,
			},
			OpenFDA: SourceConfig{
				Enabled: true,
				BaseURL: "https://api.fda.gov",
				Timeout: 10 * time.Second,
			},
			LLM: LLMConfig{
				BaseURL:     "https://router.huggingface.co/v1",
				Model:       "meta-llama/Llama-3.1-70B-Instruct",
				MaxTokens:   250,
				Temperature: 0.3,
				Timeout:     30 * time.Second,
			},
		},
		Tools: ToolsConfig{
			Timeout:        60 * time.Second,
			RateLimitBurst: 1,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
	}
}

// Load reads a YAML config file, applies env overrides and validates the result.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validatePermissions(path); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SANTE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SANTE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SANTE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SANTE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SANTE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SANTE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SANTE_PIPELINE_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.BatchConcurrency = n
		}
	}
	if v := os.Getenv("SANTE_SEGMENTATION_ENDPOINT"); v != "" {
		cfg.Segmentation.Enabled = true
		cfg.Segmentation.Endpoint = v
	}
	if v := os.Getenv("SANTE_AZURE_OCR_ENDPOINT"); v != "" {
		cfg.AzureOCR.Endpoint = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("SANTE_AZURE_OCR_KEY"); v != "" {
		cfg.AzureOCR.APIKey = v
	}
	if cfg.AzureOCR.Endpoint != "" && cfg.AzureOCR.APIKey != "" {
		cfg.AzureOCR.Enabled = true
	}
	if v := os.Getenv("SANTE_HANDWRITING_ENDPOINT"); v != "" {
		cfg.Handwriting.Enabled = true
		cfg.Handwriting.Endpoint = v
	}
	if v := os.Getenv("SANTE_HF_TOKEN"); v != "" {
		// One token serves every hosted model on the inference router.
		cfg.Handwriting.APIKey = v
		cfg.PHI.NERAPIKey = v
		cfg.Drugs.LLM.APIKey = v
		cfg.Drugs.LLM.Enabled = true
	}
	if v := os.Getenv("SANTE_PHI_NER_ENDPOINT"); v != "" {
		cfg.PHI.NEREnabled = true
		cfg.PHI.NEREndpoint = v
	}
	if v := os.Getenv("SANTE_DRUGS_STORE_PATH"); v != "" {
		cfg.Drugs.StorePath = v
	}
	if v := os.Getenv("SANTE_LLM_BASE_URL"); v != "" {
		cfg.Drugs.LLM.BaseURL = v
	}
	if v := os.Getenv("SANTE_LLM_MODEL"); v != "" {
		cfg.Drugs.LLM.Model = v
	}
	if v := os.Getenv("SANTE_TOOLS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.Timeout = d
		}
	}
	if v := os.Getenv("SANTE_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
