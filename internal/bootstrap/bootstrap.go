// Package bootstrap builds the agent graph from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/chih3b/SanteConnect/internal/adapter/drugdb"
	"github.com/chih3b/SanteConnect/internal/adapter/tool"
	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
	"github.com/chih3b/SanteConnect/internal/usecase"
	"github.com/chih3b/SanteConnect/internal/usecase/multiagent"
	"github.com/chih3b/SanteConnect/internal/usecase/workflow"
)

// DefaultWorkflow is the catalog name of the built-in OCR workflow.
const DefaultWorkflow = "ocr"

// DefaultRoutingRules are installed when the configuration declares none.
var DefaultRoutingRules = []config.RoutingRuleConfig{
	{Pattern: "prescription", Agent: domain.AgentOCR, Priority: 10},
	{Pattern: "medical", Agent: domain.AgentOCR, Priority: 10},
	{Pattern: "document", Agent: domain.AgentOCR, Priority: 5},
	{Pattern: "segment", Agent: domain.AgentSegmentation, Priority: 10},
	{Pattern: "recognize", Agent: domain.AgentTextRecognition, Priority: 8},
	{Pattern: "phi", Agent: domain.AgentPHIFilter, Priority: 10},
	{Pattern: "hipaa", Agent: domain.AgentPHIFilter, Priority: 10},
	{Pattern: "drug", Agent: domain.AgentDrugInformation, Priority: 10},
	{Pattern: "medication", Agent: domain.AgentDrugInformation, Priority: 10},
	{Pattern: "alternative", Agent: domain.AgentDrugInformation, Priority: 8},
}

// Factory owns the process-wide collaborators (tools, drug sources, the
// medication store and the workflow catalog) and builds agent graphs on top
// of them. Agent graphs are cheap; build one per request or batch worker.
type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	tools    *tool.Registry
	store    *drugdb.Store
	sources  []domain.DrugSource
	fallback domain.DrugSource
	catalog  *workflow.Catalog
}

// New builds the shared collaborators described by cfg.
func New(cfg *config.Config, log *slog.Logger) (*Factory, error) {
	log = logger.OrDiscard(log)
	f := &Factory{cfg: cfg, logger: log, tools: tool.NewRegistry()}

	if err := f.initTools(); err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}
	if err := f.initDrugSources(); err != nil {
		f.Close()
		return nil, fmt.Errorf("init drug sources: %w", err)
	}
	if err := f.initWorkflows(); err != nil {
		f.Close()
		return nil, fmt.Errorf("init workflows: %w", err)
	}
	return f, nil
}

func (f *Factory) initTools() error {
	tc := f.cfg.Tools
	client := tool.NewHTTPClient(tc.Timeout)

	var limiter *rate.Limiter
	if tc.RateLimitPerSec > 0 {
		burst := tc.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(tc.RateLimitPerSec), burst)
	}
	var breaker *tool.BreakerConfig
	if tc.CircuitBreaker.Enabled {
		breaker = &tool.BreakerConfig{
			MaxFailures: tc.CircuitBreaker.MaxFailures,
			Timeout:     tc.CircuitBreaker.Timeout,
			Interval:    tc.CircuitBreaker.Interval,
		}
	}
	remote := tool.Standard(tc.Timeout, limiter, breaker, f.logger)

	tools := []domain.Tool{
		tool.Wrap(tool.NewExtractRegionsTool(), tool.Traced()),
		tool.Wrap(tool.NewPreprocessTool(), tool.Traced()),
		tool.Wrap(tool.NewPHIFilterTool(tool.NERConfig{
			Enabled:  f.cfg.PHI.NEREnabled,
			Endpoint: f.cfg.PHI.NEREndpoint,
			APIKey:   f.cfg.PHI.NERAPIKey,
			Client:   client,
		}, f.logger), tool.Traced(), tool.WithTimeout(tc.Timeout)),
	}
	if f.cfg.Segmentation.Enabled {
		tools = append(tools, tool.Wrap(tool.NewSegmentTool(tool.SegmentConfig{
			Endpoint: f.cfg.Segmentation.Endpoint,
			APIKey:   f.cfg.Segmentation.APIKey,
			Client:   client,
		}), remote...))
	}
	if f.cfg.AzureOCR.Enabled {
		tools = append(tools, tool.Wrap(tool.NewAzureReadTool(tool.AzureReadConfig{
			Endpoint:     f.cfg.AzureOCR.Endpoint,
			APIKey:       f.cfg.AzureOCR.APIKey,
			PollAttempts: f.cfg.AzureOCR.PollAttempts,
			PollInterval: f.cfg.AzureOCR.PollInterval,
			Client:       client,
		}), remote...))
	}
	if f.cfg.Handwriting.Enabled {
		tools = append(tools, tool.Wrap(tool.NewHandwritingTool(tool.HandwritingConfig{
			Endpoint: f.cfg.Handwriting.Endpoint,
			APIKey:   f.cfg.Handwriting.APIKey,
			Client:   client,
		}), remote...))
	}

	for _, t := range tools {
		if err := f.tools.Register(t); err != nil {
			return err
		}
	}
	f.logger.Info("tools registered", "count", len(tools))
	return nil
}

func (f *Factory) initDrugSources() error {
	dc := f.cfg.Drugs
	cb := f.cfg.Tools.CircuitBreaker

	if dc.StorePath != "" {
		store, err := drugdb.OpenStore(dc.StorePath)
		if err != nil {
			return err
		}
		f.store = store
		f.sources = append(f.sources, drugdb.Guard(drugdb.NewLocalSource(store, dc.MatchThreshold), config.CircuitBreakerConfig{}, f.logger))
		if n, err := store.Count(context.Background()); err == nil && n == 0 {
			f.logger.Warn("medication store is empty, run seed-db to populate it", "path", dc.StorePath)
		}
	}
	if dc.RxNorm.Enabled {
		f.sources = append(f.sources, drugdb.Guard(drugdb.NewRxNormClient(dc.RxNorm), cb, f.logger))
	}
	if dc.OpenFDA.Enabled {
		f.sources = append(f.sources, drugdb.Guard(drugdb.NewOpenFDAClient(dc.OpenFDA), cb, f.logger))
	}
	if dc.LLM.Enabled {
		llm, err := drugdb.NewLLMClient(dc.LLM)
		if err != nil {
			return err
		}
		f.fallback = drugdb.Guard(llm, cb, f.logger)
	}

	f.logger.Info("drug sources configured", "sources", len(f.sources), "fallback", f.fallback != nil)
	return nil
}

func (f *Factory) initWorkflows() error {
	catalog, err := workflow.NewCatalog(f.cfg.WorkflowsDir, f.logger)
	if err != nil {
		return err
	}
	if err := catalog.Load(); err != nil {
		return err
	}
	if _, err := catalog.Get(DefaultWorkflow); errors.Is(err, domain.ErrWorkflowNotFound) {
		if err := catalog.Add(workflow.Definition{
			Name:        DefaultWorkflow,
			Description: "Segment, recognize, redact and extract medications",
			Steps:       workflow.DefaultSteps(),
		}); err != nil {
			return err
		}
	}
	f.catalog = catalog
	return nil
}

// Build returns a fresh orchestrator with the full agent graph registered.
func (f *Factory) Build() *multiagent.Orchestrator {
	pc := f.cfg.Pipeline

	segmentation := usecase.NewSegmentationAgent(pc.MinArea, f.logger)
	recognition := usecase.NewTextRecognitionAgent(pc.Method, f.logger)
	phi := usecase.NewPHIFilterAgent(f.logger)
	drugs := usecase.NewDrugInformationAgent(usecase.DrugLookupOptions{
		Sources:         f.sources,
		Fallback:        f.fallback,
		HighConfidence:  f.cfg.Drugs.HighConfidence,
		MaxAlternatives: f.cfg.Drugs.MaxAlternatives,
	}, f.logger)

	f.register(segmentation.Base, domain.ToolSegment, domain.ToolExtractRegions, domain.ToolPreprocessImage)
	f.register(recognition.Base, domain.ToolPrintedOCR, domain.ToolHandwritingOCR, domain.ToolPreprocessImage)
	f.register(phi.Base, domain.ToolFilterPHI)

	ocr := usecase.NewOCRAgent(usecase.OCROptions{
		Mode:         pc.Mode,
		FilterPHI:    pc.FilterPHI,
		ExtractDrugs: pc.ExtractDrugs,
	}, f.logger)
	leaves := []domain.Agent{segmentation, recognition, phi, drugs}
	for _, a := range leaves {
		ocr.RegisterAgent(a)
	}

	orch := multiagent.NewOrchestrator(multiagent.Options{
		BatchConcurrency: pc.BatchConcurrency,
		NewWorker:        f.Build,
		Workflows:        f.catalog,
	}, f.logger)
	orch.RegisterAgent(ocr)
	for _, a := range leaves {
		orch.RegisterAgent(a)
	}

	rules := f.cfg.Routing
	if len(rules) == 0 {
		rules = DefaultRoutingRules
	}
	for _, r := range rules {
		orch.AddRoutingRule(r.Pattern, r.Agent, r.Priority)
	}
	return orch
}

// register attaches the named tools that exist in the registry. Optional
// collaborators that are not configured are simply absent.
func (f *Factory) register(b *usecase.Base, names ...string) {
	for _, name := range names {
		if t, err := f.tools.Get(name); err == nil {
			b.RegisterTool(t)
		}
	}
}

// Tools returns the shared tool registry.
func (f *Factory) Tools() *tool.Registry { return f.tools }

// Store returns the medication store, or nil when none is configured.
func (f *Factory) Store() *drugdb.Store { return f.store }

// Workflows returns the workflow catalog.
func (f *Factory) Workflows() *workflow.Catalog { return f.catalog }

// Close releases the medication store.
func (f *Factory) Close() error {
	if f.store == nil {
		return nil
	}
	err := f.store.Close()
	f.store = nil
	return err
}
