package domain

import "context"

// Labels and priorities of the drug information sources. Lower priority
// values are consulted first and win when results are combined.
const (
	SourceLocalStore = "Essential Medications DB"
	SourceRxNorm     = "RxNorm (NIH)"
	SourceOpenFDA    = "FDA openFDA"
	SourceLLM        = "LLaMA AI"
)

// DrugSource is one backend that knows about medications.
type DrugSource interface {
	Label() string
	Priority() int
	Lookup(ctx context.Context, name string) (*SourceResult, error)
}

// SourceResult is what one source reports for a drug name.
type SourceResult struct {
	Found           bool
	Alternatives    []Alternative
	MatchConfidence float64
	MatchedName     string
	Category        string
	UsageType       string
	TextFromLLM     string
}
