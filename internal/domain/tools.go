package domain

// Tool names shared by the agents that register tools and the adapters that
// implement them.
const (
	ToolSegment            = "sam2_segment"
	ToolExtractRegions     = "extract_regions"
	ToolPreprocessImage    = "preprocess_image"
	ToolPrintedOCR         = "azure_vision_ocr"
	ToolHandwritingOCR     = "trocr_recognize"
	ToolFilterPHI          = "filter_phi"
	ToolExtractMedications = "extract_medications"
	ToolQueryDrugInfo      = "query_drug_info"
)

// OCR read statuses reported by the printed-text engine.
const (
	ReadSucceeded = "succeeded"
	ReadFailed    = "failed"
)

// ReadResult is the printed-text OCR output: a terminal status plus the
// recognized lines in reading order.
type ReadResult struct {
	Status string   `json:"status"`
	Lines  []string `json:"lines"`
}

// PHIOutput is the result of the PHI filter tool.
type PHIOutput struct {
	RedactedText string      `json:"redacted_text"`
	PHI          []PHIEntity `json:"phi"`
}
