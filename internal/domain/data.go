package domain

import "image"

// Data is the payload of a Response. Each stage fills in its own field; the
// OCR pipeline fills several, which gives the namespaced merge of stage
// outputs. Unset fields are omitted from the serialized form.
type Data struct {
	Segmentation    *SegmentationResult `json:"segmentation,omitempty"`
	TextRecognition *RecognitionResult  `json:"textRecognition,omitempty"`
	PHIFiltering    *FilteringResult    `json:"phiFiltering,omitempty"`
	DrugInformation *ExtractionResult   `json:"drugInformation,omitempty"`
	Batch           *BatchResult        `json:"batch,omitempty"`
	Workflow        *WorkflowResult     `json:"workflow,omitempty"`
	Status          *SystemStatus       `json:"status,omitempty"`
}

// BBox is an axis-aligned box as [x, y, width, height].
type BBox [4]int

// Rect converts the box to an image rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[0]+b[2], b[1]+b[3])
}

// Mask is one segmentation mask produced by the segmentation model.
type Mask struct {
	BBox         BBox     `json:"bbox"`
	Area         float64  `json:"area"`
	PredictedIoU float64  `json:"predicted_iou"`
	Segmentation [][]bool `json:"segmentation,omitempty"`
}

// Region is a cropped area of the source image.
type Region struct {
	ID         int         `json:"id"`
	BBox       BBox        `json:"bbox"`
	Area       float64     `json:"area"`
	Confidence float64     `json:"confidence"`
	Image      image.Image `json:"-"`
}

// SegmentationResult is produced by the segmentation stage.
type SegmentationResult struct {
	NumRegions int      `json:"num_regions"`
	Regions    []Region `json:"regions,omitempty"`
	Masks      []Mask   `json:"masks,omitempty"`
}

// RegionText is the recognized text of one region.
type RegionText struct {
	RegionID   int            `json:"region_id"`
	BBox       BBox           `json:"bbox"`
	Text       string         `json:"text"`
	RawResults map[string]any `json:"raw_results,omitempty"`
}

// RecognitionResult is produced by the text recognition stage.
type RecognitionResult struct {
	Text       string         `json:"text"`
	RawResults map[string]any `json:"raw_results,omitempty"`
	Regions    []RegionText   `json:"regions,omitempty"`
	NumRegions int            `json:"num_regions,omitempty"`
}

// PHIEntity is one detected span of protected health information.
type PHIEntity struct {
	Type     string `json:"type"`
	Original string `json:"original"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// FilteringResult is produced by the PHI filtering stage.
type FilteringResult struct {
	RedactedText   string         `json:"redacted_text"`
	PHIEntities    []PHIEntity    `json:"phi_entities"`
	PHISummary     map[string]int `json:"phi_summary"`
	OriginalLength int            `json:"original_length"`
	RedactedLength int            `json:"redacted_length"`
}

// Medication is one medication mention found in free text.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	OriginalText string `json:"original_text"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
}

// Alternative is a related or substitute drug reported by a source.
type Alternative struct {
	GenericName  string   `json:"generic_name"`
	BrandNames   []string `json:"brand_names"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Indication   string   `json:"indication,omitempty"`
	Dosage       string   `json:"dosage,omitempty"`
	Forme        string   `json:"forme,omitempty"`
	UsageType    string   `json:"usage_type,omitempty"`
	Similarity   float64  `json:"similarity,omitempty"`
	Rank         int      `json:"rank,omitempty"`
	RxCUI        string   `json:"rxcui,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// DrugInfo is the combined lookup result for one medication name.
type DrugInfo struct {
	DrugName            string        `json:"drug_name"`
	Found               bool          `json:"found"`
	PrimarySource       string        `json:"primary_source,omitempty"`
	SourcesFound        []string      `json:"sources_found,omitempty"`
	SourcesChecked      []string      `json:"sources_checked,omitempty"`
	Alternatives        []Alternative `json:"alternatives"`
	TotalSourcesChecked int           `json:"total_sources_checked"`
	MatchConfidence     float64       `json:"match_confidence,omitempty"`
	MatchedName         string        `json:"matched_name,omitempty"`
	Category            string        `json:"category,omitempty"`
	UsageType           string        `json:"usage_type,omitempty"`
	TextFromLLM         string        `json:"text_from_llm,omitempty"`
	Message             string        `json:"message,omitempty"`
}

// DrugAlternatives pairs an extracted medication with its lookup result.
type DrugAlternatives struct {
	OriginalDrug Medication `json:"original_drug"`
	DrugInfo     DrugInfo   `json:"drug_info"`
}

// ExtractionResult is produced by the medication extraction stage.
type ExtractionResult struct {
	Medications         []Medication       `json:"medications"`
	DrugAlternatives    []DrugAlternatives `json:"drug_alternatives"`
	TotalMedications    int                `json:"total_medications"`
	MedicationsWithInfo int                `json:"medications_with_info"`
	Message             string             `json:"message,omitempty"`
}

// BatchItemResult is the outcome of one batch item.
type BatchItemResult struct {
	TaskID string    `json:"task_id"`
	Task   string    `json:"task"`
	Result *Response `json:"result"`
}

// BatchSummary tallies batch outcomes.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResult is the aggregate of a batch run, in input order.
type BatchResult struct {
	Results []BatchItemResult `json:"results"`
	Summary BatchSummary      `json:"summary"`
}

// WorkflowStepResult records one executed workflow step.
type WorkflowStepResult struct {
	Step   int       `json:"step"`
	Agent  string    `json:"agent"`
	Task   string    `json:"task"`
	Result *Response `json:"result"`
}

// WorkflowResult is the outcome of a workflow run.
type WorkflowResult struct {
	RunID           string               `json:"run_id,omitempty"`
	WorkflowResults []WorkflowStepResult `json:"workflow_results"`
	FinalContext    *TaskContext         `json:"final_context,omitempty"`
}

// SystemStatus reports the capabilities of the orchestrator and its sub-agents.
type SystemStatus struct {
	Orchestrator Capabilities            `json:"orchestrator"`
	SubAgents    map[string]Capabilities `json:"sub_agents"`
}
