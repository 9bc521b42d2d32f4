package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

const dosageUnit = `\d+(?:\.\d+)?\s*(?:mg|g|mcg|ml|units?|IU)`

var (
	// "Tab Augmentin 500mg": a dosage form, a capitalised name, a dose.
	formPrefixedRe = regexp.MustCompile(`(?i)(?:Tab\.?|Cap\.?|Inj\.?|Syr\.?|Tablet|Capsule)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)?)\s+(` + dosageUnit + `)`)

	// Names ending in a common pharmacological suffix followed by a dose.
	suffixRe = regexp.MustCompile(`(?i)\b([A-Z][a-z]+(?:cillin|mycin|pril|olol|ine|azole|ide|tax|done|pine|lone|sartan|statin|flam|idol|tin|zol))\s+(` + dosageUnit + `)\b`)

	vocabularyRe = regexp.MustCompile(`(?i)\b(` + strings.Join(knownDrugs, "|") + `)\b`)

	dosageRe = regexp.MustCompile(`(?i)(` + dosageUnit + `)`)
)

var knownDrugs = []string{
	"augmentin", "amoxicillin", "enzoflam", "diclofenac", "ibuprofen", "paracetamol",
	"acetaminophen", "aspirin", "metformin", "lisinopril", "atorvastatin", "omeprazole",
	"pantoprazole", "rabeprazole", "amlodipine", "losartan", "telmisartan", "azithromycin",
	"ciprofloxacin", "cetirizine", "loratadine", "montelukast", "salbutamol", "prednisone",
	"metronidazole", "fluconazole", "warfarin", "clopidogrel", "insulin", "gabapentin",
	"pregabalin", "tramadol", "alprazolam", "diazepam", "sertraline", "escitalopram",
	"fluoxetine", "quetiapine", "ranitidine", "esomeprazole", "domperidone", "bisoprolol",
	"atenolol", "furosemide", "spironolactone", "enalapril", "valsartan", "tamsulosin",
	"sildenafil", "levothyroxine", "vitamin", "calcium", "iron",
}

// Vocabulary matches closer than this to an earlier match are dropped.
const nearbyMatchWindow = 10

// dosageLookahead is how far past a vocabulary match a dose is searched for.
const dosageLookahead = 30

// ExtractMedications finds medication mentions in text. Rules run in order:
// dosage-form prefixed names, suffix-based names, then a fixed vocabulary.
// Matches are returned by position with overlapping duplicates removed.
// Offsets are byte offsets into text.
func ExtractMedications(text string) []domain.Medication {
	var meds []domain.Medication

	for _, m := range formPrefixedRe.FindAllStringSubmatchIndex(text, -1) {
		meds = append(meds, medicationAt(text, m, text[m[4]:m[5]]))
	}

	for _, m := range suffixRe.FindAllStringSubmatchIndex(text, -1) {
		if !hasStart(meds, m[0]) {
			meds = append(meds, medicationAt(text, m, text[m[4]:m[5]]))
		}
	}

	for _, m := range vocabularyRe.FindAllStringSubmatchIndex(text, -1) {
		if nearExisting(meds, m[0]) {
			continue
		}
		tail := text[m[1]:min(len(text), m[1]+dosageLookahead)]
		dosage := ""
		if d := dosageRe.FindStringSubmatch(tail); d != nil {
			dosage = d[1]
		}
		meds = append(meds, medicationAt(text, m, dosage))
	}

	sort.SliceStable(meds, func(i, j int) bool { return meds[i].Start < meds[j].Start })

	type key struct {
		name   string
		bucket int
	}
	seen := make(map[key]bool, len(meds))
	unique := make([]domain.Medication, 0, len(meds))
	for _, med := range meds {
		k := key{med.Name, med.Start / nearbyMatchWindow}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, med)
	}
	return unique
}

// medicationAt builds a medication from a match index slice whose first
// group is the name.
func medicationAt(text string, m []int, dosage string) domain.Medication {
	return domain.Medication{
		Name:         strings.ToLower(strings.TrimSpace(text[m[2]:m[3]])),
		Dosage:       strings.TrimSpace(dosage),
		OriginalText: text[m[0]:m[1]],
		Start:        m[0],
		End:          m[1],
	}
}

func hasStart(meds []domain.Medication, start int) bool {
	for _, med := range meds {
		if med.Start == start {
			return true
		}
	}
	return false
}

func nearExisting(meds []domain.Medication, start int) bool {
	for _, med := range meds {
		d := med.Start - start
		if d < 0 {
			d = -d
		}
		if d < nearbyMatchWindow {
			return true
		}
	}
	return false
}
