package drugdb

import (
	"context"
	"fmt"

	"github.com/chih3b/SanteConnect/internal/domain"
)

const (
	localTopK             = 5
	defaultMatchThreshold = 0.6
)

// LocalSource answers lookups from the local medication store. A lookup is
// a hit only when the best match scores above the match threshold.
type LocalSource struct {
	store     *Store
	threshold float64
}

// NewLocalSource creates the priority-1 source over store.
func NewLocalSource(store *Store, threshold float64) *LocalSource {
	if threshold <= 0 {
		threshold = defaultMatchThreshold
	}
	return &LocalSource{store: store, threshold: threshold}
}

func (s *LocalSource) Label() string { return domain.SourceLocalStore }
func (s *LocalSource) Priority() int { return 1 }

func (s *LocalSource) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	matches, err := s.store.Search(ctx, name, localTopK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 || matches[0].Score <= s.threshold {
		return &domain.SourceResult{}, nil
	}

	best := matches[0]
	alts := make([]domain.Alternative, 0, len(matches))
	for i, m := range matches {
		alts = append(alts, domain.Alternative{
			GenericName:  m.Name,
			BrandNames:   nonNil(m.BrandNames),
			Manufacturer: "Various",
			Indication:   fmt.Sprintf("%s - %s medication", orDefault(m.Class, "Unknown category"), orDefault(m.Usage, "Unknown usage")),
			Dosage:       orDefault(m.Dosage, "N/A"),
			Forme:        orDefault(m.Forme, "N/A"),
			UsageType:    orDefault(m.Usage, "UNKNOWN"),
			Similarity:   m.Score,
			Rank:         i + 1,
		})
	}
	return &domain.SourceResult{
		Found:           true,
		Alternatives:    alts,
		MatchConfidence: best.Score,
		MatchedName:     best.Name,
		Category:        orDefault(best.Class, "Unknown"),
		UsageType:       orDefault(best.Usage, "UNKNOWN"),
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ domain.DrugSource = (*LocalSource)(nil)
