package match

import (
	"sort"
	"strings"

	"github.com/joescharf/qasync/internal/ident"
	"github.com/joescharf/qasync/internal/models"
)

// DefaultDuplicateThreshold is the similarity above which two defects on the
// same test case are flagged as possible duplicates.
const DefaultDuplicateThreshold = 0.60

// Similarity returns the Jaccard coefficient of the token sets of a and b,
// in [0, 1]. Blank input scores 0. Identical non-blank text scores 1 even
// when it has no tokens, such as punctuation only.
func Similarity(a, b string) float64 {
	if a == b && strings.TrimSpace(a) != "" {
		return 1
	}
	return jaccard(ident.Tokens(a), ident.Tokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// DuplicatePair is an advisory flag: two defects linked to the same test
// case whose descriptions look alike.
type DuplicatePair struct {
	TestCaseID string  `json:"test_case_id"`
	DefectA    string  `json:"defect_a"`
	DefectB    string  `json:"defect_b"`
	Similarity float64 `json:"similarity"`
}

// FindDuplicates scans the defects grouped by test case and returns pairs
// with similarity strictly above threshold. A non-positive threshold uses
// DefaultDuplicateThreshold. Nothing is merged or removed.
func FindDuplicates(byTestCase map[string][]*models.Defect, threshold float64) []DuplicatePair {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	results := make([]DuplicatePair, 0)

	for tcID, defects := range byTestCase {
		tokens := make([]map[string]struct{}, len(defects))
		for i, d := range defects {
			tokens[i] = ident.Tokens(d.Description)
		}
		for i := 0; i < len(defects); i++ {
			if len(tokens[i]) == 0 {
				continue
			}
			for j := i + 1; j < len(defects); j++ {
				if defects[i].ID == defects[j].ID {
					continue
				}
				sim := jaccard(tokens[i], tokens[j])
				if sim <= threshold {
					continue
				}
				a, b := defects[i].ID, defects[j].ID
				if b < a {
					a, b = b, a
				}
				results = append(results, DuplicatePair{
					TestCaseID: tcID,
					DefectA:    a,
					DefectB:    b,
					Similarity: sim,
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].TestCaseID != results[j].TestCaseID {
			return results[i].TestCaseID < results[j].TestCaseID
		}
		return results[i].DefectA < results[j].DefectA
	})
	return results
}
