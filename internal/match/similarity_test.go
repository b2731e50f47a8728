package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qasync/internal/models"
)

func TestSimilarity_Bounds(t *testing.T) {
	samples := []string{
		"",
		"login button does nothing",
		"Login button does nothing!",
		"checkout total is wrong after coupon",
		"the the the",
		"?!",
	}
	for _, a := range samples {
		for _, b := range samples {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
			assert.Equal(t, s, Similarity(b, a))
		}
	}
}

func TestSimilarity_Identity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("login button does nothing", "login button does nothing"))
	assert.Equal(t, 1.0, Similarity("Login, button.", "login button"))
	assert.Equal(t, 0.0, Similarity("", "login button"))
	assert.Equal(t, 0.0, Similarity("login button", ""))
	assert.Equal(t, 0.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("  ", "  "))
}

func TestSimilarity_IdenticalWithoutTokens(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("!!!", "!!!"))
	assert.Equal(t, 0.0, Similarity("!!!", "???"))
}

func TestSimilarity_Jaccard(t *testing.T) {
	// {a b c} vs {b c d}: 2 shared of 4
	assert.InDelta(t, 0.5, Similarity("a b c", "b c d"), 1e-9)
	// repeated tokens collapse
	assert.InDelta(t, 1.0, Similarity("a a b", "b a"), 1e-9)
}

func TestFindDuplicates_ScenarioB(t *testing.T) {
	// 7 shared tokens out of a union of 10.
	d1 := &models.Defect{ID: "d-1", Description: "Login page crashes when password field contains unicode"}
	d2 := &models.Defect{ID: "d-2", Description: "login page crashes, when password field contains emoji chars"}
	require.InDelta(t, 0.7, Similarity(d1.Description, d2.Description), 1e-9)

	pairs := FindDuplicates(map[string][]*models.Defect{"tc-1": {d2, d1}}, 0.60)
	require.Len(t, pairs, 1)
	assert.Equal(t, "tc-1", pairs[0].TestCaseID)
	assert.Equal(t, "d-1", pairs[0].DefectA)
	assert.Equal(t, "d-2", pairs[0].DefectB)
	assert.InDelta(t, 0.7, pairs[0].Similarity, 1e-9)
}

func TestFindDuplicates_ThresholdIsStrict(t *testing.T) {
	d1 := &models.Defect{ID: "d-1", Description: "a b c"}
	d2 := &models.Defect{ID: "d-2", Description: "b c d"}
	assert.Empty(t, FindDuplicates(map[string][]*models.Defect{"tc": {d1, d2}}, 0.5))
	assert.Len(t, FindDuplicates(map[string][]*models.Defect{"tc": {d1, d2}}, 0.49), 1)
}

func TestFindDuplicates_EmptyDescriptionsNeverFlagged(t *testing.T) {
	d1 := &models.Defect{ID: "d-1"}
	d2 := &models.Defect{ID: "d-2"}
	assert.Empty(t, FindDuplicates(map[string][]*models.Defect{"tc": {d1, d2}}, 0))
}

func TestFindDuplicates_OnlyWithinSameTestCase(t *testing.T) {
	d1 := &models.Defect{ID: "d-1", Description: "same words here"}
	d2 := &models.Defect{ID: "d-2", Description: "same words here"}
	pairs := FindDuplicates(map[string][]*models.Defect{"tc-1": {d1}, "tc-2": {d2}}, 0)
	assert.Empty(t, pairs)
}
