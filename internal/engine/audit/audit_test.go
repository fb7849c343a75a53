package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/shared/model"
)

func sourcesFrom(texts ...string) []*model.RetrievalResult {
	var out []*model.RetrievalResult
	for i, text := range texts {
		out = append(out, &model.RetrievalResult{
			Chunk: &model.Chunk{ID: string(rune('a' + i)), Text: text},
		})
	}
	return out
}

// TestScore_WellGroundedAnswer 来源充分支持的回答风险低
func TestScore_WellGroundedAnswer(t *testing.T) {
	s := NewScorer()
	sources := sourcesFrom("Refunds are available within 30 days of purchase for unused items.")

	res := s.Score(
		"When are refunds available?",
		"Refunds are available within 30 days of purchase.",
		sources,
	)

	require.NotNil(t, res)
	assert.NotEmpty(t, res.AuditID)
	assert.Less(t, res.HallucinationRiskScore, model.RiskMediumCutoff)
	assert.Equal(t, model.RiskLow, res.RiskLevel)
	assert.Empty(t, res.ComplianceFlags)
	assert.False(t, res.RequiresHumanReview)
	assert.Greater(t, res.FactualAccuracy, 0.8)
}

// TestScore_UngroundedAnswer 与来源无关的回答风险高
func TestScore_UngroundedAnswer(t *testing.T) {
	s := NewScorer()
	sources := sourcesFrom("The warehouse processes shipments on weekdays.")

	res := s.Score(
		"What colour is the sky?",
		"Elephants migrate across vast savannas every winter season.",
		sources,
	)

	assert.GreaterOrEqual(t, res.HallucinationRiskScore, model.RiskHighCutoff)
	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.True(t, res.RequiresHumanReview)
	assert.Contains(t, res.ComplianceFlags, FlagNoSourceOverlap)
}

// TestScore_UnsupportedNumericClaim 来源未出现的数字被标记
func TestScore_UnsupportedNumericClaim(t *testing.T) {
	s := NewScorer()
	sources := sourcesFrom("Refunds are available within 30 days.")

	res := s.Score(
		"What is the refund window?",
		"Refunds are available within 45 days.",
		sources,
	)

	assert.Contains(t, res.ComplianceFlags, FlagUnsupportedNumericClaim)
	assert.True(t, res.RequiresHumanReview)
}

// TestScore_SupportedNumberNotFlagged 来源中存在的数字不标记
func TestScore_SupportedNumberNotFlagged(t *testing.T) {
	s := NewScorer()
	sources := sourcesFrom("Refunds are available within 30 days.")

	res := s.Score(
		"What is the refund window?",
		"Refunds are available within 30 days.",
		sources,
	)

	assert.NotContains(t, res.ComplianceFlags, FlagUnsupportedNumericClaim)
}

// TestScore_ContradictionFlagged 与来源相反的否定句被标记
func TestScore_ContradictionFlagged(t *testing.T) {
	s := NewScorer()
	sources := sourcesFrom("Refunds are available for damaged items.")

	res := s.Score(
		"Can I get a refund for damaged items?",
		"Refunds are not available for damaged items.",
		sources,
	)

	assert.Contains(t, res.ComplianceFlags, FlagContradictsSource)
	assert.True(t, res.RequiresHumanReview)
}

// TestScore_EmptySources 无来源时风险最高档
func TestScore_EmptySources(t *testing.T) {
	s := NewScorer()

	res := s.Score("What is the refund window?", "Refunds take 30 days.", nil)

	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.True(t, res.RequiresHumanReview)
	// 无来源时不报 no_source_overlap（它描述的是"有来源但零重叠"）
	assert.NotContains(t, res.ComplianceFlags, FlagNoSourceOverlap)
}

// TestBucketBoundaries 风险分档边界
func TestBucketBoundaries(t *testing.T) {
	assert.Equal(t, model.RiskLow, model.BucketRisk(0.0))
	assert.Equal(t, model.RiskLow, model.BucketRisk(0.34))
	assert.Equal(t, model.RiskMedium, model.BucketRisk(0.35))
	assert.Equal(t, model.RiskMedium, model.BucketRisk(0.64))
	assert.Equal(t, model.RiskHigh, model.BucketRisk(0.65))
	assert.Equal(t, model.RiskHigh, model.BucketRisk(1.0))
}
