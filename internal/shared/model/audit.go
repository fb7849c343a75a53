// Package model 定义核心数据模型
//
// audit.go 包含答案审计相关的数据模型定义：
//   - AuditResult：幻觉风险评估结果
//   - RiskLevel：风险等级枚举
//
// AuditResult 在答案生成后由审计器创建，除人工复核标记外不可变。
package model

import "time"

// ============================================================================
// RiskLevel - 风险等级枚举
// ============================================================================

// RiskLevel 幻觉风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// 风险分桶边界
const (
	// RiskMediumCutoff 低于此值为 low
	RiskMediumCutoff = 0.35
	// RiskHighCutoff 达到此值为 high
	RiskHighCutoff = 0.65
)

// BucketRisk 将风险分数映射为等级
func BucketRisk(score float64) RiskLevel {
	switch {
	case score >= RiskHighCutoff:
		return RiskHigh
	case score >= RiskMediumCutoff:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ============================================================================
// AuditResult - 幻觉风险评估结果
// ============================================================================

// AuditResult 答案审计结果
//
// 四个启发式维度均在 [0,1]；HallucinationRiskScore 由其加权组合取反推导。
// 审计永不阻塞答案返回，仅附加标注。
type AuditResult struct {
	AuditID                string    `json:"audit_id" bson:"_id"`
	HallucinationRiskScore float64   `json:"hallucination_risk_score" bson:"hallucination_risk_score"`
	RiskLevel              RiskLevel `json:"risk_level" bson:"risk_level"`
	FactualAccuracy        float64   `json:"factual_accuracy" bson:"factual_accuracy"`
	SourceAlignment        float64   `json:"source_alignment" bson:"source_alignment"`
	Completeness           float64   `json:"completeness" bson:"completeness"`
	Relevance              float64   `json:"relevance" bson:"relevance"`
	ComplianceFlags        []string  `json:"compliance_flags,omitempty" bson:"compliance_flags,omitempty"`
	RequiresHumanReview    bool      `json:"requires_human_review" bson:"requires_human_review"`
	Reasoning              string    `json:"reasoning" bson:"reasoning"`
	CreatedAt              time.Time `json:"created_at" bson:"created_at"`

	// HumanReviewed 人工复核标记，审计结果中唯一允许事后修改的字段
	HumanReviewed bool `json:"human_reviewed" bson:"human_reviewed"`
}

// Flagged 判断是否存在合规标记
func (a *AuditResult) Flagged() bool {
	return len(a.ComplianceFlags) > 0
}
