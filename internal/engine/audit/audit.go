// Package audit 幻觉风险审计器
//
// 把生成的回答与其检索来源做启发式比对，产出四个 [0,1] 维度分：
// 事实支持度、来源对齐度、完整度、话题相关度，并反向加权出
// 幻觉风险分。审计只做标注，从不阻塞回答交付。
package audit

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/engine/retriever"
	"knowledge-engine/internal/shared/model"
)

// 风险加权：风险 = 1 − 加权维度和
const (
	weightFactual      = 0.35
	weightAlignment    = 0.30
	weightCompleteness = 0.15
	weightRelevance    = 0.20
)

// 合规标记
const (
	FlagUnsupportedNumericClaim = "unsupported_numeric_claim"
	FlagContradictsSource       = "contradicts_source"
	FlagNoSourceOverlap         = "no_source_overlap"
)

var (
	numberPattern   = regexp.MustCompile(`\d+(?:[.,]\d+)*%?`)
	sentencePattern = regexp.MustCompile(`[.!?]+\s*`)
)

// negationWords 否定词，用于朴素的矛盾检测
var negationWords = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "cannot": {}, "won't": {}, "don't": {},
	"doesn't": {}, "isn't": {}, "aren't": {}, "wasn't": {},
}

// Scorer 幻觉风险审计器
type Scorer struct{}

// NewScorer 创建审计器
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score 审计一条回答。sources 为空视为完全无支持。
func (s *Scorer) Score(question, answer string, sources []*model.RetrievalResult) *model.AuditResult {
	sourceText := joinSources(sources)

	factual := supportScore(answer, sourceText)
	alignment := overlapScore(answer, sourceText)
	completeness := coverageScore(question, answer)
	relevance := termCosine(answer, question)

	risk := 1 - (weightFactual*factual +
		weightAlignment*alignment +
		weightCompleteness*completeness +
		weightRelevance*relevance)
	risk = clamp01(risk)

	var flags []string
	if n := unsupportedNumbers(answer, sourceText); len(n) > 0 {
		flags = append(flags, FlagUnsupportedNumericClaim)
	}
	if contradictsSource(answer, sourceText) {
		flags = append(flags, FlagContradictsSource)
	}
	if len(sources) > 0 && alignment == 0 {
		flags = append(flags, FlagNoSourceOverlap)
	}

	level := model.BucketRisk(risk)
	return &model.AuditResult{
		AuditID:                uuid.NewString(),
		HallucinationRiskScore: risk,
		RiskLevel:              level,
		FactualAccuracy:        factual,
		SourceAlignment:        alignment,
		Completeness:           completeness,
		Relevance:              relevance,
		ComplianceFlags:        flags,
		RequiresHumanReview:    level == model.RiskHigh || len(flags) > 0,
		Reasoning:              reasoning(factual, alignment, completeness, relevance, flags),
		CreatedAt:              time.Now(),
	}
}

// supportScore 回答词项被来源文本支持的比例
func supportScore(answer, sourceText string) float64 {
	terms := retriever.ExtractTerms(answer)
	if len(terms) == 0 || sourceText == "" {
		return 0
	}
	lower := strings.ToLower(sourceText)
	hit := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// overlapScore 回答与来源的词项 Jaccard 重叠度
func overlapScore(answer, sourceText string) float64 {
	a := termSet(answer)
	b := termSet(sourceText)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// coverageScore 问题词项被回答覆盖的比例
func coverageScore(question, answer string) float64 {
	terms := retriever.ExtractTerms(question)
	if len(terms) == 0 {
		return 1
	}
	lower := strings.ToLower(answer)
	hit := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// termCosine 两段文本词项集合的余弦相似度（0/1 权重）
func termCosine(a, b string) float64 {
	sa := termSet(a)
	sb := termSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	return float64(inter) / (math.Sqrt(float64(len(sa))) * math.Sqrt(float64(len(sb))))
}

// unsupportedNumbers 返回回答中来源未出现的数字
func unsupportedNumbers(answer, sourceText string) []string {
	var unsupported []string
	for _, n := range numberPattern.FindAllString(answer, -1) {
		if !strings.Contains(sourceText, n) {
			unsupported = append(unsupported, n)
		}
	}
	return unsupported
}

// contradictsSource 朴素矛盾检测：回答句与某个来源句词项高度重合，
// 但恰好一边带否定词。
func contradictsSource(answer, sourceText string) bool {
	if sourceText == "" {
		return false
	}
	for _, as := range splitSentences(answer) {
		aTerms := termSet(as)
		if len(aTerms) == 0 {
			continue
		}
		aNeg := hasNegation(as)
		for _, ss := range splitSentences(sourceText) {
			sTerms := termSet(ss)
			if len(sTerms) == 0 {
				continue
			}
			inter := 0
			for t := range aTerms {
				if _, ok := sTerms[t]; ok {
					inter++
				}
			}
			small := len(aTerms)
			if len(sTerms) < small {
				small = len(sTerms)
			}
			if float64(inter)/float64(small) >= 0.6 && aNeg != hasNegation(ss) {
				return true
			}
		}
	}
	return false
}

func hasNegation(sentence string) bool {
	for _, f := range strings.Fields(strings.ToLower(sentence)) {
		f = strings.Trim(f, ".,!?;:\"'")
		if _, ok := negationWords[f]; ok {
			return true
		}
	}
	return false
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentencePattern.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range retriever.ExtractTerms(text) {
		set[t] = struct{}{}
	}
	return set
}

func joinSources(sources []*model.RetrievalResult) string {
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(src.Chunk.Text)
	}
	return b.String()
}

func reasoning(factual, alignment, completeness, relevance float64, flags []string) string {
	msg := fmt.Sprintf("factual=%.2f alignment=%.2f completeness=%.2f relevance=%.2f",
		factual, alignment, completeness, relevance)
	if len(flags) > 0 {
		msg += "; flags: " + strings.Join(flags, ", ")
	}
	return msg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
