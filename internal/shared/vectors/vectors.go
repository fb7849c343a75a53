// Package vectors 向量相似度计算
//
// 各存储驱动与缓存层共用的余弦相似度实现。
package vectors

import "math"

// Cosine 计算两个向量的余弦相似度，截断到 [0,1]
//
// 约定：维度不一致或任一向量为零向量时返回 0。
// 负余弦（语义相反）一律截断为 0，使相似度与关键词得分处于同一量纲。
func Cosine(a, b []float32) float64 {
	return clamp01(CosineRaw(a, b))
}

// CosineRaw 返回未映射的余弦相似度 [-1,1]
//
// 缓存层的答案复用阈值（0.85）按原始余弦定义，不做区间映射。
func CosineRaw(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
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
