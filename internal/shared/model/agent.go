// Package model 定义核心数据模型
//
// agent.go 包含 Agent 元数据定义。
//
// AgentMetadata 由外部系统维护，本引擎只读；缺省字段在读取时补默认值。
package model

// DefaultTone 元数据缺省语气
const DefaultTone = "neutral"

// AgentMetadata Agent 元数据（只读输入）
//
// 用于检索与提示词塑形：
//   - Tone 缺省为 "neutral"
//   - DoNotAnswerFromGeneralKnowledge 为 true 时，检索无结果只能返回兜底答案，
//     不允许依赖生成模型的通用知识作答
type AgentMetadata struct {
	AgentID string `json:"agent_id" bson:"_id"`
	Name    string `json:"name" bson:"name"`
	Role    string `json:"role,omitempty" bson:"role,omitempty"`
	Tone    string `json:"tone,omitempty" bson:"tone,omitempty"`

	DoNotAnswerFromGeneralKnowledge bool `json:"do_not_answer_from_general_knowledge" bson:"do_not_answer_from_general_knowledge"`
}

// ApplyDefaults 填充缺省字段
func (m *AgentMetadata) ApplyDefaults() {
	if m.Tone == "" {
		m.Tone = DefaultTone
	}
	if m.Name == "" {
		m.Name = "assistant"
	}
}
