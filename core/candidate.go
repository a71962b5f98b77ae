package core

import "github.com/rushteam/tigerid/pkg/utils"

// Candidate 是集成决策链路中的统一承载结构：个体、分数、各模型分数、标签。
// Labels 用于解释（哪些模型命中、是否经过几何校验）；Score 用于排序决策。
type Candidate struct {
	ID          string                 `json:"entity_id"`
	Name        string                 `json:"entity_name,omitempty"`
	Score       float64                `json:"score"`
	ModelScores map[string]float64     `json:"model_scores,omitempty"`
	Votes       int                    `json:"votes,omitempty"`
	Meta        map[string]any         `json:"meta,omitempty"`
	Labels      map[string]utils.Label `json:"labels,omitempty"`
}

func NewCandidate(id string) *Candidate {
	return &Candidate{
		ID:          id,
		ModelScores: make(map[string]float64),
		Meta:        make(map[string]any),
		Labels:      make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (c *Candidate) PutLabel(key string, lbl utils.Label) {
	if c.Labels == nil {
		c.Labels = make(map[string]utils.Label)
	}
	if old, ok := c.Labels[key]; ok {
		c.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	c.Labels[key] = lbl
}

// Clone 返回浅拷贝（map 会复制一层）
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	out := *c
	out.ModelScores = make(map[string]float64, len(c.ModelScores))
	for k, v := range c.ModelScores {
		out.ModelScores[k] = v
	}
	out.Meta = make(map[string]any, len(c.Meta))
	for k, v := range c.Meta {
		out.Meta[k] = v
	}
	out.Labels = make(map[string]utils.Label, len(c.Labels))
	for k, v := range c.Labels {
		out.Labels[k] = v
	}
	return &out
}
