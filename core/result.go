package core

// Decision 是集成决策的状态机：
// PENDING → CONSULTING → {ACCEPTED | REJECTED | NEEDS_REVIEW}。
// ACCEPTED、REJECTED、NEEDS_REVIEW 为终态，不跨调用重试。
type Decision string

const (
	DecisionPending     Decision = "PENDING"
	DecisionConsulting  Decision = "CONSULTING"
	DecisionAccepted    Decision = "ACCEPTED"
	DecisionRejected    Decision = "REJECTED"
	DecisionNeedsReview Decision = "NEEDS_REVIEW"
)

// Terminal 判断是否为终态
func (d Decision) Terminal() bool {
	switch d {
	case DecisionAccepted, DecisionRejected, DecisionNeedsReview:
		return true
	default:
		return false
	}
}

// 面向用户的结果消息
const (
	MessageIdentified     = "Tiger identified"
	MessageNoDetection    = "No tiger detected in image"
	MessageNewIndividual  = "Tiger not found - new individual, requires verification"
	MessageLowConfidence  = "Low confidence match - requires verification"
	MessageModelsDisagree = "Models disagree - requires human review"
	MessageNoModelResult  = "No model produced a usable result"
)

// EnsembleResult 是集成决策的最终输出。
type EnsembleResult struct {
	Identified bool         `json:"identified"`
	EntityID   string       `json:"entity_id,omitempty"`
	EntityName string       `json:"entity_name,omitempty"`
	Confidence float64      `json:"confidence"`
	Candidates []*Candidate `json:"candidates,omitempty"`

	Strategy string   `json:"strategy"`
	Decision Decision `json:"decision"`
	Message  string   `json:"message,omitempty"`

	// 诊断信息
	ModelsConsulted      []string          `json:"models_consulted"`
	ModelErrors          map[string]string `json:"model_errors,omitempty"`
	Consensus            bool              `json:"consensus,omitempty"`
	VoteCount            int               `json:"vote_count,omitempty"`
	TotalModels          int               `json:"total_models,omitempty"`
	Disagreement         bool              `json:"disagreement,omitempty"`
	RequiresVerification bool              `json:"requires_verification"`
	Stage                int               `json:"stage,omitempty"`
}

// NewEnsembleResult 创建处于 CONSULTING 状态的结果
func NewEnsembleResult(strategy string) *EnsembleResult {
	return &EnsembleResult{
		Strategy:        strategy,
		Decision:        DecisionConsulting,
		ModelsConsulted: []string{},
	}
}

// RecordError 记录单个模型的失败
func (r *EnsembleResult) RecordError(modelID string, err error) {
	if err == nil {
		return
	}
	if r.ModelErrors == nil {
		r.ModelErrors = make(map[string]string)
	}
	r.ModelErrors[modelID] = err.Error()
}

// TopCandidate 返回排名第一的候选
func (r *EnsembleResult) TopCandidate() *Candidate {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0]
}
