package core

import "context"

// EmbeddingProvider 是 Embedding 生成的领域接口（外部协作方）。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（service / model）实现
//   - 每个模型每次查询只调用一次，重试与退避由实现方负责
//   - 失败需区分 TRANSIENT 与 PERMANENT；不得伪造 Embedding
//
// 返回的向量长度等于该模型的 EmbeddingDim，不保证已归一化。
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, modelID string, img Image) (Embedding, error)
}

// BBox 是检测框 [x1, y1, x2, y2]
type BBox [4]float64

// Detection 是单个检测结果，Crop 为裁剪后的老虎区域。
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Crop       []byte  `json:"crop,omitempty"`
}

// DetectionResult 是检测协作方的输出，Detections 按置信度降序。
type DetectionResult struct {
	Detections []Detection `json:"detections"`
	Count      int         `json:"count"`
}

// Best 返回置信度最高的检测（Detections[0]）
func (r *DetectionResult) Best() (Detection, bool) {
	if r == nil || len(r.Detections) == 0 {
		return Detection{}, false
	}
	return r.Detections[0], true
}

// Detector 是检测协作方接口。
type Detector interface {
	Detect(ctx context.Context, image []byte) (*DetectionResult, error)
}
