package identify

import (
	"context"

	"github.com/rushteam/tigerid/core"
)

// WholeImage 把整张图当作唯一的检测结果，用于已经裁剪好的图片。
type WholeImage struct{}

func (WholeImage) Detect(_ context.Context, image []byte) (*core.DetectionResult, error) {
	if len(image) == 0 {
		return &core.DetectionResult{}, nil
	}
	return &core.DetectionResult{
		Detections: []core.Detection{{Confidence: 1, Crop: image}},
		Count:      1,
	}, nil
}

var _ core.Detector = WholeImage{}
