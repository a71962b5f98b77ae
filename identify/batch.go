package identify

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// BatchItem 是批量识别中单张图片的结果；Err 不为空时 Result 为 nil。
type BatchItem struct {
	Index  int     `json:"index"`
	Name   string  `json:"name,omitempty"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	Err    error   `json:"-"`
}

// BatchInput 是批量识别的一张输入图片
type BatchInput struct {
	Name   string
	Reader io.Reader
}

// BytesInput 便捷构造
func BytesInput(name string, b []byte) BatchInput {
	return BatchInput{Name: name, Reader: bytes.NewReader(b)}
}

// IdentifyBatch 逐张独立识别，返回结果顺序与输入一致。
// 单张图片的失败（含 panic）只记录在它自己的 BatchItem 中，不会中断整批。
func (s *Service) IdentifyBatch(ctx context.Context, inputs []BatchInput, req Request) []BatchItem {
	items := make([]BatchItem, len(inputs))

	var g errgroup.Group
	if s.batchConcurrency > 0 {
		g.SetLimit(s.batchConcurrency)
	}
	for i, in := range inputs {
		i, in := i, in
		items[i] = BatchItem{Index: i, Name: in.Name}
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					items[i].setErr(fmt.Errorf("panic: %v", p))
				}
			}()
			if err := ctx.Err(); err != nil {
				items[i].setErr(err)
				return nil
			}
			if in.Reader == nil {
				items[i].setErr(fmt.Errorf("image %d: no data", i))
				return nil
			}
			res, err := s.IdentifyFromImage(ctx, in.Reader, req)
			if err != nil {
				items[i].setErr(err)
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	s.logger.Info("batch finished", map[string]interface{}{
		"total":  len(items),
		"failed": failed,
	})
	return items
}

func (it *BatchItem) setErr(err error) {
	it.Result = nil
	it.Err = err
	it.Error = err.Error()
}
