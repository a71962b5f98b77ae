package core

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"
)

// Embedding 是模型输出的定长特征向量，长度由模型决定。
// 存储与比较时统一使用 L2 归一化后的形式。
type Embedding []float64

// Normalize 返回 L2 归一化后的副本；零向量原样返回（不做除零）。
// Normalize(Normalize(v)) == Normalize(v)。
func Normalize(v []float64) Embedding {
	out := make(Embedding, len(v))
	copy(out, v)

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Norm 返回向量的 L2 范数
func (e Embedding) Norm() float64 {
	var sum float64
	for _, x := range e {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// CosineSimilarity 计算余弦相似度，长度不一致或存在零向量时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Image 是送入模型的图片：原始字节或已解码的图片二选一。
// 所有模型统一通过 Bytes() 取输入，调用方无需关心具体形态。
type Image struct {
	Raw     []byte
	Decoded image.Image
}

// ImageFromBytes 使用原始字节构造 Image
func ImageFromBytes(b []byte) Image {
	return Image{Raw: b}
}

// ImageFromDecoded 使用已解码图片构造 Image
func ImageFromDecoded(img image.Image) Image {
	return Image{Decoded: img}
}

// Empty 判断是否没有任何图片数据
func (i Image) Empty() bool {
	return len(i.Raw) == 0 && i.Decoded == nil
}

// Bytes 返回图片字节；只有解码图片时编码为 JPEG。
func (i Image) Bytes() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	if i.Decoded == nil {
		return nil, NewDomainError(ModuleEmbedding, ErrorCodeInvalidInput, "image is empty")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, i.Decoded, &jpeg.Options{Quality: 95}); err != nil {
		return nil, WrapDomainError(ModuleEmbedding, ErrorCodeInvalidInput, "encode image", err)
	}
	return buf.Bytes(), nil
}
