package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），可穿透 fmt.Errorf("%w") 包装
//
// 使用场景：
//   - Registry 错误：UNKNOWN_MODEL
//   - Embedding 错误：TRANSIENT（可重试）, PERMANENT（不可重试）
//   - Calibration 错误：INVALID_CALIBRATION
//   - Store / Vector 错误：NOT_FOUND, NOT_SUPPORTED, INVALID_INPUT
type DomainError struct {
	Code    string // 错误代码（如 "UNKNOWN_MODEL", "TRANSIENT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "registry", "embedding", "calibration"）
	Cause   error  // 原始错误（可选）
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带原始错误的领域错误
func WrapDomainError(module, code, message string, cause error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// ReID 相关错误代码
	ErrorCodeUnknownModel       = "UNKNOWN_MODEL"       // 模型未注册
	ErrorCodeTransient          = "TRANSIENT"           // 暂时失败（超时、远端不可用、排队中）
	ErrorCodePermanent          = "PERMANENT"           // 永久失败（图片损坏、远端明确拒绝）
	ErrorCodeInvalidCalibration = "INVALID_CALIBRATION" // 校准参数非法
)

// 模块名称常量
const (
	ModuleStore       = "store"       // 存储模块
	ModuleVector      = "vector"      // 向量模块
	ModuleService     = "service"     // 服务模块
	ModuleRegistry    = "registry"    // 模型注册表
	ModuleEmbedding   = "embedding"   // Embedding 生成
	ModuleCalibration = "calibration" // 置信度校准
	ModuleDetection   = "detection"   // 检测
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// NewUnknownModelError 模型标识未在注册表中。
func NewUnknownModelError(modelID string) *DomainError {
	return NewDomainError(ModuleRegistry, ErrorCodeUnknownModel, fmt.Sprintf("unknown model: %q", modelID))
}

// IsUnknownModel 检查错误是否为 UNKNOWN_MODEL
func IsUnknownModel(err error) bool {
	return hasCode(err, ErrorCodeUnknownModel)
}

// NewTransientError 暂时失败，由 Embedding Provider 自行重试；集成层只将该模型排除出本轮。
func NewTransientError(modelID, message string, cause error) *DomainError {
	return WrapDomainError(ModuleEmbedding, ErrorCodeTransient, fmt.Sprintf("model %s: %s", modelID, message), cause)
}

// IsTransient 检查错误是否为 TRANSIENT
func IsTransient(err error) bool {
	return hasCode(err, ErrorCodeTransient)
}

// NewPermanentError 永久失败，不重试。
func NewPermanentError(modelID, message string, cause error) *DomainError {
	return WrapDomainError(ModuleEmbedding, ErrorCodePermanent, fmt.Sprintf("model %s: %s", modelID, message), cause)
}

// IsPermanent 检查错误是否为 PERMANENT
func IsPermanent(err error) bool {
	return hasCode(err, ErrorCodePermanent)
}

// IsEmbeddingFailure 检查错误是否为 Embedding 失败（暂时或永久）。
func IsEmbeddingFailure(err error) bool {
	return IsTransient(err) || IsPermanent(err)
}

// NewInvalidCalibrationError 校准参数非法（温度越界、权重为负）。
func NewInvalidCalibrationError(message string) *DomainError {
	return NewDomainError(ModuleCalibration, ErrorCodeInvalidCalibration, message)
}

// IsInvalidCalibration 检查错误是否为 INVALID_CALIBRATION
func IsInvalidCalibration(err error) bool {
	return hasCode(err, ErrorCodeInvalidCalibration)
}
