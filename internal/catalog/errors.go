// Package catalog provides error definitions for circuit catalog operations.
package catalog

import (
	"errors"
	"fmt"
)

// ============================================================================
//                             电路目录错误定义
// ============================================================================

var (
	// ErrIntegrityMismatch 工件完整性校验失败错误（内容哈希与清单不符）
	ErrIntegrityMismatch = errors.New("artifact integrity mismatch")

	// ErrMalformedArtifact 工件结构损坏错误（字节码为空、模式无法解析等）
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrSchemaMismatch 输入与电路模式不匹配错误
	ErrSchemaMismatch = errors.New("input does not match circuit schema")

	// ErrAlreadyRegistered 电路重复注册错误（同名不同内容）
	ErrAlreadyRegistered = errors.New("circuit already registered with different content")

	// ErrNotRegistered 电路未注册错误
	ErrNotRegistered = errors.New("circuit not registered")

	// ErrHydrationFailed 电路实例化失败错误（终态，需重新注册后重试）
	ErrHydrationFailed = errors.New("circuit hydration failed")

	// ErrKeyNotFound 验证密钥未登记错误
	ErrKeyNotFound = errors.New("verifying key not found")
)

// ============================================================================
//                               错误包装函数
// ============================================================================

// WrapIntegrityMismatchError 包装工件完整性校验失败错误
func WrapIntegrityMismatchError(circuitName, expected, actual string) error {
	return fmt.Errorf("%w: circuit=%s, expected=%s, actual=%s", ErrIntegrityMismatch, circuitName, expected, actual)
}

// WrapMalformedArtifactError 包装工件结构损坏错误
func WrapMalformedArtifactError(circuitName, reason string) error {
	return fmt.Errorf("%w: circuit=%s, reason=%s", ErrMalformedArtifact, circuitName, reason)
}

// WrapSchemaMismatchError 包装输入模式不匹配错误
func WrapSchemaMismatchError(slotPath, reason string) error {
	return fmt.Errorf("%w: slot=%s, reason=%s", ErrSchemaMismatch, slotPath, reason)
}

// WrapAlreadyRegisteredError 包装重复注册错误
func WrapAlreadyRegisteredError(circuitName string) error {
	return fmt.Errorf("%w: circuit=%s", ErrAlreadyRegistered, circuitName)
}

// WrapNotRegisteredError 包装未注册错误
func WrapNotRegisteredError(circuitName string) error {
	return fmt.Errorf("%w: circuit=%s", ErrNotRegistered, circuitName)
}

// WrapHydrationFailedError 包装实例化失败错误
func WrapHydrationFailedError(circuitName string, err error) error {
	return fmt.Errorf("%w: circuit=%s, cause=%v", ErrHydrationFailed, circuitName, err)
}

// WrapKeyNotFoundError 包装验证密钥未登记错误
func WrapKeyNotFoundError(keyID string) error {
	return fmt.Errorf("%w: keyID=%s", ErrKeyNotFound, keyID)
}
