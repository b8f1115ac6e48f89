// Package engine provides error definitions for proving engine operations.
package engine

import (
	"errors"
	"fmt"
)

// ============================================================================
//                            证明引擎错误定义
// ============================================================================

var (
	// ErrEngineInitFailure 引擎初始化失败错误（约束系统或密钥反序列化、可信设置失败）
	ErrEngineInitFailure = errors.New("engine initialization failed")

	// ErrProveFailure 证明生成失败错误
	ErrProveFailure = errors.New("proof generation failed")

	// ErrInvalidWitness 无效见证错误
	ErrInvalidWitness = errors.New("invalid witness")

	// ErrInvalidProof 无效证明错误（证明或公开见证无法反序列化）
	ErrInvalidProof = errors.New("invalid proof")

	// ErrCompositionFailure 证明合并失败错误
	ErrCompositionFailure = errors.New("proof composition failed")

	// ErrIncompatibleVerifyingKeys 验证密钥不兼容错误（无法嵌入外层电路）
	ErrIncompatibleVerifyingKeys = errors.New("incompatible verifying keys")
)

// ============================================================================
//                               错误包装函数
// ============================================================================

// WrapEngineInitFailureError 包装引擎初始化失败错误
func WrapEngineInitFailureError(circuitName string, err error) error {
	return fmt.Errorf("%w: circuit=%s, cause=%v", ErrEngineInitFailure, circuitName, err)
}

// WrapProveFailureError 包装证明生成失败错误
func WrapProveFailureError(circuitName string, err error) error {
	return fmt.Errorf("%w: circuit=%s, cause=%v", ErrProveFailure, circuitName, err)
}

// WrapInvalidWitnessError 包装无效见证错误
func WrapInvalidWitnessError(circuitName, reason string) error {
	return fmt.Errorf("%w: circuit=%s, reason=%s", ErrInvalidWitness, circuitName, reason)
}

// WrapInvalidProofError 包装无效证明错误
func WrapInvalidProofError(reason string, err error) error {
	return fmt.Errorf("%w: reason=%s, cause=%v", ErrInvalidProof, reason, err)
}

// WrapCompositionFailureError 包装证明合并失败错误
func WrapCompositionFailureError(stage string, err error) error {
	return fmt.Errorf("%w: stage=%s, cause=%v", ErrCompositionFailure, stage, err)
}

// WrapIncompatibleVerifyingKeysError 包装验证密钥不兼容错误
func WrapIncompatibleVerifyingKeysError(side string, err error) error {
	return fmt.Errorf("%w: side=%s, cause=%v", ErrIncompatibleVerifyingKeys, side, err)
}
