// Package aggregate 提供证明合并（组合）服务
//
// 🎯 **专门职责**：
// 把两个已验证的Groth16证明递归合并为单一证明。支持两种入口：
// 按电路名称从目录解析验证密钥与约束系统（MergeByName），或由
// 调用方提供自包含操作数（MergeByDescriptor，合并证明的再合并
// 走此入口）。合并产物的派生验证密钥登记进目录，使其可独立
// 验证并参与更深层的合并。
package aggregate

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/weisyn/zkcircuits/internal/catalog"
	"github.com/weisyn/zkcircuits/internal/engine"
	"github.com/weisyn/zkcircuits/pkg/log"
)

// Aggregator 证明合并服务
type Aggregator struct {
	catalog *catalog.Catalog
	engine  engine.Engine
	logger  log.Logger
}

// NewAggregator 创建证明合并服务
func NewAggregator(logger log.Logger, cat *catalog.Catalog, eng engine.Engine) *Aggregator {
	return &Aggregator{
		catalog: cat,
		engine:  eng,
		logger:  logger,
	}
}

// MergeByName 按电路名称合并两个证明
//
// 左右电路通过目录实例化解析出验证密钥和约束系统，证明本身由
// 调用方提供。顺序敏感：交换左右产生不同的派生验证密钥。
func (a *Aggregator) MergeByName(ctx context.Context, leftName string, leftProof *engine.Proof, rightName string, rightProof *engine.Proof) (*engine.MergedProof, error) {
	left, err := a.operandByName(ctx, leftName, leftProof)
	if err != nil {
		return nil, err
	}
	right, err := a.operandByName(ctx, rightName, rightProof)
	if err != nil {
		return nil, err
	}
	return a.MergeByDescriptor(ctx, left, right)
}

// MergeByDescriptor 合并两个自包含操作数
//
// 操作数自带证明、公开见证、验证密钥和约束系统，不查目录条目。
// 合并证明经AsOperand()转换后可作为本方法的输入，构成证明树。
func (a *Aggregator) MergeByDescriptor(ctx context.Context, left, right engine.Operand) (*engine.MergedProof, error) {
	startTime := time.Now()
	merged, err := a.engine.Compose(ctx, left, right)
	if err != nil {
		return nil, err
	}

	// 登记派生验证密钥，使合并工件可独立验证和再次合并
	a.catalog.RegisterVerifyingKey(&catalog.VerifyingKeyRecord{
		KeyID:        merged.KeyID,
		VerifyingKey: merged.VerifyingKey,
		CircuitBytes: merged.CircuitBytes,
		Source:       "merged",
	})

	a.logger.Infof("证明合并完成: left=%s, right=%s, keyID=%s, 耗时=%v",
		left.Name, right.Name, hex.EncodeToString(merged.KeyID[:8]), time.Since(startTime))
	return merged, nil
}

// VerifyMerged 独立验证合并证明
func (a *Aggregator) VerifyMerged(ctx context.Context, merged *engine.MergedProof) (bool, error) {
	proof := &engine.Proof{
		CircuitName:   "merged:" + merged.ID,
		KeyID:         merged.KeyID,
		ProofBytes:    merged.ProofBytes,
		PublicWitness: merged.PublicWitness,
	}
	return a.engine.Verify(ctx, merged.VerifyingKey, proof)
}

// operandByName 从目录解析电路的验证密钥和约束系统，组装操作数
func (a *Aggregator) operandByName(ctx context.Context, name string, proof *engine.Proof) (engine.Operand, error) {
	handle, err := a.catalog.Hydrate(ctx, name)
	if err != nil {
		return engine.Operand{}, err
	}
	bytecode, err := a.catalog.Bytecode(name)
	if err != nil {
		return engine.Operand{}, err
	}
	return engine.Operand{
		Name:          name,
		ProofBytes:    proof.ProofBytes,
		PublicWitness: proof.PublicWitness,
		VerifyingKey:  handle.VerifyingKey(),
		Bytecode:      bytecode,
	}, nil
}
