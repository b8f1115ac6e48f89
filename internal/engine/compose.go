package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/emulated/sw_bn254"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	"github.com/google/uuid"
)

// ============================================================================
//                            递归证明合并（BN254-in-BN254）
// ============================================================================
//
// 🎯 **设计目的**：
// 将两个BN254 Groth16证明合并为一个证明。外层电路在电路内验证
// 左右两个子证明，子证明的验证密钥作为电路常量嵌入，因此派生
// 验证密钥由(左,右)密钥对唯一确定，且对操作数顺序敏感。
//
// 🏗️ **实现策略**：
// - 使用gnark std/recursion/groth16的模拟域验证器（sw_bn254）
// - 外层证明仍是原生BN254 Groth16证明，可作为再次合并的操作数
// - 合并结果自包含：证明 + 派生密钥 + 外层约束系统
//
// ⚠️ **注意**：
// - 模拟域递归约束数量大（每个子证明数百万约束），合并是重操作
// - 外层可信设置在进程内执行，派生密钥仅在本进程生命周期内稳定
//
// ============================================================================

type (
	recursionProof   = stdgroth16.Proof[sw_bn254.G1Affine, sw_bn254.G2Affine]
	recursionWitness = stdgroth16.Witness[sw_bn254.ScalarField]
	recursionKey     = stdgroth16.VerifyingKey[sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl]
)

// mergeCircuit 外层合并电路：同时验证左右两个子证明
//
// 左右验证密钥以电路常量形式嵌入（gnark:"-"），不进入见证。
type mergeCircuit struct {
	LeftProof    recursionProof
	RightProof   recursionProof
	LeftWitness  recursionWitness `gnark:",public"`
	RightWitness recursionWitness `gnark:",public"`

	LeftKey  recursionKey `gnark:"-"`
	RightKey recursionKey `gnark:"-"`
}

func (c *mergeCircuit) Define(api frontend.API) error {
	verifier, err := stdgroth16.NewVerifier[sw_bn254.ScalarField, sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl](api)
	if err != nil {
		return fmt.Errorf("new verifier: %w", err)
	}
	if err := verifier.AssertProof(c.LeftKey, c.LeftProof, c.LeftWitness, stdgroth16.WithCompleteArithmetic()); err != nil {
		return fmt.Errorf("assert left proof: %w", err)
	}
	if err := verifier.AssertProof(c.RightKey, c.RightProof, c.RightWitness, stdgroth16.WithCompleteArithmetic()); err != nil {
		return fmt.Errorf("assert right proof: %w", err)
	}
	return nil
}

// decodedOperand 反序列化后的合并操作数
type decodedOperand struct {
	name          string
	ccs           constraint.ConstraintSystem
	verifyingKey  groth16.VerifyingKey
	vkBytes       []byte
	keyID         [32]byte
	proof         groth16.Proof
	publicWitness witness.Witness
}

func decodeOperand(side string, op Operand) (*decodedOperand, error) {
	ccs, err := decodeConstraintSystem(op.Bytecode)
	if err != nil {
		return nil, WrapCompositionFailureError(side+"-bytecode", err)
	}

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(op.VerifyingKey)); err != nil {
		return nil, WrapCompositionFailureError(side+"-verifying-key", err)
	}

	// 解码器信任内嵌的长度前缀，进入前先做框架校验（同Verify）
	if !proofFramingValid(op.ProofBytes) {
		return nil, WrapCompositionFailureError(side+"-proof",
			fmt.Errorf("malformed proof framing: length=%d", len(op.ProofBytes)))
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(op.ProofBytes)); err != nil {
		return nil, WrapCompositionFailureError(side+"-proof", err)
	}

	if !witnessFramingValid(op.PublicWitness) {
		return nil, WrapCompositionFailureError(side+"-witness",
			fmt.Errorf("malformed witness framing: length=%d", len(op.PublicWitness)))
	}
	publicWitness, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, WrapCompositionFailureError(side+"-witness", err)
	}
	if err := publicWitness.UnmarshalBinary(op.PublicWitness); err != nil {
		return nil, WrapCompositionFailureError(side+"-witness", err)
	}

	return &decodedOperand{
		name:          op.Name,
		ccs:           ccs,
		verifyingKey:  vk,
		vkBytes:       op.VerifyingKey,
		keyID:         sha256.Sum256(op.VerifyingKey),
		proof:         proof,
		publicWitness: publicWitness,
	}, nil
}

// Compose 将两个操作数合并为单一证明
//
// 顺序敏感：左右密钥按序嵌入外层电路，交换操作数得到不同的
// 派生验证密钥。合并不满足结合律，证明树的形状由调用方决定。
func (e *GnarkEngine) Compose(ctx context.Context, left, right Operand) (*MergedProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapCompositionFailureError("context", err)
	}
	startTime := time.Now()
	e.logger.Debugf("开始合并证明: left=%s, right=%s", left.Name, right.Name)

	restore := SilenceGnarkLogger()
	defer restore()

	leftOp, err := decodeOperand("left", left)
	if err != nil {
		return nil, err
	}
	rightOp, err := decodeOperand("right", right)
	if err != nil {
		return nil, err
	}

	// 先在原生域做一次轻量验证，拒绝与声称密钥不符的操作数，
	// 避免在外层电路求解阶段才暴露出来
	if err := groth16.Verify(leftOp.proof, leftOp.verifyingKey, leftOp.publicWitness); err != nil {
		return nil, WrapCompositionFailureError("left-precheck", err)
	}
	if err := groth16.Verify(rightOp.proof, rightOp.verifyingKey, rightOp.publicWitness); err != nil {
		return nil, WrapCompositionFailureError("right-precheck", err)
	}

	setup, err := e.composeSetupFor(leftOp, rightOp)
	if err != nil {
		return nil, err
	}

	leftProof, err := stdgroth16.ValueOfProof[sw_bn254.G1Affine, sw_bn254.G2Affine](leftOp.proof)
	if err != nil {
		return nil, WrapCompositionFailureError("left-proof-value", err)
	}
	rightProof, err := stdgroth16.ValueOfProof[sw_bn254.G1Affine, sw_bn254.G2Affine](rightOp.proof)
	if err != nil {
		return nil, WrapCompositionFailureError("right-proof-value", err)
	}
	leftWitness, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](leftOp.publicWitness)
	if err != nil {
		return nil, WrapCompositionFailureError("left-witness-value", err)
	}
	rightWitness, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](rightOp.publicWitness)
	if err != nil {
		return nil, WrapCompositionFailureError("right-witness-value", err)
	}

	outerAssignment := &mergeCircuit{
		LeftProof:    leftProof,
		RightProof:   rightProof,
		LeftWitness:  leftWitness,
		RightWitness: rightWitness,
	}
	outerWitness, err := frontend.NewWitness(outerAssignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, WrapCompositionFailureError("outer-witness", err)
	}

	outerProof, err := groth16.Prove(setup.ccs, setup.provingKey, outerWitness)
	if err != nil {
		return nil, WrapCompositionFailureError("prove", err)
	}

	outerPublicWitness, err := outerWitness.Public()
	if err != nil {
		return nil, WrapCompositionFailureError("outer-public-witness", err)
	}
	if err := groth16.Verify(outerProof, setup.verifyingKey, outerPublicWitness); err != nil {
		return nil, WrapCompositionFailureError("self-check", err)
	}

	var proofBuf bytes.Buffer
	if _, err := outerProof.WriteTo(&proofBuf); err != nil {
		return nil, WrapCompositionFailureError("serialize-proof", err)
	}
	publicBytes, err := outerPublicWitness.MarshalBinary()
	if err != nil {
		return nil, WrapCompositionFailureError("serialize-public-witness", err)
	}

	merged := &MergedProof{
		ID:            uuid.New().String(),
		KeyID:         setup.keyID,
		ProofBytes:    proofBuf.Bytes(),
		PublicWitness: publicBytes,
		VerifyingKey:  setup.vkBytes,
		CircuitBytes:  setup.ccsBytes,
		Provenance: Provenance{
			LeftName:   left.Name,
			LeftKeyID:  leftOp.keyID,
			RightName:  right.Name,
			RightKeyID: rightOp.keyID,
			CreatedAt:  time.Now().UTC(),
		},
	}

	e.logger.Debugf("证明合并完成: id=%s, constraints=%d, 耗时=%v",
		merged.ID, setup.ccs.GetNbConstraints(), time.Since(startTime))
	return merged, nil
}

// composeSetup 外层合并电路的已完成可信设置
type composeSetup struct {
	ccs          constraint.ConstraintSystem
	provingKey   groth16.ProvingKey
	verifyingKey groth16.VerifyingKey
	vkBytes      []byte
	ccsBytes     []byte
	keyID        [32]byte
}

// composeSetupFor 返回(左,右)密钥对的外层电路设置，进程内缓存
//
// 外层电路由左右验证密钥唯一确定，缓存保证同一有序密钥对在本
// 进程内始终派生同一个验证密钥，也免去重复的编译与设置开销。
func (e *GnarkEngine) composeSetupFor(leftOp, rightOp *decodedOperand) (*composeSetup, error) {
	var cacheKey [64]byte
	copy(cacheKey[:32], leftOp.keyID[:])
	copy(cacheKey[32:], rightOp.keyID[:])

	e.composeMu.Lock()
	defer e.composeMu.Unlock()
	if cached, ok := e.composeCache[cacheKey]; ok {
		return cached, nil
	}

	// 将左右验证密钥绑定为外层电路常量
	leftKey, err := stdgroth16.ValueOfVerifyingKeyFixed[sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl](leftOp.verifyingKey)
	if err != nil {
		return nil, WrapIncompatibleVerifyingKeysError("left", err)
	}
	rightKey, err := stdgroth16.ValueOfVerifyingKeyFixed[sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl](rightOp.verifyingKey)
	if err != nil {
		return nil, WrapIncompatibleVerifyingKeysError("right", err)
	}

	outerDefinition := &mergeCircuit{
		LeftProof:    stdgroth16.PlaceholderProof[sw_bn254.G1Affine, sw_bn254.G2Affine](leftOp.ccs),
		RightProof:   stdgroth16.PlaceholderProof[sw_bn254.G1Affine, sw_bn254.G2Affine](rightOp.ccs),
		LeftWitness:  stdgroth16.PlaceholderWitness[sw_bn254.ScalarField](leftOp.ccs),
		RightWitness: stdgroth16.PlaceholderWitness[sw_bn254.ScalarField](rightOp.ccs),
		LeftKey:      leftKey,
		RightKey:     rightKey,
	}

	outerCCS, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, outerDefinition)
	if err != nil {
		return nil, WrapCompositionFailureError("compile", err)
	}

	outerPK, outerVK, err := groth16.Setup(outerCCS)
	if err != nil {
		return nil, WrapCompositionFailureError("setup", err)
	}

	var ccsBuf bytes.Buffer
	if _, err := outerCCS.WriteTo(&ccsBuf); err != nil {
		return nil, WrapCompositionFailureError("serialize-circuit", err)
	}
	vkBytes, err := serializeVerifyingKey(outerVK)
	if err != nil {
		return nil, WrapCompositionFailureError("serialize-verifying-key", err)
	}

	setup := &composeSetup{
		ccs:          outerCCS,
		provingKey:   outerPK,
		verifyingKey: outerVK,
		vkBytes:      vkBytes,
		ccsBytes:     ccsBuf.Bytes(),
		keyID:        sha256.Sum256(vkBytes),
	}
	e.composeCache[cacheKey] = setup
	return setup, nil
}
