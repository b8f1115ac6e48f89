package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"

	"github.com/weisyn/zkcircuits/pkg/log"
)

// GnarkEngine 基于gnark的Groth16证明引擎
//
// 🎯 **专门职责**：约束系统反序列化、可信设置、证明生成与验证
// 🏗️ **技术栈**：gnark Groth16 / BN254
type GnarkEngine struct {
	logger log.Logger

	// composeMu/composeCache 缓存外层合并电路的可信设置。
	// 缓存键是有序的(左,右)验证密钥标识，保证同一对子密钥在
	// 进程内始终派生同一个验证密钥。
	composeMu    sync.Mutex
	composeCache map[[64]byte]*composeSetup
}

// NewGnarkEngine 创建gnark证明引擎
func NewGnarkEngine(logger log.Logger) *GnarkEngine {
	return &GnarkEngine{
		logger:       logger,
		composeCache: make(map[[64]byte]*composeSetup),
	}
}

// gnarkHandle 已完成可信设置的电路句柄
type gnarkHandle struct {
	name         string
	ccs          constraint.ConstraintSystem
	provingKey   groth16.ProvingKey
	verifyingKey groth16.VerifyingKey
	vkBytes      []byte
	keyID        [32]byte
	publicCount  int
	privateCount int
}

func (h *gnarkHandle) Name() string         { return h.name }
func (h *gnarkHandle) KeyID() [32]byte      { return h.keyID }
func (h *gnarkHandle) VerifyingKey() []byte { return h.vkBytes }
func (h *gnarkHandle) PublicCount() int     { return h.publicCount }
func (h *gnarkHandle) PrivateCount() int    { return h.privateCount }

// SilenceGnarkLogger 在gnark调用期间禁用其日志输出
//
// ⚠️ gnark会输出大量调试信息（compiling circuit, parsed circuit inputs等），
// 这些日志会污染上层日志系统。gnark使用zerolog，因此这里替换为一个
// 丢弃输出的zerolog.Logger，返回的函数负责恢复。
func SilenceGnarkLogger() func() {
	oldLogger := gnarklogger.Logger()
	discardLogger := zerolog.New(io.Discard).Level(zerolog.Disabled)
	gnarklogger.Set(discardLogger)
	return func() {
		gnarklogger.Set(oldLogger)
	}
}

// Setup 从序列化约束系统构建电路句柄
//
// provingKey/verifyingKey均非nil时直接反序列化预生成的密钥对，
// 否则执行进程内可信设置（Groth16 setup，每个进程独立）。
func (e *GnarkEngine) Setup(ctx context.Context, name string, bytecode, provingKey, verifyingKey []byte) (CircuitHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapEngineInitFailureError(name, err)
	}
	startTime := time.Now()

	restore := SilenceGnarkLogger()
	defer restore()

	ccs, err := decodeConstraintSystem(bytecode)
	if err != nil {
		return nil, WrapEngineInitFailureError(name, err)
	}

	var pk groth16.ProvingKey
	var vk groth16.VerifyingKey
	if len(provingKey) > 0 && len(verifyingKey) > 0 {
		pk = groth16.NewProvingKey(ecc.BN254)
		if _, err := pk.ReadFrom(bytes.NewReader(provingKey)); err != nil {
			return nil, WrapEngineInitFailureError(name, fmt.Errorf("decode proving key: %w", err))
		}
		vk = groth16.NewVerifyingKey(ecc.BN254)
		if _, err := vk.ReadFrom(bytes.NewReader(verifyingKey)); err != nil {
			return nil, WrapEngineInitFailureError(name, fmt.Errorf("decode verifying key: %w", err))
		}
	} else {
		pk, vk, err = groth16.Setup(ccs)
		if err != nil {
			return nil, WrapEngineInitFailureError(name, fmt.Errorf("trusted setup: %w", err))
		}
	}

	vkBytes, err := serializeVerifyingKey(vk)
	if err != nil {
		return nil, WrapEngineInitFailureError(name, err)
	}

	handle := &gnarkHandle{
		name:         name,
		ccs:          ccs,
		provingKey:   pk,
		verifyingKey: vk,
		vkBytes:      vkBytes,
		keyID:        sha256.Sum256(vkBytes),
		// GetNbPublicVariables包含保留的常量线，见证中不含该项
		publicCount:  ccs.GetNbPublicVariables() - 1,
		privateCount: ccs.GetNbSecretVariables(),
	}

	e.logger.Debugf("电路设置完成: circuit=%s, constraints=%d, public=%d, 耗时=%v",
		name, ccs.GetNbConstraints(), handle.publicCount, time.Since(startTime))
	return handle, nil
}

// DeriveKeys 对序列化约束系统执行可信设置并返回序列化密钥对
func (e *GnarkEngine) DeriveKeys(ctx context.Context, bytecode []byte) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, WrapEngineInitFailureError("", err)
	}

	restore := SilenceGnarkLogger()
	defer restore()

	ccs, err := decodeConstraintSystem(bytecode)
	if err != nil {
		return nil, nil, WrapEngineInitFailureError("", err)
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, WrapEngineInitFailureError("", fmt.Errorf("trusted setup: %w", err))
	}

	var pkBuf bytes.Buffer
	if _, err := pk.WriteTo(&pkBuf); err != nil {
		return nil, nil, WrapEngineInitFailureError("", fmt.Errorf("serialize proving key: %w", err))
	}
	vkBytes, err := serializeVerifyingKey(vk)
	if err != nil {
		return nil, nil, WrapEngineInitFailureError("", err)
	}
	return pkBuf.Bytes(), vkBytes, nil
}

// Prove 在给定句柄上生成证明
func (e *GnarkEngine) Prove(ctx context.Context, handle CircuitHandle, w *EncodedWitness) (*Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapProveFailureError(handle.Name(), err)
	}
	h, ok := handle.(*gnarkHandle)
	if !ok {
		return nil, WrapProveFailureError(handle.Name(), fmt.Errorf("foreign circuit handle %T", handle))
	}
	startTime := time.Now()
	e.logger.Debugf("开始生成证明: circuit=%s", h.name)

	restore := SilenceGnarkLogger()
	defer restore()

	if len(w.Public) != h.publicCount {
		return nil, WrapInvalidWitnessError(h.name,
			fmt.Sprintf("public inputs: expected=%d, actual=%d", h.publicCount, len(w.Public)))
	}
	if len(w.Private) != h.privateCount {
		return nil, WrapInvalidWitnessError(h.name,
			fmt.Sprintf("private inputs: expected=%d, actual=%d", h.privateCount, len(w.Private)))
	}

	fullWitness, err := buildFullWitness(w)
	if err != nil {
		return nil, WrapInvalidWitnessError(h.name, err.Error())
	}

	proof, err := groth16.Prove(h.ccs, h.provingKey, fullWitness)
	if err != nil {
		return nil, WrapProveFailureError(h.name, err)
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, WrapProveFailureError(h.name, fmt.Errorf("serialize proof: %w", err))
	}

	publicWitness, err := fullWitness.Public()
	if err != nil {
		return nil, WrapProveFailureError(h.name, fmt.Errorf("extract public witness: %w", err))
	}
	publicBytes, err := publicWitness.MarshalBinary()
	if err != nil {
		return nil, WrapProveFailureError(h.name, fmt.Errorf("serialize public witness: %w", err))
	}

	e.logger.Debugf("证明生成完成: circuit=%s, 大小=%d字节, 耗时=%v",
		h.name, proofBuf.Len(), time.Since(startTime))

	return &Proof{
		CircuitName:   h.name,
		KeyID:         h.keyID,
		ProofBytes:    proofBuf.Bytes(),
		PublicWitness: publicBytes,
		PublicInputs:  clonePublicInputs(w.Public),
	}, nil
}

// Verify 用序列化验证密钥验证证明
//
// 密码学意义上的验证失败返回(false, nil)。证明或公开见证字节
// 损坏同样按验证不通过处理：被篡改的字节可能在框架校验、压缩
// 点解码或配对检查任一阶段被拒绝，调用方不应区别对待这三种
// 篡改。只有验证密钥或调用方结构化输入损坏时返回error（此时
// 验证根本无法进行）。
func (e *GnarkEngine) Verify(ctx context.Context, verifyingKey []byte, proof *Proof) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, WrapInvalidProofError("context", err)
	}

	restore := SilenceGnarkLogger()
	defer restore()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(verifyingKey)); err != nil {
		return false, WrapInvalidProofError("decode verifying key", err)
	}

	if !proofFramingValid(proof.ProofBytes) {
		e.logger.Debugf("证明框架校验失败，按验证不通过处理: circuit=%s, 长度=%d",
			proof.CircuitName, len(proof.ProofBytes))
		return false, nil
	}
	gproof := groth16.NewProof(ecc.BN254)
	if _, err := gproof.ReadFrom(bytes.NewReader(proof.ProofBytes)); err != nil {
		e.logger.Debugf("证明解码失败，按验证不通过处理: circuit=%s, cause=%v", proof.CircuitName, err)
		return false, nil
	}

	var publicWitness witness.Witness
	if len(proof.PublicWitness) > 0 {
		if !witnessFramingValid(proof.PublicWitness) {
			e.logger.Debugf("公开见证框架校验失败，按验证不通过处理: circuit=%s, 长度=%d",
				proof.CircuitName, len(proof.PublicWitness))
			return false, nil
		}
		w, err := witness.New(ecc.BN254.ScalarField())
		if err != nil {
			return false, WrapInvalidProofError("new witness", err)
		}
		if err := w.UnmarshalBinary(proof.PublicWitness); err != nil {
			e.logger.Debugf("公开见证解码失败，按验证不通过处理: circuit=%s, cause=%v", proof.CircuitName, err)
			return false, nil
		}
		publicWitness = w
	} else {
		w, err := publicWitnessFromInputs(proof)
		if err != nil {
			return false, err
		}
		publicWitness = w
	}

	if err := groth16.Verify(gproof, vk, publicWitness); err != nil {
		e.logger.Debugf("证明验证未通过: circuit=%s, cause=%v", proof.CircuitName, err)
		return false, nil
	}
	return true, nil
}

// ============================================================================
//                               内部辅助函数
// ============================================================================

// publicWitnessCircuit 用于从扁平公开输入构建公开见证的通用电路外形
type publicWitnessCircuit struct {
	PublicInputs []frontend.Variable `gnark:",public"`
}

func (c *publicWitnessCircuit) Define(api frontend.API) error {
	for i := range c.PublicInputs {
		api.AssertIsEqual(c.PublicInputs[i], c.PublicInputs[i])
	}
	return nil
}

// ============================================================================
//                             序列化框架校验
// ============================================================================
//
// ⚠️ gnark的证明/见证解码器信任字节流内嵌的长度前缀并据此分配
// 内存：前缀被改写为超大值时，解码器在任何曲线点检查之前就按
// 前缀make切片，触发runtime无法恢复的超大内存分配，整个进程被
// 终止。不可信字节必须先通过框架校验再进入解码器。

const (
	g1CompressedSize = 32 // BN254压缩G1点
	g2CompressedSize = 64 // BN254压缩G2点
	frElementSize    = 32 // BN254标量域元素

	// 证明布局：Ar(G1) + Bs(G2) + Krs(G1) + 承诺数量(uint32)
	// + 承诺(逐个压缩G1) + 承诺知识证明(G1)
	proofCommitmentCountOffset = g1CompressedSize + g2CompressedSize + g1CompressedSize

	// 见证布局：公开数量(uint32) + 私有数量(uint32)
	// + 向量长度(uint32) + 域元素(逐个32字节)
	witnessVectorLenOffset = 8
	witnessHeaderSize      = 12
)

// proofFramingValid 校验序列化证明的承诺数量前缀与总长度一致
func proofFramingValid(b []byte) bool {
	if len(b) < proofCommitmentCountOffset+4 {
		return false
	}
	count := binary.BigEndian.Uint32(b[proofCommitmentCountOffset:])
	want := uint64(proofCommitmentCountOffset) + 4 + (uint64(count)+1)*g1CompressedSize
	return uint64(len(b)) == want
}

// witnessFramingValid 校验序列化公开见证的向量长度前缀与总长度一致
func witnessFramingValid(b []byte) bool {
	if len(b) < witnessHeaderSize {
		return false
	}
	vecLen := binary.BigEndian.Uint32(b[witnessVectorLenOffset:])
	return uint64(len(b)) == witnessHeaderSize+uint64(vecLen)*frElementSize
}

func decodeConstraintSystem(bytecode []byte) (constraint.ConstraintSystem, error) {
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("empty circuit bytecode")
	}
	ccs := groth16.NewCS(ecc.BN254)
	if _, err := ccs.ReadFrom(bytes.NewReader(bytecode)); err != nil {
		return nil, fmt.Errorf("decode constraint system: %w", err)
	}
	return ccs, nil
}

func serializeVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// buildFullWitness 按公开在前、私有在后的布局填充完整见证
func buildFullWitness(w *EncodedWitness) (witness.Witness, error) {
	fullWitness, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, len(w.Public)+len(w.Private))
	for _, v := range w.Public {
		values <- v
	}
	for _, v := range w.Private {
		values <- v
	}
	close(values)
	if err := fullWitness.Fill(len(w.Public), len(w.Private), values); err != nil {
		return nil, err
	}
	return fullWitness, nil
}

// publicWitnessFromInputs 从调用方提供的公开输入重建公开见证
func publicWitnessFromInputs(proof *Proof) (witness.Witness, error) {
	assignment := &publicWitnessCircuit{
		PublicInputs: make([]frontend.Variable, len(proof.PublicInputs)),
	}
	for i, v := range proof.PublicInputs {
		if v == nil {
			return nil, WrapInvalidProofError("nil public input", fmt.Errorf("index=%d", i))
		}
		assignment.PublicInputs[i] = v
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, WrapInvalidProofError("build public witness", err)
	}
	return publicWitness, nil
}

func clonePublicInputs(values []*big.Int) []*big.Int {
	cloned := make([]*big.Int, len(values))
	for i, v := range values {
		cloned[i] = new(big.Int).Set(v)
	}
	return cloned
}
