// Package engine 封装底层零知识证明引擎能力
//
// 🎯 **专门职责**：将gnark的电路编译、可信设置、证明生成/验证和
// 递归证明合并能力收敛为一个不透明的Engine接口，上层目录和聚合
// 模块只依赖该接口，不直接接触gnark类型。
package engine

import (
	"context"
	"math/big"
	"time"
)

// EncodedWitness 按电路见证布局展开后的扁平输入
//
// Public和Private的顺序必须与编译电路的见证布局一致：
// 所有公开输入在前，私有输入在后。
type EncodedWitness struct {
	Public  []*big.Int
	Private []*big.Int
}

// Proof 序列化后的证明及其公开部分
type Proof struct {
	// CircuitName 生成该证明的电路名称
	CircuitName string

	// KeyID 验证密钥的SHA-256标识
	KeyID [32]byte

	// ProofBytes 序列化的Groth16证明
	ProofBytes []byte

	// PublicWitness 序列化的公开见证（gnark二进制格式）
	PublicWitness []byte

	// PublicInputs 公开输入的域元素表示
	PublicInputs []*big.Int
}

// CircuitHandle 一个已完成可信设置、可直接用于证明的电路句柄
type CircuitHandle interface {
	// Name 电路名称
	Name() string

	// KeyID 验证密钥的SHA-256标识
	KeyID() [32]byte

	// VerifyingKey 序列化的验证密钥
	VerifyingKey() []byte

	// PublicCount 公开见证变量数量（不含常量线）
	PublicCount() int

	// PrivateCount 私有见证变量数量
	PrivateCount() int
}

// Operand 证明合并的一侧操作数
//
// 操作数必须自包含：证明、公开见证、验证密钥和对应电路的
// 序列化约束系统缺一不可。
type Operand struct {
	Name          string
	ProofBytes    []byte
	PublicWitness []byte
	VerifyingKey  []byte
	Bytecode      []byte
}

// Provenance 合并证明的来源记录
type Provenance struct {
	LeftName   string
	LeftKeyID  [32]byte
	RightName  string
	RightKeyID [32]byte
	CreatedAt  time.Time
}

// MergedProof 合并两个证明得到的单一证明
//
// 合并证明本身是外层电路上的原生Groth16证明，携带派生验证密钥
// 和外层约束系统，因此既可独立验证，也可作为下一次合并的操作数
// （支持多层证明树）。
type MergedProof struct {
	// ID 本次合并的唯一标识
	ID string

	// KeyID 派生验证密钥的SHA-256标识
	KeyID [32]byte

	// ProofBytes 外层电路的序列化Groth16证明
	ProofBytes []byte

	// PublicWitness 外层电路的序列化公开见证
	PublicWitness []byte

	// VerifyingKey 派生验证密钥（由左右子密钥对唯一确定）
	VerifyingKey []byte

	// CircuitBytes 外层电路的序列化约束系统（再次合并时需要）
	CircuitBytes []byte

	// Provenance 左右子证明的来源记录
	Provenance Provenance
}

// AsOperand 将合并证明转换为下一次合并的操作数
func (m *MergedProof) AsOperand() Operand {
	return Operand{
		Name:          "merged:" + m.ID,
		ProofBytes:    m.ProofBytes,
		PublicWitness: m.PublicWitness,
		VerifyingKey:  m.VerifyingKey,
		Bytecode:      m.CircuitBytes,
	}
}

// Engine 证明引擎接口
//
// 目录和聚合模块通过该接口使用底层证明系统；测试中可注入桩实现
// 以便在不执行密码学运算的情况下验证并发语义。
type Engine interface {
	// Setup 从序列化约束系统构建可证明的电路句柄。
	// provingKey/verifyingKey可选：为nil时在进程内执行可信设置，
	// 否则直接反序列化预先生成的密钥对。
	Setup(ctx context.Context, name string, bytecode, provingKey, verifyingKey []byte) (CircuitHandle, error)

	// DeriveKeys 对序列化约束系统执行可信设置并返回序列化密钥对
	DeriveKeys(ctx context.Context, bytecode []byte) (provingKey, verifyingKey []byte, err error)

	// Prove 在给定句柄上生成证明
	Prove(ctx context.Context, handle CircuitHandle, w *EncodedWitness) (*Proof, error)

	// Verify 用序列化验证密钥验证证明。
	// 密码学意义上的验证失败返回(false, nil)，证明或公开见证
	// 字节损坏（框架校验或解码失败）同样按验证不通过处理；
	// 验证密钥或结构化公开输入损坏时返回error。
	Verify(ctx context.Context, verifyingKey []byte, proof *Proof) (bool, error)

	// Compose 将两个操作数合并为单一证明。操作顺序敏感：
	// 交换左右会得到不同的派生验证密钥。
	Compose(ctx context.Context, left, right Operand) (*MergedProof, error)
}
