package circuits

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/weisyn/zkcircuits/internal/catalog"
	"github.com/weisyn/zkcircuits/internal/engine"
)

// 内建电路名称
const (
	// SpendCircuitName 花费电路
	SpendCircuitName = "utxo_spend"
	// MergeCircuitName 合并电路
	MergeCircuitName = "utxo_merge"
)

// SpendSchemaJSON utxo_spend电路的输入模式
//
// 槽位顺序与SpendCircuit结构体的见证布局严格一致：
// 公开输入在前，私有输入按结构体字段顺序展开。
const SpendSchemaJSON = `{
  "slots": [
    {"name": "in_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "receiver_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "remainder_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "transfer_token", "visibility": "public", "type": {"kind": "field"}},
    {"name": "transfer_amount", "visibility": "public", "type": {"kind": "field"}},
    {"name": "fee_amount", "visibility": "public", "type": {"kind": "field"}},
    {"name": "owner", "visibility": "private", "type": {"kind": "struct", "fields": [
      {"name": "a_x", "type": {"kind": "field"}},
      {"name": "a_y", "type": {"kind": "field"}}
    ]}},
    {"name": "signature", "visibility": "private", "type": {"kind": "struct", "fields": [
      {"name": "r_x", "type": {"kind": "field"}},
      {"name": "r_y", "type": {"kind": "field"}},
      {"name": "s", "type": {"kind": "field"}}
    ]}},
    {"name": "in_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in_salt", "visibility": "private", "type": {"kind": "field"}},
    {"name": "recipient_pk_x", "visibility": "private", "type": {"kind": "field"}},
    {"name": "receiver_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "receiver_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "receiver_salt", "visibility": "private", "type": {"kind": "field"}},
    {"name": "remainder_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "remainder_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "remainder_salt", "visibility": "private", "type": {"kind": "field"}}
  ]
}`

// MergeSchemaJSON utxo_merge电路的输入模式
const MergeSchemaJSON = `{
  "slots": [
    {"name": "in0_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "in1_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "out_commitment", "visibility": "public", "type": {"kind": "field"}},
    {"name": "owner", "visibility": "private", "type": {"kind": "struct", "fields": [
      {"name": "a_x", "type": {"kind": "field"}},
      {"name": "a_y", "type": {"kind": "field"}}
    ]}},
    {"name": "signature", "visibility": "private", "type": {"kind": "struct", "fields": [
      {"name": "r_x", "type": {"kind": "field"}},
      {"name": "r_y", "type": {"kind": "field"}},
      {"name": "s", "type": {"kind": "field"}}
    ]}},
    {"name": "in0_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in0_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in0_salt", "visibility": "private", "type": {"kind": "field"}},
    {"name": "in1_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in1_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "in1_salt", "visibility": "private", "type": {"kind": "field"}},
    {"name": "out_tokens", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "out_amounts", "visibility": "private", "type": {"kind": "array", "length": 4, "elem": {"kind": "field"}}},
    {"name": "out_salt", "visibility": "private", "type": {"kind": "field"}}
  ]
}`

// Compile 编译内建电路为序列化约束系统（字节码）
func Compile(name string) ([]byte, error) {
	var circuit frontend.Circuit
	switch name {
	case SpendCircuitName:
		circuit = &SpendCircuit{}
	case MergeCircuitName:
		circuit = &MergeCircuit{}
	default:
		return nil, fmt.Errorf("unknown builtin circuit %q", name)
	}

	// 编译期间禁用gnark日志输出（与引擎一致）
	restore := engine.SilenceGnarkLogger()
	defer restore()

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	var buf bytes.Buffer
	if _, err := ccs.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

var (
	bundlesOnce sync.Once
	builtins    []*catalog.ArtifactBundle
	builtinsErr error
)

// Bundles 编译全部内建电路并返回可注册的工件包
//
// 编译结果进程内缓存：工件包不可变，重复初始化直接复用，
// 不重做电路编译。
func Bundles() ([]*catalog.ArtifactBundle, error) {
	bundlesOnce.Do(func() {
		builtins, builtinsErr = compileBundles()
	})
	return builtins, builtinsErr
}

func compileBundles() ([]*catalog.ArtifactBundle, error) {
	spendBytecode, err := Compile(SpendCircuitName)
	if err != nil {
		return nil, err
	}
	mergeBytecode, err := Compile(MergeCircuitName)
	if err != nil {
		return nil, err
	}
	return []*catalog.ArtifactBundle{
		catalog.NewBundle(SpendCircuitName, spendBytecode, []byte(SpendSchemaJSON)),
		catalog.NewBundle(MergeCircuitName, mergeBytecode, []byte(MergeSchemaJSON)),
	}, nil
}
