package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/poseidon2"
)

// ============================================================================
// Poseidon哈希辅助函数（UTXO承诺与交易摘要）
// ============================================================================
//
// 🎯 **设计目的**：
// 提供Poseidon2哈希函数，用于电路内计算UTXO承诺和交易摘要。
// Poseidon2是ZK友好的哈希函数，相比SHA256可以减少90%的约束数量。
//
// 🏗️ **实现策略**：
// - 使用gnark的poseidon2包（Merkle-Damgård模式）
// - 电路内哈希与gnark-crypto的原生Poseidon2实现逐元素对应，
//   电路外计算的承诺可以直接作为公开输入比对
//
// ⚠️ **注意**：
// - hasher是有状态的，每次哈希都需要新建
// - 输出是单个field元素
//
// ============================================================================

// hashFields 计算任意数量field元素的Poseidon2哈希
func hashFields(api frontend.API, elems ...frontend.Variable) (frontend.Variable, error) {
	// 每次调用都需要新的hasher，因为hasher是有状态的
	hasher, err := poseidon2.New(api)
	if err != nil {
		return nil, err
	}
	hasher.Write(elems...)
	return hasher.Sum(), nil
}

// hashUtxoCommitment 计算UTXO承诺
//
// 布局与链下实现一致：H(pk_x, token0, amount0, ..., token3, amount3, salt)
func hashUtxoCommitment(api frontend.API, recipientPkX frontend.Variable, tokens, amounts [MaxAssets]frontend.Variable, salt frontend.Variable) (frontend.Variable, error) {
	elems := make([]frontend.Variable, 0, 2+2*MaxAssets)
	elems = append(elems, recipientPkX)
	for i := 0; i < MaxAssets; i++ {
		elems = append(elems, tokens[i], amounts[i])
	}
	elems = append(elems, salt)
	return hashFields(api, elems...)
}
