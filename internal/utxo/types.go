// Package utxo 提供UTXO领域类型和链下哈希计算
//
// 🎯 **专门职责**：UTXO/资产类型、Poseidon2承诺、交易摘要。
// 链下哈希与电路内的Poseidon2计算逐元素对应，算出的承诺可以
// 直接作为公开输入送入证明。
package utxo

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// MaxAssets 每个UTXO的固定资产槽位数
const MaxAssets = 4

// 交易摘要的域分离标签
const (
	// SpendDigestTag 花费交易摘要标签
	SpendDigestTag = 1
	// MergeDigestTag 合并交易摘要标签
	MergeDigestTag = 2
)

// Asset 单个资产槽位
type Asset struct {
	// Token 代币标识（BN254域元素）
	Token fr.Element
	// Amount 金额（64比特内，电路做范围检查）
	Amount uint64
}

// Utxo 未花费交易输出
type Utxo struct {
	// Assets 固定4个资产槽位
	Assets [MaxAssets]Asset
	// RecipientPkX 接收者公钥的x坐标（直接进入承诺）
	RecipientPkX fr.Element
	// Salt 随机盐，与资产和公钥一起进入Poseidon2哈希
	Salt fr.Element
}

// Commitment 计算UTXO的Poseidon2承诺
//
// 布局：H(pk_x, token0, amount0, ..., token3, amount3, salt)
func (u *Utxo) Commitment() fr.Element {
	elems := make([]fr.Element, 0, 2+2*MaxAssets)
	elems = append(elems, u.RecipientPkX)
	for i := 0; i < MaxAssets; i++ {
		var amount fr.Element
		amount.SetUint64(u.Assets[i].Amount)
		elems = append(elems, u.Assets[i].Token, amount)
	}
	elems = append(elems, u.Salt)
	return HashFields(elems...)
}

// HashFields 计算任意数量域元素的Poseidon2哈希
//
// 与电路内gnark std/hash/poseidon2的Merkle-Damgård哈希器对应。
func HashFields(elems ...fr.Element) fr.Element {
	hasher := poseidon2.NewMerkleDamgardHasher()
	for i := range elems {
		b := elems[i].Bytes()
		hasher.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(hasher.Sum(nil))
	return out
}

// SpendDigest 计算花费交易摘要及其32字节签名消息
func SpendDigest(senderPkX, transferToken fr.Element, transferAmount, feeAmount uint64, receiverCommit, remainderCommit fr.Element) (fr.Element, [32]byte) {
	var tag, amount, fee fr.Element
	tag.SetUint64(SpendDigestTag)
	amount.SetUint64(transferAmount)
	fee.SetUint64(feeAmount)
	digest := HashFields(tag, senderPkX, transferToken, amount, fee, receiverCommit, remainderCommit)
	return digest, digest.Bytes()
}

// MergeDigest 计算合并交易摘要及其32字节签名消息
//
// 尾部三个0与历史摘要布局对齐。
func MergeDigest(senderPkX, outCommit fr.Element) (fr.Element, [32]byte) {
	var tag, zero fr.Element
	tag.SetUint64(MergeDigestTag)
	digest := HashFields(tag, senderPkX, outCommit, zero, zero, zero)
	return digest, digest.Bytes()
}

// RandomSalt 采样一个随机盐
func RandomSalt() (fr.Element, error) {
	var salt fr.Element
	if _, err := salt.SetRandom(); err != nil {
		return fr.Element{}, err
	}
	return salt, nil
}

// FieldToBig 将域元素转为big.Int（正规形式）
func FieldToBig(fe fr.Element) *big.Int {
	var out big.Int
	fe.BigInt(&out)
	return &out
}
