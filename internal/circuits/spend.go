// Package circuits 定义内建的UTXO电路
//
// 🎯 **专门职责**：花费（spend）和合并（merge）两个内建电路的
// 约束定义、输入模式和编译入口。电路以序列化约束系统（字节码）
// 的形式注册到目录，与外部分发的电路工件走同一条路径。
package circuits

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/signature/eddsa"
)

// MaxAssets 每个UTXO的固定资产槽位数
const MaxAssets = 4

// AmountBits 金额的比特宽度上限（范围检查用）
const AmountBits = 64

// 交易摘要的域分离标签
const (
	spendDigestTag = 1
	mergeDigestTag = 2
)

// SpendCircuit 花费电路
//
// 🎯 **证明内容**：
// 消耗一个4槽位UTXO，产生接收方输出和找零输出。电路保证：
//  1. 三个承诺（输入、接收方、找零）与私有明文一致
//  2. 逐槽位金额守恒，手续费从槽位0扣除
//  3. 转出金额只出现在与转出代币匹配的槽位
//  4. 所有金额在64比特范围内
//  5. 持有者对交易摘要的EdDSA签名有效
//
// 公开输入顺序：输入承诺、接收方承诺、找零承诺、转出代币、
// 转出金额、手续费。私有输入布局与utxo_spend模式一一对应。
type SpendCircuit struct {
	// 公开输入
	InCommitment    frontend.Variable `gnark:",public"`
	ReceiverCommit  frontend.Variable `gnark:",public"`
	RemainderCommit frontend.Variable `gnark:",public"`
	TransferToken   frontend.Variable `gnark:",public"`
	TransferAmount  frontend.Variable `gnark:",public"`
	FeeAmount       frontend.Variable `gnark:",public"`

	// 私有输入
	Owner            eddsa.PublicKey
	Signature        eddsa.Signature
	InTokens         [MaxAssets]frontend.Variable
	InAmounts        [MaxAssets]frontend.Variable
	InSalt           frontend.Variable
	RecipientPkX     frontend.Variable
	ReceiverTokens   [MaxAssets]frontend.Variable
	ReceiverAmounts  [MaxAssets]frontend.Variable
	ReceiverSalt     frontend.Variable
	RemainderTokens  [MaxAssets]frontend.Variable
	RemainderAmounts [MaxAssets]frontend.Variable
	RemainderSalt    frontend.Variable
}

// Define 定义花费电路约束
func (c *SpendCircuit) Define(api frontend.API) error {
	// 1. 承诺一致性
	inCommit, err := hashUtxoCommitment(api, c.Owner.A.X, c.InTokens, c.InAmounts, c.InSalt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(inCommit, c.InCommitment)

	receiverCommit, err := hashUtxoCommitment(api, c.RecipientPkX, c.ReceiverTokens, c.ReceiverAmounts, c.ReceiverSalt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(receiverCommit, c.ReceiverCommit)

	remainderCommit, err := hashUtxoCommitment(api, c.Owner.A.X, c.RemainderTokens, c.RemainderAmounts, c.RemainderSalt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(remainderCommit, c.RemainderCommit)

	// 2. 金额范围检查（防止域上的回绕）
	for i := 0; i < MaxAssets; i++ {
		api.ToBinary(c.InAmounts[i], AmountBits)
		api.ToBinary(c.ReceiverAmounts[i], AmountBits)
		api.ToBinary(c.RemainderAmounts[i], AmountBits)
	}
	api.ToBinary(c.TransferAmount, AmountBits)
	api.ToBinary(c.FeeAmount, AmountBits)

	// 3. 代币一致性：找零保持输入的代币布局；
	//    接收方金额非零的槽位必须与转出代币对齐
	for i := 0; i < MaxAssets; i++ {
		api.AssertIsEqual(c.RemainderTokens[i], c.InTokens[i])
		api.AssertIsEqual(api.Mul(c.ReceiverAmounts[i], api.Sub(c.InTokens[i], c.TransferToken)), 0)
		api.AssertIsEqual(api.Mul(c.ReceiverAmounts[i], api.Sub(c.ReceiverTokens[i], c.TransferToken)), 0)
	}

	// 4. 逐槽位守恒：手续费从槽位0扣除
	api.AssertIsEqual(c.InAmounts[0], api.Add(c.ReceiverAmounts[0], c.RemainderAmounts[0], c.FeeAmount))
	for i := 1; i < MaxAssets; i++ {
		api.AssertIsEqual(c.InAmounts[i], api.Add(c.ReceiverAmounts[i], c.RemainderAmounts[i]))
	}

	// 5. 转出金额等于接收方金额总和
	transferSum := api.Add(c.ReceiverAmounts[0], c.ReceiverAmounts[1], c.ReceiverAmounts[2], c.ReceiverAmounts[3])
	api.AssertIsEqual(transferSum, c.TransferAmount)

	// 6. 持有者签名：摘要带域分离标签
	digest, err := hashFields(api,
		spendDigestTag,
		c.Owner.A.X,
		c.TransferToken,
		c.TransferAmount,
		c.FeeAmount,
		c.ReceiverCommit,
		c.RemainderCommit,
	)
	if err != nil {
		return err
	}

	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	return eddsa.Verify(curve, c.Signature, digest, c.Owner, &hasher)
}
