package circuits

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/signature/eddsa"
)

// MergeCircuit 合并电路
//
// 🎯 **证明内容**：
// 将同一持有者的两个UTXO合并为一个。电路保证：
//  1. 三个承诺（两个输入、一个输出）与私有明文一致，
//     输出归属持有者本人
//  2. 输出的代币布局与两个输入一致
//  3. 逐槽位金额为两个输入之和（64比特范围检查防回绕）
//  4. 持有者对交易摘要的EdDSA签名有效
type MergeCircuit struct {
	// 公开输入
	In0Commitment frontend.Variable `gnark:",public"`
	In1Commitment frontend.Variable `gnark:",public"`
	OutCommitment frontend.Variable `gnark:",public"`

	// 私有输入
	Owner      eddsa.PublicKey
	Signature  eddsa.Signature
	In0Tokens  [MaxAssets]frontend.Variable
	In0Amounts [MaxAssets]frontend.Variable
	In0Salt    frontend.Variable
	In1Tokens  [MaxAssets]frontend.Variable
	In1Amounts [MaxAssets]frontend.Variable
	In1Salt    frontend.Variable
	OutTokens  [MaxAssets]frontend.Variable
	OutAmounts [MaxAssets]frontend.Variable
	OutSalt    frontend.Variable
}

// Define 定义合并电路约束
func (c *MergeCircuit) Define(api frontend.API) error {
	// 1. 承诺一致性：两个输入和输出都归属持有者
	in0Commit, err := hashUtxoCommitment(api, c.Owner.A.X, c.In0Tokens, c.In0Amounts, c.In0Salt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(in0Commit, c.In0Commitment)

	in1Commit, err := hashUtxoCommitment(api, c.Owner.A.X, c.In1Tokens, c.In1Amounts, c.In1Salt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(in1Commit, c.In1Commitment)

	outCommit, err := hashUtxoCommitment(api, c.Owner.A.X, c.OutTokens, c.OutAmounts, c.OutSalt)
	if err != nil {
		return err
	}
	api.AssertIsEqual(outCommit, c.OutCommitment)

	// 2. 代币布局一致 + 3. 逐槽位金额相加
	for i := 0; i < MaxAssets; i++ {
		api.AssertIsEqual(c.In1Tokens[i], c.In0Tokens[i])
		api.AssertIsEqual(c.OutTokens[i], c.In0Tokens[i])

		api.ToBinary(c.In0Amounts[i], AmountBits)
		api.ToBinary(c.In1Amounts[i], AmountBits)
		api.AssertIsEqual(c.OutAmounts[i], api.Add(c.In0Amounts[i], c.In1Amounts[i]))
	}

	// 4. 持有者签名：摘要带域分离标签，尾部三个0与历史布局对齐
	digest, err := hashFields(api,
		mergeDigestTag,
		c.Owner.A.X,
		c.OutCommitment,
		0, 0, 0,
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
