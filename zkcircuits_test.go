package zkcircuits

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/zkcircuits/internal/keys"
	"github.com/weisyn/zkcircuits/internal/utxo"
)

// ============================================================================
// 端到端集成测试
// ============================================================================
//
// 🎯 **测试目的**：内建电路的完整回路——初始化、交易构建、证明
// 生成、验证、递归合并。涉及真实的可信设置和递归电路编译，
// 耗时较长，-short模式下跳过。
//
// ============================================================================

func feOf(v uint64) fr.Element {
	var fe fr.Element
	fe.SetUint64(v)
	return fe
}

func fundedUtxo(t *testing.T, owner *keys.Keypair) utxo.Utxo {
	t.Helper()
	x, _ := owner.PublicKeyXY()
	var pkX fr.Element
	pkX.SetBigInt(x)

	u := utxo.Utxo{RecipientPkX: pkX, Salt: feOf(42)}
	u.Assets[0] = utxo.Asset{Token: feOf(1), Amount: 1000}
	u.Assets[1] = utxo.Asset{Token: feOf(7), Amount: 500}
	return u
}

// TestEndToEnd_SpendProveVerify 测试花费交易的证明生成与验证
func TestEndToEnd_SpendProveVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过耗时的可信设置")
	}
	lib := New(nil)
	ctx := context.Background()
	require.NoError(t, lib.InitDefault(ctx))

	// 幂等
	require.NoError(t, lib.InitDefault(ctx))

	desc, ok := lib.Lookup(SpendCircuitName)
	require.True(t, ok)
	require.NotNil(t, desc.Handle)

	alice, err := keys.FromSeed(sha256.Sum256([]byte("alice")))
	require.NoError(t, err)

	assignment, err := utxo.BuildSpendAssignment(&utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          fundedUtxo(t, alice),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
	})
	require.NoError(t, err)

	proof, err := lib.ProveNamed(ctx, SpendCircuitName, assignment.Values)
	require.NoError(t, err)
	assert.Equal(t, SpendCircuitName, proof.CircuitName)

	ok, err = lib.Verify(ctx, proof)
	require.NoError(t, err)
	assert.True(t, ok)

	// 篡改公开输入（声称不同的转出金额）后验证不通过
	tampered := *proof
	tampered.PublicWitness = nil
	tampered.PublicInputs = append([]*big.Int(nil), proof.PublicInputs...)
	tampered.PublicInputs[4] = big.NewInt(999)
	ok, err = lib.Verify(ctx, &tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	// 翻转证明本体的一个字节后同样验证不通过，而非error
	corrupted := *proof
	corrupted.ProofBytes = append([]byte(nil), proof.ProofBytes...)
	corrupted.ProofBytes[0] ^= 0x01
	ok, err = lib.Verify(ctx, &corrupted)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestEndToEnd_MergeProofs 测试两个证明的递归合并与再合并
func TestEndToEnd_MergeProofs(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过耗时的递归证明")
	}
	lib := New(nil)
	ctx := context.Background()
	require.NoError(t, lib.InitDefault(ctx))

	alice, err := keys.FromSeed(sha256.Sum256([]byte("alice")))
	require.NoError(t, err)

	spendAssignment, err := utxo.BuildSpendAssignment(&utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          fundedUtxo(t, alice),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
	})
	require.NoError(t, err)
	spendProof, err := lib.ProveNamed(ctx, SpendCircuitName, spendAssignment.Values)
	require.NoError(t, err)

	in0 := fundedUtxo(t, alice)
	in1 := fundedUtxo(t, alice)
	in1.Salt = feOf(43)
	mergeAssignment, err := utxo.BuildMergeAssignment(&utxo.MergeRequest{
		Signer: alice,
		Inputs: [2]utxo.Utxo{in0, in1},
	})
	require.NoError(t, err)
	mergeProof, err := lib.ProveNamed(ctx, MergeCircuitName, mergeAssignment.Values)
	require.NoError(t, err)

	merged, err := lib.MergeByName(ctx, SpendCircuitName, spendProof, MergeCircuitName, mergeProof)
	require.NoError(t, err)
	assert.NotEmpty(t, merged.VerifyingKey)
	assert.Equal(t, SpendCircuitName, merged.Provenance.LeftName)

	ok, err := lib.VerifyMerged(ctx, merged)
	require.NoError(t, err)
	assert.True(t, ok, "合并证明应可独立验证")

	// 合并证明作为操作数再合并一层
	second, err := lib.MergeByDescriptor(ctx, merged.AsOperand(), merged.AsOperand())
	require.NoError(t, err)

	ok, err = lib.VerifyMerged(ctx, second)
	require.NoError(t, err)
	assert.True(t, ok)

	// 派生密钥有确定性：同一对子密钥合并两次得到相同KeyID
	again, err := lib.MergeByName(ctx, SpendCircuitName, spendProof, MergeCircuitName, mergeProof)
	require.NoError(t, err)
	assert.Equal(t, merged.KeyID, again.KeyID, "派生验证密钥应由左右子密钥唯一确定")
}
