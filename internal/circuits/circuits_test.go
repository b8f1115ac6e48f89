package circuits

import (
	"crypto/sha256"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/zkcircuits/internal/catalog"
	"github.com/weisyn/zkcircuits/internal/keys"
	"github.com/weisyn/zkcircuits/internal/utxo"
)

// ============================================================================
// 内建电路测试
// ============================================================================
//
// 🎯 **测试目的**：验证电路约束与链下交易构建逻辑的一致性——
// 链下构建的合法交易必须满足电路，篡改后的见证必须不满足。
//
// ============================================================================

func feOf(v uint64) fr.Element {
	var fe fr.Element
	fe.SetUint64(v)
	return fe
}

func testSigner(t *testing.T, name string) *keys.Keypair {
	t.Helper()
	kp, err := keys.FromSeed(sha256.Sum256([]byte(name)))
	require.NoError(t, err)
	return kp
}

func ownedUtxo(t *testing.T, owner *keys.Keypair, salt uint64) utxo.Utxo {
	t.Helper()
	x, _ := owner.PublicKeyXY()
	var pkX fr.Element
	pkX.SetBigInt(x)

	u := utxo.Utxo{RecipientPkX: pkX, Salt: feOf(salt)}
	u.Assets[0] = utxo.Asset{Token: feOf(1), Amount: 1000}
	u.Assets[1] = utxo.Asset{Token: feOf(7), Amount: 500}
	return u
}

func varColumn(u *utxo.Utxo, token bool) [MaxAssets]frontend.Variable {
	var column [MaxAssets]frontend.Variable
	for i := 0; i < MaxAssets; i++ {
		if token {
			column[i] = utxo.FieldToBig(u.Assets[i].Token)
		} else {
			column[i] = u.Assets[i].Amount
		}
	}
	return column
}

func spendWitness(t *testing.T, signer *keys.Keypair, req *utxo.SpendRequest) (*SpendCircuit, *utxo.SpendAssignment) {
	t.Helper()
	assignment, err := utxo.BuildSpendAssignment(req)
	require.NoError(t, err)

	w := &SpendCircuit{
		InCommitment:     utxo.FieldToBig(assignment.InCommit),
		ReceiverCommit:   utxo.FieldToBig(assignment.ReceiverCommit),
		RemainderCommit:  utxo.FieldToBig(assignment.RemainderCommit),
		TransferToken:    utxo.FieldToBig(req.TransferToken),
		TransferAmount:   req.TransferAmount,
		FeeAmount:        req.FeeAmount,
		InTokens:         varColumn(&req.Input, true),
		InAmounts:        varColumn(&req.Input, false),
		InSalt:           utxo.FieldToBig(req.Input.Salt),
		RecipientPkX:     utxo.FieldToBig(req.RecipientPkX),
		ReceiverTokens:   varColumn(&assignment.Receiver, true),
		ReceiverAmounts:  varColumn(&assignment.Receiver, false),
		ReceiverSalt:     utxo.FieldToBig(assignment.Receiver.Salt),
		RemainderTokens:  varColumn(&assignment.Remainder, true),
		RemainderAmounts: varColumn(&assignment.Remainder, false),
		RemainderSalt:    utxo.FieldToBig(assignment.Remainder.Salt),
	}
	w.Owner.Assign(tedwards.BN254, signer.PublicKeyBytes())
	w.Signature.Assign(tedwards.BN254, assignment.Signature)
	return w, assignment
}

// TestSpendCircuit_Satisfied 测试合法花费交易满足电路
func TestSpendCircuit_Satisfied(t *testing.T) {
	alice := testSigner(t, "alice")
	receiverSalt, remainderSalt := feOf(100), feOf(101)

	w, _ := spendWitness(t, alice, &utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          ownedUtxo(t, alice, 42),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
		ReceiverSalt:   &receiverSalt,
		RemainderSalt:  &remainderSalt,
	})

	err := test.IsSolved(&SpendCircuit{}, w, ecc.BN254.ScalarField())
	assert.NoError(t, err)
}

// TestSpendCircuit_RejectsTamperedAmount 测试篡改金额后电路不满足
func TestSpendCircuit_RejectsTamperedAmount(t *testing.T) {
	alice := testSigner(t, "alice")
	receiverSalt, remainderSalt := feOf(100), feOf(101)

	w, _ := spendWitness(t, alice, &utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          ownedUtxo(t, alice, 42),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
		ReceiverSalt:   &receiverSalt,
		RemainderSalt:  &remainderSalt,
	})

	// 声称转出300但接收方仍只有200：违反求和约束
	w.TransferAmount = 300
	err := test.IsSolved(&SpendCircuit{}, w, ecc.BN254.ScalarField())
	assert.Error(t, err)
}

// TestSpendCircuit_RejectsForeignSignature 测试他人签名不满足电路
func TestSpendCircuit_RejectsForeignSignature(t *testing.T) {
	alice := testSigner(t, "alice")
	mallory := testSigner(t, "mallory")
	receiverSalt, remainderSalt := feOf(100), feOf(101)

	w, assignment := spendWitness(t, alice, &utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          ownedUtxo(t, alice, 42),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
		ReceiverSalt:   &receiverSalt,
		RemainderSalt:  &remainderSalt,
	})

	// mallory对同一摘要的签名无法通过alice公钥的验证
	_, msg32 := utxo.SpendDigest(assignment.Remainder.RecipientPkX, feOf(7), 200, 10,
		assignment.ReceiverCommit, assignment.RemainderCommit)
	forged, err := mallory.SignDigest(msg32)
	require.NoError(t, err)
	w.Signature.Assign(tedwards.BN254, forged)

	err = test.IsSolved(&SpendCircuit{}, w, ecc.BN254.ScalarField())
	assert.Error(t, err)
}

func mergeWitness(t *testing.T, signer *keys.Keypair, req *utxo.MergeRequest) *MergeCircuit {
	t.Helper()
	assignment, err := utxo.BuildMergeAssignment(req)
	require.NoError(t, err)

	w := &MergeCircuit{
		In0Commitment: utxo.FieldToBig(assignment.In0Commit),
		In1Commitment: utxo.FieldToBig(assignment.In1Commit),
		OutCommitment: utxo.FieldToBig(assignment.OutCommit),
		In0Tokens:     varColumn(&req.Inputs[0], true),
		In0Amounts:    varColumn(&req.Inputs[0], false),
		In0Salt:       utxo.FieldToBig(req.Inputs[0].Salt),
		In1Tokens:     varColumn(&req.Inputs[1], true),
		In1Amounts:    varColumn(&req.Inputs[1], false),
		In1Salt:       utxo.FieldToBig(req.Inputs[1].Salt),
		OutTokens:     varColumn(&assignment.Output, true),
		OutAmounts:    varColumn(&assignment.Output, false),
		OutSalt:       utxo.FieldToBig(assignment.Output.Salt),
	}
	w.Owner.Assign(tedwards.BN254, signer.PublicKeyBytes())
	w.Signature.Assign(tedwards.BN254, assignment.Signature)
	return w
}

// TestMergeCircuit_Satisfied 测试合法合并交易满足电路
func TestMergeCircuit_Satisfied(t *testing.T) {
	alice := testSigner(t, "alice")
	outSalt := feOf(200)

	w := mergeWitness(t, alice, &utxo.MergeRequest{
		Signer:  alice,
		Inputs:  [2]utxo.Utxo{ownedUtxo(t, alice, 42), ownedUtxo(t, alice, 43)},
		OutSalt: &outSalt,
	})

	err := test.IsSolved(&MergeCircuit{}, w, ecc.BN254.ScalarField())
	assert.NoError(t, err)
}

// TestMergeCircuit_RejectsInflatedOutput 测试虚增输出金额不满足电路
func TestMergeCircuit_RejectsInflatedOutput(t *testing.T) {
	alice := testSigner(t, "alice")
	outSalt := feOf(200)

	w := mergeWitness(t, alice, &utxo.MergeRequest{
		Signer:  alice,
		Inputs:  [2]utxo.Utxo{ownedUtxo(t, alice, 42), ownedUtxo(t, alice, 43)},
		OutSalt: &outSalt,
	})

	w.OutAmounts[0] = uint64(999999)
	err := test.IsSolved(&MergeCircuit{}, w, ecc.BN254.ScalarField())
	assert.Error(t, err)
}

// TestSchemas_MatchCircuitLayout 测试模式展开数量与电路见证布局一致
func TestSchemas_MatchCircuitLayout(t *testing.T) {
	spendSchema, err := catalog.ParseSchema([]byte(SpendSchemaJSON))
	require.NoError(t, err)
	assert.Equal(t, 6, spendSchema.FlatCount(catalog.Public))
	assert.Equal(t, 33, spendSchema.FlatCount(catalog.Private),
		"owner(2) + signature(3) + 3x[tokens(4)+amounts(4)+salt(1)] + recipient_pk_x(1)")

	mergeSchema, err := catalog.ParseSchema([]byte(MergeSchemaJSON))
	require.NoError(t, err)
	assert.Equal(t, 3, mergeSchema.FlatCount(catalog.Public))
	assert.Equal(t, 32, mergeSchema.FlatCount(catalog.Private))
}

// TestSpendAssignment_EncodesAgainstSchema 测试交易构建产出的输入能通过模式编码
func TestSpendAssignment_EncodesAgainstSchema(t *testing.T) {
	alice := testSigner(t, "alice")
	assignment, err := utxo.BuildSpendAssignment(&utxo.SpendRequest{
		Signer:         alice,
		RecipientPkX:   feOf(555),
		Input:          ownedUtxo(t, alice, 42),
		TransferToken:  feOf(7),
		TransferAmount: 200,
		FeeAmount:      10,
	})
	require.NoError(t, err)

	schema, err := catalog.ParseSchema([]byte(SpendSchemaJSON))
	require.NoError(t, err)

	encoded, err := schema.EncodeInputs(assignment.Values)
	require.NoError(t, err)
	assert.Len(t, encoded.Public, 6)
	assert.Len(t, encoded.Private, 33)

	// 编码出的公开部分与assignment声明的公开输入一致
	for i := range assignment.PublicInputs {
		assert.Equal(t, 0, encoded.Public[i].Cmp(assignment.PublicInputs[i]))
	}
}

// TestMergeAssignment_EncodesAgainstSchema 测试合并交易输入能通过模式编码
func TestMergeAssignment_EncodesAgainstSchema(t *testing.T) {
	alice := testSigner(t, "alice")
	assignment, err := utxo.BuildMergeAssignment(&utxo.MergeRequest{
		Signer: alice,
		Inputs: [2]utxo.Utxo{ownedUtxo(t, alice, 42), ownedUtxo(t, alice, 43)},
	})
	require.NoError(t, err)

	schema, err := catalog.ParseSchema([]byte(MergeSchemaJSON))
	require.NoError(t, err)

	encoded, err := schema.EncodeInputs(assignment.Values)
	require.NoError(t, err)
	assert.Len(t, encoded.Public, 3)
	assert.Len(t, encoded.Private, 32)
}

// TestBundles_CompileOnce 测试内建电路编译结果进程内缓存
func TestBundles_CompileOnce(t *testing.T) {
	first, err := Bundles()
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := Bundles()
	require.NoError(t, err)
	require.Len(t, second, 2)

	// 重复调用返回同一批工件包，不重新编译
	for i := range first {
		assert.Same(t, first[i], second[i], "工件包应被缓存复用")
	}
}
