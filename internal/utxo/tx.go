package utxo

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/weisyn/zkcircuits/internal/keys"
)

// ============================================================================
//                      交易构建（花费 / 合并）
// ============================================================================
//
// 🎯 **设计目的**：
// 把强类型的交易请求翻译为电路模式（schema）要求的具名输入映射，
// 并在链下预先计算承诺、摘要和签名。所有对电路见证布局的了解都
// 集中在这里，调用方不需要接触槽位细节。
//
// ============================================================================

// SpendRequest 花费交易请求
type SpendRequest struct {
	// Signer 授权交易的密钥对
	Signer *keys.Keypair

	// RecipientPkX 接收者公钥x坐标
	RecipientPkX fr.Element

	// Input 被消耗的UTXO，其RecipientPkX必须等于Signer的公钥x坐标
	Input Utxo

	// TransferToken 转出的代币
	TransferToken fr.Element

	// TransferAmount 转出金额
	TransferAmount uint64

	// FeeAmount 手续费（从槽位0扣除）
	FeeAmount uint64

	// ReceiverSalt / RemainderSalt 输出承诺的盐，零值时随机采样
	ReceiverSalt  *fr.Element
	RemainderSalt *fr.Element
}

// SpendAssignment 展开后的花费交易输入
type SpendAssignment struct {
	// Values 按utxo_spend模式命名的输入映射
	Values map[string]any

	// PublicInputs 公开输入，顺序与模式公开槽位一致
	PublicInputs []*big.Int

	// Receiver / Remainder 派生的两个输出UTXO
	Receiver  Utxo
	Remainder Utxo

	// InCommit / ReceiverCommit / RemainderCommit 三个承诺
	InCommit        fr.Element
	ReceiverCommit  fr.Element
	RemainderCommit fr.Element

	// Digest 交易摘要；Signature 持有者对摘要的签名
	Digest    fr.Element
	Signature []byte
}

// BuildSpendAssignment 派生输出、计算承诺与摘要、签名并展开为电路输入
func BuildSpendAssignment(req *SpendRequest) (*SpendAssignment, error) {
	if req.Signer == nil {
		return nil, fmt.Errorf("spend request missing signer")
	}
	ownerX, ownerY := req.Signer.PublicKeyXY()

	var ownerXFe fr.Element
	ownerXFe.SetBigInt(ownerX)
	if !req.Input.RecipientPkX.Equal(&ownerXFe) {
		return nil, fmt.Errorf("spend input utxo recipient key does not match signer key")
	}

	// 定位转出代币所在槽位（必须存在且唯一）
	transferSlot := -1
	for i := 0; i < MaxAssets; i++ {
		if req.Input.Assets[i].Token.Equal(&req.TransferToken) {
			if transferSlot >= 0 {
				return nil, fmt.Errorf("duplicate transfer token slots detected")
			}
			transferSlot = i
		}
	}
	if transferSlot < 0 {
		return nil, fmt.Errorf("transfer token not present in input UTXO")
	}

	// 派生接收方与找零的金额布局：手续费从槽位0扣除
	var receiverAmounts, remainderAmounts [MaxAssets]uint64
	for i := 0; i < MaxAssets; i++ {
		remainderAmounts[i] = req.Input.Assets[i].Amount
	}
	receiverAmounts[transferSlot] = req.TransferAmount
	if transferSlot == 0 {
		if req.Input.Assets[0].Amount < req.TransferAmount+req.FeeAmount {
			return nil, fmt.Errorf("insufficient funds for transfer and fee")
		}
		remainderAmounts[0] = req.Input.Assets[0].Amount - req.TransferAmount - req.FeeAmount
	} else {
		if req.Input.Assets[transferSlot].Amount < req.TransferAmount {
			return nil, fmt.Errorf("insufficient funds for transfer")
		}
		remainderAmounts[transferSlot] = req.Input.Assets[transferSlot].Amount - req.TransferAmount
		if req.Input.Assets[0].Amount < req.FeeAmount {
			return nil, fmt.Errorf("insufficient funds to pay fee from slot 0")
		}
		remainderAmounts[0] = req.Input.Assets[0].Amount - req.FeeAmount
	}

	receiverSalt, err := resolveSalt(req.ReceiverSalt)
	if err != nil {
		return nil, err
	}
	remainderSalt, err := resolveSalt(req.RemainderSalt)
	if err != nil {
		return nil, err
	}

	receiver := Utxo{RecipientPkX: req.RecipientPkX, Salt: receiverSalt}
	remainder := Utxo{RecipientPkX: ownerXFe, Salt: remainderSalt}
	for i := 0; i < MaxAssets; i++ {
		receiver.Assets[i] = Asset{Amount: receiverAmounts[i]}
		if i == transferSlot {
			receiver.Assets[i].Token = req.TransferToken
		}
		remainder.Assets[i] = Asset{Token: req.Input.Assets[i].Token, Amount: remainderAmounts[i]}
	}

	inCommit := req.Input.Commitment()
	receiverCommit := receiver.Commitment()
	remainderCommit := remainder.Commitment()
	digest, msg32 := SpendDigest(ownerXFe, req.TransferToken, req.TransferAmount, req.FeeAmount, receiverCommit, remainderCommit)

	sig, err := req.Signer.SignDigest(msg32)
	if err != nil {
		return nil, err
	}
	sigRX, sigRY, sigS, err := keys.DecodeSignature(sig)
	if err != nil {
		return nil, err
	}

	values := map[string]any{
		"in_commitment":        FieldToBig(inCommit),
		"receiver_commitment":  FieldToBig(receiverCommit),
		"remainder_commitment": FieldToBig(remainderCommit),
		"transfer_token":       FieldToBig(req.TransferToken),
		"transfer_amount":      req.TransferAmount,
		"fee_amount":           req.FeeAmount,
		"owner":                map[string]any{"a_x": ownerX, "a_y": ownerY},
		"signature":            map[string]any{"r_x": sigRX, "r_y": sigRY, "s": sigS},
		"in_tokens":            tokenColumn(&req.Input),
		"in_amounts":           amountColumn(&req.Input),
		"in_salt":              FieldToBig(req.Input.Salt),
		"recipient_pk_x":       FieldToBig(req.RecipientPkX),
		"receiver_tokens":      tokenColumn(&receiver),
		"receiver_amounts":     amountColumn(&receiver),
		"receiver_salt":        FieldToBig(receiverSalt),
		"remainder_tokens":     tokenColumn(&remainder),
		"remainder_amounts":    amountColumn(&remainder),
		"remainder_salt":       FieldToBig(remainderSalt),
	}

	publicInputs := []*big.Int{
		FieldToBig(inCommit),
		FieldToBig(receiverCommit),
		FieldToBig(remainderCommit),
		FieldToBig(req.TransferToken),
		new(big.Int).SetUint64(req.TransferAmount),
		new(big.Int).SetUint64(req.FeeAmount),
	}

	return &SpendAssignment{
		Values:          values,
		PublicInputs:    publicInputs,
		Receiver:        receiver,
		Remainder:       remainder,
		InCommit:        inCommit,
		ReceiverCommit:  receiverCommit,
		RemainderCommit: remainderCommit,
		Digest:          digest,
		Signature:       sig,
	}, nil
}

// MergeRequest 合并交易请求
type MergeRequest struct {
	// Signer 授权交易的密钥对，两个输入都必须归属该密钥
	Signer *keys.Keypair

	// Inputs 被合并的两个UTXO，代币布局必须一致
	Inputs [2]Utxo

	// OutSalt 输出承诺的盐，零值时随机采样
	OutSalt *fr.Element
}

// MergeAssignment 展开后的合并交易输入
type MergeAssignment struct {
	// Values 按utxo_merge模式命名的输入映射
	Values map[string]any

	// PublicInputs 公开输入：两个输入承诺与输出承诺
	PublicInputs []*big.Int

	// Output 合并后的UTXO
	Output Utxo

	// In0Commit / In1Commit / OutCommit 三个承诺
	In0Commit fr.Element
	In1Commit fr.Element
	OutCommit fr.Element

	// Digest 交易摘要；Signature 持有者对摘要的签名
	Digest    fr.Element
	Signature []byte
}

// BuildMergeAssignment 派生合并输出、计算承诺与摘要、签名并展开为电路输入
func BuildMergeAssignment(req *MergeRequest) (*MergeAssignment, error) {
	if req.Signer == nil {
		return nil, fmt.Errorf("merge request missing signer")
	}
	ownerX, ownerY := req.Signer.PublicKeyXY()

	var ownerXFe fr.Element
	ownerXFe.SetBigInt(ownerX)
	for i := range req.Inputs {
		if !req.Inputs[i].RecipientPkX.Equal(&ownerXFe) {
			return nil, fmt.Errorf("merge input %d recipient key does not match signer key", i)
		}
	}

	output := Utxo{RecipientPkX: ownerXFe}
	for i := 0; i < MaxAssets; i++ {
		if !req.Inputs[0].Assets[i].Token.Equal(&req.Inputs[1].Assets[i].Token) {
			return nil, fmt.Errorf("merge inputs have divergent token layouts at slot %d", i)
		}
		sum := req.Inputs[0].Assets[i].Amount + req.Inputs[1].Assets[i].Amount
		if sum < req.Inputs[0].Assets[i].Amount {
			return nil, fmt.Errorf("merged amount overflows at slot %d", i)
		}
		output.Assets[i] = Asset{Token: req.Inputs[0].Assets[i].Token, Amount: sum}
	}

	outSalt, err := resolveSalt(req.OutSalt)
	if err != nil {
		return nil, err
	}
	output.Salt = outSalt

	in0Commit := req.Inputs[0].Commitment()
	in1Commit := req.Inputs[1].Commitment()
	outCommit := output.Commitment()
	digest, msg32 := MergeDigest(ownerXFe, outCommit)

	sig, err := req.Signer.SignDigest(msg32)
	if err != nil {
		return nil, err
	}
	sigRX, sigRY, sigS, err := keys.DecodeSignature(sig)
	if err != nil {
		return nil, err
	}

	values := map[string]any{
		"in0_commitment": FieldToBig(in0Commit),
		"in1_commitment": FieldToBig(in1Commit),
		"out_commitment": FieldToBig(outCommit),
		"owner":          map[string]any{"a_x": ownerX, "a_y": ownerY},
		"signature":      map[string]any{"r_x": sigRX, "r_y": sigRY, "s": sigS},
		"in0_tokens":     tokenColumn(&req.Inputs[0]),
		"in0_amounts":    amountColumn(&req.Inputs[0]),
		"in0_salt":       FieldToBig(req.Inputs[0].Salt),
		"in1_tokens":     tokenColumn(&req.Inputs[1]),
		"in1_amounts":    amountColumn(&req.Inputs[1]),
		"in1_salt":       FieldToBig(req.Inputs[1].Salt),
		"out_tokens":     tokenColumn(&output),
		"out_amounts":    amountColumn(&output),
		"out_salt":       FieldToBig(outSalt),
	}

	publicInputs := []*big.Int{
		FieldToBig(in0Commit),
		FieldToBig(in1Commit),
		FieldToBig(outCommit),
	}

	return &MergeAssignment{
		Values:       values,
		PublicInputs: publicInputs,
		Output:       output,
		In0Commit:    in0Commit,
		In1Commit:    in1Commit,
		OutCommit:    outCommit,
		Digest:       digest,
		Signature:    sig,
	}, nil
}

func resolveSalt(salt *fr.Element) (fr.Element, error) {
	if salt != nil {
		return *salt, nil
	}
	return RandomSalt()
}

func tokenColumn(u *Utxo) []*big.Int {
	column := make([]*big.Int, MaxAssets)
	for i := 0; i < MaxAssets; i++ {
		column[i] = FieldToBig(u.Assets[i].Token)
	}
	return column
}

func amountColumn(u *Utxo) []*big.Int {
	column := make([]*big.Int, MaxAssets)
	for i := 0; i < MaxAssets; i++ {
		column[i] = new(big.Int).SetUint64(u.Assets[i].Amount)
	}
	return column
}
