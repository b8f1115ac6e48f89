// Package batch 提供把已证明交易组装为绑定区块的辅助逻辑
//
// 🎯 **专门职责**：
// 叶子哈希、确定性排序、配对完整性（奇数尾部延后）、逐对
// Poseidon2折叠根和清单哈希。叶子哈希与清单哈希使用域分离
// 标签，保证不同用途的哈希互不混淆。
package batch

import (
	"bytes"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/weisyn/zkcircuits/internal/utxo"
)

// 哈希域分离标签
const (
	// LeafSpendTag 花费交易叶子标签
	LeafSpendTag = 11
	// LeafMergeTag 合并交易叶子标签
	LeafMergeTag = 12
	// BatchTag 逐对折叠标签
	BatchTag = 20
	// ManifestTag 清单哈希标签
	ManifestTag = 40
)

// HashSpendLeaf 计算花费交易的叶子哈希
func HashSpendLeaf(inCommit, outCommit0, outCommit1, transferToken fr.Element, transferAmount, feeAmount uint64) fr.Element {
	var tag, amount, fee fr.Element
	tag.SetUint64(LeafSpendTag)
	amount.SetUint64(transferAmount)
	fee.SetUint64(feeAmount)
	return utxo.HashFields(tag, inCommit, outCommit0, outCommit1, transferToken, amount, fee)
}

// HashMergeLeaf 计算合并交易的叶子哈希
func HashMergeLeaf(inCommit0, inCommit1, outCommit fr.Element) fr.Element {
	var tag fr.Element
	tag.SetUint64(LeafMergeTag)
	return utxo.HashFields(tag, inCommit0, inCommit1, outCommit)
}

// H2 逐对折叠的组合函数
func H2(left, right fr.Element) fr.Element {
	var tag fr.Element
	tag.SetUint64(BatchTag)
	return utxo.HashFields(tag, left, right)
}

// HashManifest 计算区块清单哈希（覆盖有序叶子、区块号和账本根）
func HashManifest(blockID uint64, acceptanceRoot fr.Element, leafHashes []fr.Element) fr.Element {
	leavesDigest := utxo.HashFields(leafHashes...)
	var tag, id, count fr.Element
	tag.SetUint64(ManifestTag)
	id.SetUint64(blockID)
	count.SetUint64(uint64(len(leafHashes)))
	return utxo.HashFields(tag, id, acceptanceRoot, count, leavesDigest)
}

// BindingLeaf 单笔交易的哈希绑定
type BindingLeaf struct {
	// LeafID 调用方选择的标识（如交易哈希），随区块透传
	LeafID []byte
	// LeafHash 电路产出的Poseidon2叶子哈希
	LeafHash fr.Element
}

// BindingBlock 完整绑定的区块清单，含可选的延后尾叶
type BindingBlock struct {
	// BlockID 区块顺序号
	BlockID uint64
	// AcceptanceRoot 所有输入验证所依据的账本根
	AcceptanceRoot fr.Element
	// Leaves 偶数长度的叶子序列
	Leaves []BindingLeaf
	// Deferred 输入数量为奇数时延后的最后一叶
	Deferred *BindingLeaf
}

// ManifestHash 覆盖有序叶子、区块号和账本根的Poseidon2哈希
func (b *BindingBlock) ManifestHash() fr.Element {
	hashes := make([]fr.Element, len(b.Leaves))
	for i := range b.Leaves {
		hashes[i] = b.Leaves[i].LeafHash
	}
	return HashManifest(b.BlockID, b.AcceptanceRoot, hashes)
}

// CanonicalRootEven 偶数长度叶子序列的逐对折叠根
//
// 序列为空或长度为奇数时返回false。
func (b *BindingBlock) CanonicalRootEven() (fr.Element, bool) {
	hashes := make([]fr.Element, len(b.Leaves))
	for i := range b.Leaves {
		hashes[i] = b.Leaves[i].LeafHash
	}
	return CanonicalRootEven(hashes)
}

// PlanBlock 从已排序的叶子列表构建绑定区块
//
// 执行配对完整性策略：长度为奇数时把最后一叶移入Deferred，
// 偶数前缀用于计算清单哈希和折叠根。
func PlanBlock(blockID uint64, acceptanceRoot fr.Element, leaves []BindingLeaf) *BindingBlock {
	block := &BindingBlock{
		BlockID:        blockID,
		AcceptanceRoot: acceptanceRoot,
		Leaves:         leaves,
	}
	if len(leaves)%2 == 1 {
		tail := leaves[len(leaves)-1]
		block.Deferred = &tail
		block.Leaves = leaves[:len(leaves)-1]
	}
	return block
}

// CandidateLeaf 待排序的候选叶子
type CandidateLeaf struct {
	// LeafID 调用方标识
	LeafID []byte
	// LeafHash 声称的叶子哈希
	LeafHash fr.Element
	// ArrivalTimeNs 到达时间（主排序键）
	ArrivalTimeNs uint64
	// PublisherID 发布者标识（最终平局键）
	PublisherID [32]byte
}

// PlanBlockFromCandidates 确定性排序候选叶子并构建配对完整的区块
//
// 排序键为(arrival_time, leaf_hash, publisher_id)，结果跨运行稳定。
func PlanBlockFromCandidates(blockID uint64, acceptanceRoot fr.Element, candidates []CandidateLeaf) *BindingBlock {
	sorted := make([]CandidateLeaf, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return candidateLess(sorted[i].ArrivalTimeNs, sorted[i].LeafHash, sorted[i].PublisherID,
			sorted[j].ArrivalTimeNs, sorted[j].LeafHash, sorted[j].PublisherID)
	})

	leaves := make([]BindingLeaf, len(sorted))
	for i := range sorted {
		leaves[i] = BindingLeaf{LeafID: sorted[i].LeafID, LeafHash: sorted[i].LeafHash}
	}
	return PlanBlock(blockID, acceptanceRoot, leaves)
}

func candidateLess(aTime uint64, aHash fr.Element, aPub [32]byte, bTime uint64, bHash fr.Element, bPub [32]byte) bool {
	if aTime != bTime {
		return aTime < bTime
	}
	aBytes, bBytes := aHash.Bytes(), bHash.Bytes()
	if cmp := bytes.Compare(aBytes[:], bBytes[:]); cmp != 0 {
		return cmp < 0
	}
	return bytes.Compare(aPub[:], bPub[:]) < 0
}

// LeafKind 叶子记录种类
type LeafKind int

const (
	// LeafSpend 花费交易记录
	LeafSpend LeafKind = iota
	// LeafMerge 合并交易记录
	LeafMerge
)

// LeafRecord 从提交的交易重建的叶子记录
type LeafRecord struct {
	Kind LeafKind

	// 花费记录字段
	InCommit       fr.Element
	OutCommit0     fr.Element
	OutCommit1     fr.Element
	TransferToken  fr.Element
	TransferAmount uint64
	FeeAmount      uint64

	// 合并记录字段
	InCommit0 fr.Element
	InCommit1 fr.Element
	OutCommit fr.Element
}

// RecomputeLeafHash 按记录内容重算叶子哈希
func (r *LeafRecord) RecomputeLeafHash() fr.Element {
	if r.Kind == LeafSpend {
		return HashSpendLeaf(r.InCommit, r.OutCommit0, r.OutCommit1, r.TransferToken, r.TransferAmount, r.FeeAmount)
	}
	return HashMergeLeaf(r.InCommit0, r.InCommit1, r.OutCommit)
}

// Inputs 返回记录消耗的承诺
func (r *LeafRecord) Inputs() []fr.Element {
	if r.Kind == LeafSpend {
		return []fr.Element{r.InCommit}
	}
	return []fr.Element{r.InCommit0, r.InCommit1}
}

// Outputs 返回记录产出的承诺
func (r *LeafRecord) Outputs() []fr.Element {
	if r.Kind == LeafSpend {
		return []fr.Element{r.OutCommit0, r.OutCommit1}
	}
	return []fr.Element{r.OutCommit}
}

// CandidateWithRecord 携带完整记录的候选叶子
type CandidateWithRecord struct {
	// LeafID 调用方标识
	LeafID []byte
	// ArrivalTimeNs 到达时间
	ArrivalTimeNs uint64
	// PublisherID 发布者标识
	PublisherID [32]byte
	// Record 从交易重建的叶子记录
	Record LeafRecord
	// DeclaredLeafHash 声称的叶子哈希（纳入前校验）
	DeclaredLeafHash fr.Element
}

// ValidateAndPlanBlock 校验候选叶子（哈希一致性、输入可用性）并规划区块
//
// membershipExists回答"该承诺是否存在于账本"。区块内产出的承诺
// 可被后续叶子消耗；重复消耗的叶子被丢弃。
func ValidateAndPlanBlock(blockID uint64, acceptanceRoot fr.Element, candidates []CandidateWithRecord, membershipExists func(fr.Element) bool) *BindingBlock {
	sorted := make([]CandidateWithRecord, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return candidateLess(sorted[i].ArrivalTimeNs, sorted[i].DeclaredLeafHash, sorted[i].PublisherID,
			sorted[j].ArrivalTimeNs, sorted[j].DeclaredLeafHash, sorted[j].PublisherID)
	})

	produced := make(map[[32]byte]bool)
	consumed := make(map[[32]byte]bool)
	var leaves []BindingLeaf

	for i := range sorted {
		cand := &sorted[i]
		recomputed := cand.Record.RecomputeLeafHash()
		if !recomputed.Equal(&cand.DeclaredLeafHash) {
			continue
		}
		if !inputsAvailable(&cand.Record, membershipExists, produced, consumed) {
			continue
		}

		for _, in := range cand.Record.Inputs() {
			consumed[in.Bytes()] = true
		}
		for _, out := range cand.Record.Outputs() {
			produced[out.Bytes()] = true
		}
		leaves = append(leaves, BindingLeaf{LeafID: cand.LeafID, LeafHash: cand.DeclaredLeafHash})
	}

	return PlanBlock(blockID, acceptanceRoot, leaves)
}

// inputsAvailable 检查记录的所有输入是否可用且未被消耗
func inputsAvailable(record *LeafRecord, membershipExists func(fr.Element) bool, produced, consumed map[[32]byte]bool) bool {
	for _, in := range record.Inputs() {
		key := in.Bytes()
		exists := membershipExists(in) || produced[key]
		if !exists || consumed[key] {
			return false
		}
	}
	return true
}

// CanonicalRootEven 用H2组合函数逐对折叠偶数长度的叶子哈希序列
func CanonicalRootEven(hashes []fr.Element) (fr.Element, bool) {
	if len(hashes) == 0 || len(hashes)%2 == 1 {
		return fr.Element{}, false
	}
	level := make([]fr.Element, len(hashes))
	copy(level, hashes)
	for len(level) > 1 {
		next := make([]fr.Element, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, H2(level[i], level[i+1]))
		}
		// 中间层长度为奇数时，尾叶原样升入上一层
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0], true
}
