package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ============================================================================
//                         电路工件包与清单（Manifest）
// ============================================================================

// ArtifactBundle 一个电路的完整工件集合
//
// 🎯 **组成**：序列化约束系统（字节码）+ 输入模式 + 可选的预生成
// 密钥对。内容哈希在构造时对字节码计算，注册时与清单比对。
type ArtifactBundle struct {
	// Name 电路名称（目录内唯一）
	Name string

	// Bytecode 序列化的约束系统
	Bytecode []byte

	// SchemaJSON JSON格式的输入模式
	SchemaJSON []byte

	// ProvingKey 可选的预生成证明密钥
	ProvingKey []byte

	// VerifyingKey 可选的预生成验证密钥
	VerifyingKey []byte

	// ContentHash 字节码的SHA-256哈希
	ContentHash [32]byte
}

// NewBundle 构造工件包并计算内容哈希
func NewBundle(name string, bytecode, schemaJSON []byte) *ArtifactBundle {
	return &ArtifactBundle{
		Name:        name,
		Bytecode:    bytecode,
		SchemaJSON:  schemaJSON,
		ContentHash: sha256.Sum256(bytecode),
	}
}

// WithKeys 附加预生成的密钥对（如writevk工具产出）
func (b *ArtifactBundle) WithKeys(provingKey, verifyingKey []byte) *ArtifactBundle {
	b.ProvingKey = provingKey
	b.VerifyingKey = verifyingKey
	return b
}

// ManifestEntry 清单中单个电路的记录
type ManifestEntry struct {
	// Hash 字节码的SHA-256哈希（hex编码）
	Hash string `json:"hash"`

	// Bytecode 字节码文件名（相对工件目录）
	Bytecode string `json:"bytecode"`

	// Schema 模式文件名
	Schema string `json:"schema"`

	// ProvingKey 证明密钥文件名（可选）
	ProvingKey string `json:"proving_key,omitempty"`

	// VerifyingKey 验证密钥文件名（可选）
	VerifyingKey string `json:"verifying_key,omitempty"`
}

// Manifest 电路名称到预期工件记录的映射
//
// 清单仅在注册时参考一次；哈希不符是硬失败，绝不降级继续。
type Manifest struct {
	Circuits map[string]ManifestEntry `json:"circuits"`
}

// LoadManifest 从磁盘加载JSON清单
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapMalformedArtifactError("", fmt.Sprintf("read manifest: %v", err))
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, WrapMalformedArtifactError("", fmt.Sprintf("parse manifest: %v", err))
	}
	if len(manifest.Circuits) == 0 {
		return nil, WrapMalformedArtifactError("", "manifest lists no circuits")
	}
	return &manifest, nil
}

// LoadBundle 按清单记录从工件目录加载一个电路的工件包
//
// 字节码哈希与清单记录不符时返回ErrIntegrityMismatch。
func LoadBundle(dir, name string, entry ManifestEntry) (*ArtifactBundle, error) {
	bytecode, err := os.ReadFile(filepath.Join(dir, entry.Bytecode))
	if err != nil {
		return nil, WrapMalformedArtifactError(name, fmt.Sprintf("read bytecode: %v", err))
	}
	schemaJSON, err := os.ReadFile(filepath.Join(dir, entry.Schema))
	if err != nil {
		return nil, WrapMalformedArtifactError(name, fmt.Sprintf("read schema: %v", err))
	}

	bundle := NewBundle(name, bytecode, schemaJSON)

	actual := hex.EncodeToString(bundle.ContentHash[:])
	if entry.Hash != actual {
		return nil, WrapIntegrityMismatchError(name, entry.Hash, actual)
	}

	if entry.ProvingKey != "" && entry.VerifyingKey != "" {
		provingKey, err := os.ReadFile(filepath.Join(dir, entry.ProvingKey))
		if err != nil {
			return nil, WrapMalformedArtifactError(name, fmt.Sprintf("read proving key: %v", err))
		}
		verifyingKey, err := os.ReadFile(filepath.Join(dir, entry.VerifyingKey))
		if err != nil {
			return nil, WrapMalformedArtifactError(name, fmt.Sprintf("read verifying key: %v", err))
		}
		bundle.WithKeys(provingKey, verifyingKey)
	}
	return bundle, nil
}
