// writevk - 电路工件生成工具
//
// 编译内置电路，执行可信设置，把字节码、模式、密钥对和清单写入
// 工件目录。生成的目录可直接被RegisterFromManifest加载，运行时
// 不再重复执行可信设置。
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/weisyn/zkcircuits/internal/catalog"
	"github.com/weisyn/zkcircuits/internal/circuits"
	"github.com/weisyn/zkcircuits/internal/engine"
	"github.com/weisyn/zkcircuits/pkg/log"
)

var (
	outDir      string
	circuitName string
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "writevk",
	Short: "电路工件生成工具",
	Long: `writevk - 零知识电路工件生成工具

编译内置电路（utxo_spend / utxo_merge），执行Groth16可信设置，
并把以下工件写入输出目录:
  <name>.ccs   序列化约束系统
  <name>.json  输入模式
  <name>.pk    证明密钥
  <name>.vk    验证密钥
  manifest.json 清单（含字节码SHA-256哈希）

生成的目录可通过清单直接注册，进程启动时跳过可信设置。`,
	RunE: runWriteVK,
}

func init() {
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "artifacts", "工件输出目录")
	rootCmd.Flags().StringVarP(&circuitName, "circuit", "c", "all", "电路名称 (utxo_spend|utxo_merge|all)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}

func runWriteVK(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录: %w", err)
	}

	bundles, err := circuits.Bundles()
	if err != nil {
		return fmt.Errorf("编译内置电路: %w", err)
	}

	selected := make([]*catalog.ArtifactBundle, 0, len(bundles))
	for _, bundle := range bundles {
		if circuitName == "all" || circuitName == bundle.Name {
			selected = append(selected, bundle)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("未知电路名称: %s", circuitName)
	}

	eng := engine.NewGnarkEngine(log.Nop())
	manifest := catalog.Manifest{Circuits: make(map[string]catalog.ManifestEntry)}

	for _, bundle := range selected {
		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("生成电路工件: %s", bundle.Name))

		provingKey, verifyingKey, err := eng.DeriveKeys(context.Background(), bundle.Bytecode)
		if err != nil {
			spinner.Fail(fmt.Sprintf("可信设置失败: %s", bundle.Name))
			return err
		}

		files := map[string][]byte{
			bundle.Name + ".ccs":  bundle.Bytecode,
			bundle.Name + ".json": bundle.SchemaJSON,
			bundle.Name + ".pk":   provingKey,
			bundle.Name + ".vk":   verifyingKey,
		}
		for name, data := range files {
			if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
				spinner.Fail(fmt.Sprintf("写入工件失败: %s", name))
				return err
			}
		}

		hash := sha256.Sum256(bundle.Bytecode)
		manifest.Circuits[bundle.Name] = catalog.ManifestEntry{
			Hash:         hex.EncodeToString(hash[:]),
			Bytecode:     bundle.Name + ".ccs",
			Schema:       bundle.Name + ".json",
			ProvingKey:   bundle.Name + ".pk",
			VerifyingKey: bundle.Name + ".vk",
		}

		spinner.Success(fmt.Sprintf("电路工件已生成: %s (vk %d字节, pk %d字节)",
			bundle.Name, len(verifyingKey), len(provingKey)))
	}

	manifestJSON, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("编码清单: %w", err)
	}
	manifestPath := filepath.Join(outDir, "manifest.json")
	if err := os.WriteFile(manifestPath, manifestJSON, 0o644); err != nil {
		return fmt.Errorf("写入清单: %w", err)
	}

	pterm.Success.Printf("清单已写入: %s (%d个电路)\n", manifestPath, len(manifest.Circuits))
	return nil
}
