// Package zkcircuits 提供零知识电路目录与证明组合层的统一门面
//
// ============================================================================
//                      zkcircuits - 电路目录与证明组合
// ============================================================================
//
// 🎯 **核心能力**：
// 1. 进程级电路目录：注册、至多一次的并发实例化、状态查询
// 2. 证明门面：具名输入编码、证明生成、证明验证
// 3. 证明组合：两个证明递归合并为一个，合并证明可再合并
//
// 🏗️ **架构角色**：
// 本包是库的唯一入口。内部依赖注入引擎、目录和聚合器，调用方
// 通过Library句柄（或进程级Default()单例）访问全部能力，不接触
// gnark类型。
//
// ============================================================================
package zkcircuits

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weisyn/zkcircuits/internal/aggregate"
	"github.com/weisyn/zkcircuits/internal/catalog"
	"github.com/weisyn/zkcircuits/internal/circuits"
	"github.com/weisyn/zkcircuits/internal/engine"
	"github.com/weisyn/zkcircuits/pkg/log"
)

// 重导出领域类型，调用方不需要导入internal包
type (
	// Proof 序列化证明及其公开部分
	Proof = engine.Proof

	// MergedProof 合并两个证明得到的单一证明
	MergedProof = engine.MergedProof

	// Operand 证明合并的自包含操作数
	Operand = engine.Operand

	// EncodedWitness 展开后的扁平见证输入
	EncodedWitness = engine.EncodedWitness

	// CircuitHandle 可证明的电路句柄
	CircuitHandle = engine.CircuitHandle

	// ArtifactBundle 电路工件包
	ArtifactBundle = catalog.ArtifactBundle

	// Descriptor 目录条目快照
	Descriptor = catalog.Descriptor

	// Schema 电路输入模式
	Schema = catalog.Schema

	// Manifest 工件目录清单
	Manifest = catalog.Manifest
)

// 重导出内置电路名称
const (
	// SpendCircuitName 花费电路
	SpendCircuitName = circuits.SpendCircuitName

	// MergeCircuitName 合并电路
	MergeCircuitName = circuits.MergeCircuitName
)

// Options 库初始化选项
type Options struct {
	// Logger 结构化日志器，nil时使用空实现
	Logger log.Logger

	// Registerer Prometheus注册器，nil时不导出指标
	Registerer prometheus.Registerer

	// Config 目录配置，nil时使用默认配置
	Config *catalog.Config
}

// libraryMetrics 门面层运行指标
type libraryMetrics struct {
	proofs        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	merges        *prometheus.CounterVec
	proveSeconds  prometheus.Histogram
	mergeSeconds  prometheus.Histogram
}

func newLibraryMetrics(reg prometheus.Registerer) *libraryMetrics {
	factory := promauto.With(reg)
	return &libraryMetrics{
		proofs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkcircuits",
			Subsystem: "facade",
			Name:      "proofs_total",
			Help:      "Number of proof generation attempts by result.",
		}, []string{"result"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkcircuits",
			Subsystem: "facade",
			Name:      "verifications_total",
			Help:      "Number of proof verification attempts by result.",
		}, []string{"result"}),
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkcircuits",
			Subsystem: "facade",
			Name:      "merges_total",
			Help:      "Number of proof composition attempts by result.",
		}, []string{"result"}),
		proveSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zkcircuits",
			Subsystem: "facade",
			Name:      "prove_duration_seconds",
			Help:      "Wall time spent generating proofs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		mergeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zkcircuits",
			Subsystem: "facade",
			Name:      "merge_duration_seconds",
			Help:      "Wall time spent composing proofs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Library 电路目录与证明组合层的句柄
type Library struct {
	logger     log.Logger
	engine     engine.Engine
	catalog    *catalog.Catalog
	aggregator *aggregate.Aggregator
	metrics    *libraryMetrics
}

// New 创建库实例
func New(opts *Options) *Library {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	var catalogMetrics *catalog.Metrics
	var facadeMetrics *libraryMetrics
	if opts.Registerer != nil {
		catalogMetrics = catalog.NewMetrics(opts.Registerer)
		facadeMetrics = newLibraryMetrics(opts.Registerer)
	}

	eng := engine.NewGnarkEngine(logger)
	cat := catalog.NewCatalog(logger, eng, opts.Config, catalogMetrics)
	return &Library{
		logger:     logger,
		engine:     eng,
		catalog:    cat,
		aggregator: aggregate.NewAggregator(logger, cat, eng),
		metrics:    facadeMetrics,
	}
}

// InitDefault 编译内置电路（花费/合并）并注册、并行实例化
//
// 幂等：重复调用不会重做已完成的工作。
func (l *Library) InitDefault(ctx context.Context) error {
	bundles, err := circuits.Bundles()
	if err != nil {
		return err
	}
	return l.catalog.InitBundles(ctx, bundles)
}

// Register 注册电路工件包（不触发实例化）
func (l *Library) Register(bundle *ArtifactBundle) error {
	return l.catalog.Register(bundle)
}

// RegisterFromManifest 按清单从工件目录批量注册
func (l *Library) RegisterFromManifest(dir string, manifest *Manifest) error {
	return l.catalog.RegisterFromManifest(dir, manifest)
}

// Hydrate 将电路实例化为可证明状态（并发安全、至多一次）
func (l *Library) Hydrate(ctx context.Context, name string) (CircuitHandle, error) {
	return l.catalog.Hydrate(ctx, name)
}

// Lookup 非阻塞地返回电路条目快照
func (l *Library) Lookup(name string) (*Descriptor, bool) {
	return l.catalog.Lookup(name)
}

// Schema 返回已注册电路的输入模式
func (l *Library) Schema(name string) (*Schema, error) {
	return l.catalog.Schema(name)
}

// EncodeInputs 按电路模式将具名输入编码为扁平见证布局
func (l *Library) EncodeInputs(name string, values map[string]any) (*EncodedWitness, error) {
	return l.catalog.EncodeInputs(name, values)
}

// Prove 生成证明
//
// 电路未实例化时先触发实例化（复用目录的至多一次语义）。
func (l *Library) Prove(ctx context.Context, name string, w *EncodedWitness) (*Proof, error) {
	handle, err := l.catalog.Hydrate(ctx, name)
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	proof, err := l.engine.Prove(ctx, handle, w)
	if l.metrics != nil {
		l.metrics.proofs.WithLabelValues(resultLabel(err)).Inc()
		if err == nil {
			l.metrics.proveSeconds.Observe(time.Since(startTime).Seconds())
		}
	}
	return proof, err
}

// ProveNamed 编码具名输入并生成证明
func (l *Library) ProveNamed(ctx context.Context, name string, values map[string]any) (*Proof, error) {
	w, err := l.catalog.EncodeInputs(name, values)
	if err != nil {
		return nil, err
	}
	return l.Prove(ctx, name, w)
}

// Verify 验证证明
//
// 密钥按证明的KeyID解析：优先查已实例化的目录条目，其次查
// 合并证明登记的派生密钥。密码学验证失败返回(false, nil)。
func (l *Library) Verify(ctx context.Context, proof *Proof) (bool, error) {
	ok, err := l.verify(ctx, proof)
	if l.metrics != nil {
		label := resultLabel(err)
		if err == nil && !ok {
			label = "rejected"
		}
		l.metrics.verifications.WithLabelValues(label).Inc()
	}
	return ok, err
}

func (l *Library) verify(ctx context.Context, proof *Proof) (bool, error) {
	if desc, ok := l.catalog.Lookup(proof.CircuitName); ok && desc.Handle != nil {
		return l.engine.Verify(ctx, desc.Handle.VerifyingKey(), proof)
	}
	record, err := l.catalog.VerifyingKeyByID(proof.KeyID)
	if err != nil {
		return false, err
	}
	return l.engine.Verify(ctx, record.VerifyingKey, proof)
}

// VerifyWithKey 用调用方提供的序列化验证密钥验证证明
func (l *Library) VerifyWithKey(ctx context.Context, verifyingKey []byte, proof *Proof) (bool, error) {
	return l.engine.Verify(ctx, verifyingKey, proof)
}

// MergeByName 按电路名称合并两个证明（顺序敏感）
func (l *Library) MergeByName(ctx context.Context, leftName string, leftProof *Proof, rightName string, rightProof *Proof) (*MergedProof, error) {
	startTime := time.Now()
	merged, err := l.aggregator.MergeByName(ctx, leftName, leftProof, rightName, rightProof)
	l.observeMerge(startTime, err)
	return merged, err
}

// MergeByDescriptor 合并两个自包含操作数
//
// 合并证明经AsOperand()转换后可再次作为操作数，构成证明树。
func (l *Library) MergeByDescriptor(ctx context.Context, left, right Operand) (*MergedProof, error) {
	startTime := time.Now()
	merged, err := l.aggregator.MergeByDescriptor(ctx, left, right)
	l.observeMerge(startTime, err)
	return merged, err
}

func (l *Library) observeMerge(startTime time.Time, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.merges.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		l.metrics.mergeSeconds.Observe(time.Since(startTime).Seconds())
	}
}

// VerifyMerged 独立验证合并证明
func (l *Library) VerifyMerged(ctx context.Context, merged *MergedProof) (bool, error) {
	return l.aggregator.VerifyMerged(ctx, merged)
}

// ============================================================================
//                            进程级默认实例
// ============================================================================

var (
	defaultOnce sync.Once
	defaultLib  *Library
)

// Default 返回进程级默认实例（惰性创建，无指标导出）
func Default() *Library {
	defaultOnce.Do(func() {
		defaultLib = New(nil)
	})
	return defaultLib
}
