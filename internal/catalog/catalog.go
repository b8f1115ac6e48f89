package catalog

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weisyn/zkcircuits/internal/engine"
	"github.com/weisyn/zkcircuits/pkg/log"
)

// ============================================================================
//                         电路目录（Catalog）
// ============================================================================
//
// 🎯 **专门职责**：
// 进程级电路工件目录。管理每个电路从注册到可证明状态的生命周期，
// 保证同名电路的实例化（可信设置）在并发访问下至多执行一次。
//
// 🏗️ **并发模型**：
// 每个条目带一个latch通道：第一个触发实例化的goroutine执行引擎
// 设置，其余goroutine等待latch关闭后读取终态。失败是终态，记录
// 失败原因；重新注册同名电路是显式的重试路径。
//
// ============================================================================

// Status 目录条目状态
type Status int

const (
	// StatusAbsent 未注册
	StatusAbsent Status = iota
	// StatusRegistered 已注册，尚未实例化
	StatusRegistered
	// StatusHydrating 实例化进行中
	StatusHydrating
	// StatusReady 可证明
	StatusReady
	// StatusFailed 实例化失败（终态）
	StatusFailed
)

// String 返回状态的字符串表示
func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusRegistered:
		return "registered"
	case StatusHydrating:
		return "hydrating"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Descriptor Lookup返回的条目快照
type Descriptor struct {
	Name        string
	Status      Status
	ContentHash [32]byte
	Schema      *Schema

	// Handle 仅在StatusReady时非nil
	Handle engine.CircuitHandle

	// Err 仅在StatusFailed时非nil，记录失败原因
	Err error
}

// VerifyingKeyRecord 登记的验证密钥记录
//
// 合并证明的派生密钥登记在此，使合并工件可以独立验证，
// 也可以作为下一层合并的操作数。
type VerifyingKeyRecord struct {
	KeyID        [32]byte
	VerifyingKey []byte
	CircuitBytes []byte
	Source       string
}

// entry 目录内部条目
type entry struct {
	bundle *ArtifactBundle
	schema *Schema
	status Status
	handle engine.CircuitHandle
	err    error

	// done 在实例化到达终态（Ready或Failed）时关闭
	done chan struct{}
}

// Config 目录配置
type Config struct {
	// DefaultCurve 默认曲线标识
	DefaultCurve string

	// DefaultProvingScheme 默认证明方案标识
	DefaultProvingScheme string
}

// DefaultConfig 返回默认目录配置
func DefaultConfig() *Config {
	return &Config{
		DefaultCurve:         "bn254",
		DefaultProvingScheme: "groth16",
	}
}

// Catalog 进程级电路目录
type Catalog struct {
	mu      sync.Mutex
	entries map[string]*entry
	keys    map[[32]byte]*VerifyingKeyRecord

	engine  engine.Engine
	logger  log.Logger
	config  *Config
	metrics *Metrics
}

// NewCatalog 创建电路目录
func NewCatalog(logger log.Logger, eng engine.Engine, config *Config, metrics *Metrics) *Catalog {
	if config == nil {
		config = DefaultConfig()
	}
	return &Catalog{
		entries: make(map[string]*entry),
		keys:    make(map[[32]byte]*VerifyingKeyRecord),
		engine:  eng,
		logger:  logger,
		config:  config,
		metrics: metrics,
	}
}

// Register 注册电路工件包
//
// 同名同内容的重复注册是无操作；同名不同内容返回
// ErrAlreadyRegistered。例外：覆盖一个Failed条目是允许的，
// 这是实例化失败后的显式重试路径。
func (c *Catalog) Register(bundle *ArtifactBundle) error {
	if bundle == nil || bundle.Name == "" {
		return WrapMalformedArtifactError("", "empty bundle or name")
	}
	if len(bundle.Bytecode) == 0 {
		return WrapMalformedArtifactError(bundle.Name, "empty bytecode")
	}
	schema, err := ParseSchema(bundle.SchemaJSON)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[bundle.Name]
	if ok && existing.status != StatusFailed {
		if existing.bundle.ContentHash == bundle.ContentHash {
			// 同内容重复注册：无操作
			return nil
		}
		return WrapAlreadyRegisteredError(bundle.Name)
	}

	c.entries[bundle.Name] = &entry{
		bundle: bundle,
		schema: schema,
		status: StatusRegistered,
	}
	if c.metrics != nil {
		c.metrics.registrations.Inc()
	}
	c.logger.Debugf("电路已注册: circuit=%s, hash=%s", bundle.Name, hex.EncodeToString(bundle.ContentHash[:8]))
	return nil
}

// RegisterFromManifest 按清单从工件目录批量注册
func (c *Catalog) RegisterFromManifest(dir string, manifest *Manifest) error {
	for name, record := range manifest.Circuits {
		bundle, err := LoadBundle(dir, name, record)
		if err != nil {
			return err
		}
		if err := c.Register(bundle); err != nil {
			return err
		}
	}
	return nil
}

// Hydrate 将电路实例化为可证明状态
//
// 幂等且并发安全：无论多少goroutine同时请求同一电路，引擎设置
// 至多执行一次，其余调用方阻塞等待同一结果。失败是终态，后续
// 调用返回记录的失败原因而不重试。
func (c *Catalog) Hydrate(ctx context.Context, name string) (engine.CircuitHandle, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		c.mu.Unlock()
		return nil, WrapNotRegisteredError(name)
	}

	switch e.status {
	case StatusReady:
		handle := e.handle
		c.mu.Unlock()
		return handle, nil

	case StatusFailed:
		err := e.err
		c.mu.Unlock()
		return nil, WrapHydrationFailedError(name, err)

	case StatusHydrating:
		done := e.done
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
		return c.terminalResult(name)
	}

	// StatusRegistered：当前goroutine负责实例化
	e.status = StatusHydrating
	e.done = make(chan struct{})
	bundle := e.bundle
	done := e.done
	c.mu.Unlock()

	startTime := time.Now()
	handle, setupErr := c.engine.Setup(ctx, name, bundle.Bytecode, bundle.ProvingKey, bundle.VerifyingKey)

	c.mu.Lock()
	if setupErr != nil {
		e.status = StatusFailed
		e.err = setupErr
		if c.metrics != nil {
			c.metrics.observeHydration("failed", time.Since(startTime))
		}
		c.logger.Errorf("电路实例化失败: circuit=%s, cause=%v", name, setupErr)
	} else {
		e.status = StatusReady
		e.handle = handle
		if c.metrics != nil {
			c.metrics.observeHydration("ok", time.Since(startTime))
		}
		keyID := handle.KeyID()
		c.logger.Infof("电路实例化完成: circuit=%s, keyID=%s, 耗时=%v",
			name, hex.EncodeToString(keyID[:8]), time.Since(startTime))
	}
	close(done)
	c.mu.Unlock()

	if setupErr != nil {
		return nil, WrapHydrationFailedError(name, setupErr)
	}
	return handle, nil
}

// terminalResult 读取已到达终态的条目结果
func (c *Catalog) terminalResult(name string) (engine.CircuitHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, WrapNotRegisteredError(name)
	}
	switch e.status {
	case StatusReady:
		return e.handle, nil
	case StatusFailed:
		return nil, WrapHydrationFailedError(name, e.err)
	}
	// latch已关闭但条目被并发重新注册：按未实例化处理
	return nil, WrapNotRegisteredError(name)
}

// Lookup 非阻塞地返回条目快照
func (c *Catalog) Lookup(name string) (*Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return &Descriptor{
		Name:        name,
		Status:      e.status,
		ContentHash: e.bundle.ContentHash,
		Schema:      e.schema,
		Handle:      e.handle,
		Err:         e.err,
	}, true
}

// Schema 返回已注册电路的输入模式
func (c *Catalog) Schema(name string) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, WrapNotRegisteredError(name)
	}
	return e.schema, nil
}

// Bytecode 返回已注册电路的序列化约束系统
func (c *Catalog) Bytecode(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, WrapNotRegisteredError(name)
	}
	return e.bundle.Bytecode, nil
}

// EncodeInputs 按电路模式将具名输入编码为扁平见证布局
func (c *Catalog) EncodeInputs(name string, values map[string]any) (*engine.EncodedWitness, error) {
	schema, err := c.Schema(name)
	if err != nil {
		return nil, err
	}
	return schema.EncodeInputs(values)
}

// InitBundles 批量注册并并行实例化一组工件包
//
// 幂等：已注册/已实例化的电路不会重复工作。任何一个电路失败
// 则整体返回错误，但不影响其他电路已达到的状态。
func (c *Catalog) InitBundles(ctx context.Context, bundles []*ArtifactBundle) error {
	for _, bundle := range bundles {
		if err := c.Register(bundle); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bundle := range bundles {
		name := bundle.Name
		g.Go(func() error {
			_, err := c.Hydrate(gctx, name)
			return err
		})
	}
	return g.Wait()
}

// RegisterVerifyingKey 登记验证密钥（幂等，同ID覆盖为相同内容）
func (c *Catalog) RegisterVerifyingKey(record *VerifyingKeyRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[record.KeyID] = record
}

// VerifyingKeyByID 按密钥ID查询登记的验证密钥
func (c *Catalog) VerifyingKeyByID(keyID [32]byte) (*VerifyingKeyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.keys[keyID]
	if !ok {
		return nil, WrapKeyNotFoundError(hex.EncodeToString(keyID[:]))
	}
	return record, nil
}
