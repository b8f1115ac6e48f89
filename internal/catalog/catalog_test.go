package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/zkcircuits/internal/engine"
	"github.com/weisyn/zkcircuits/pkg/log"
)

// ============================================================================
// 电路目录并发语义测试
// ============================================================================
//
// 🎯 **测试目的**：验证注册幂等性、实例化的至多一次语义、失败终态
// 与重试路径。使用桩引擎替代真实密码学运算。
//
// ============================================================================

const testSchemaJSON = `{
  "slots": [
    {"name": "x", "visibility": "public", "type": {"kind": "field"}},
    {"name": "y", "visibility": "private", "type": {"kind": "field"}}
  ]
}`

// stubHandle 桩电路句柄
type stubHandle struct {
	name string
}

func (h *stubHandle) Name() string { return h.name }
func (h *stubHandle) KeyID() [32]byte {
	return sha256.Sum256([]byte(h.name))
}
func (h *stubHandle) VerifyingKey() []byte { return []byte("vk:" + h.name) }
func (h *stubHandle) PublicCount() int     { return 1 }
func (h *stubHandle) PrivateCount() int    { return 1 }

// stubEngine 桩引擎，记录Setup调用次数
type stubEngine struct {
	setupCalls atomic.Int64
	setupDelay time.Duration
	failSetup  map[string]error

	mu       sync.Mutex
	failOnce map[string]int // 前N次Setup失败
}

func newStubEngine() *stubEngine {
	return &stubEngine{failSetup: make(map[string]error), failOnce: make(map[string]int)}
}

func (e *stubEngine) Setup(ctx context.Context, name string, bytecode, provingKey, verifyingKey []byte) (engine.CircuitHandle, error) {
	e.setupCalls.Add(1)
	if e.setupDelay > 0 {
		time.Sleep(e.setupDelay)
	}
	e.mu.Lock()
	if n := e.failOnce[name]; n > 0 {
		e.failOnce[name] = n - 1
		e.mu.Unlock()
		return nil, fmt.Errorf("transient setup failure")
	}
	e.mu.Unlock()
	if err := e.failSetup[name]; err != nil {
		return nil, err
	}
	return &stubHandle{name: name}, nil
}

func (e *stubEngine) DeriveKeys(ctx context.Context, bytecode []byte) ([]byte, []byte, error) {
	return []byte("pk"), []byte("vk"), nil
}

func (e *stubEngine) Prove(ctx context.Context, handle engine.CircuitHandle, w *engine.EncodedWitness) (*engine.Proof, error) {
	return &engine.Proof{CircuitName: handle.Name(), KeyID: handle.KeyID()}, nil
}

func (e *stubEngine) Verify(ctx context.Context, verifyingKey []byte, proof *engine.Proof) (bool, error) {
	return true, nil
}

func (e *stubEngine) Compose(ctx context.Context, left, right engine.Operand) (*engine.MergedProof, error) {
	return nil, fmt.Errorf("not supported by stub")
}

func newTestCatalog(eng engine.Engine) *Catalog {
	return NewCatalog(log.Nop(), eng, nil, nil)
}

func testBundle(name, bytecode string) *ArtifactBundle {
	return NewBundle(name, []byte(bytecode), []byte(testSchemaJSON))
}

// TestRegister_Idempotent 测试同内容重复注册是无操作
func TestRegister_Idempotent(t *testing.T) {
	cat := newTestCatalog(newStubEngine())

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))
	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")), "同内容重复注册应该成功")

	desc, ok := cat.Lookup("mul")
	require.True(t, ok)
	assert.Equal(t, StatusRegistered, desc.Status)
}

// TestRegister_ConflictingContent 测试同名不同内容的注册被拒绝
func TestRegister_ConflictingContent(t *testing.T) {
	cat := newTestCatalog(newStubEngine())

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	err := cat.Register(testBundle("mul", "bytecode-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

// TestRegister_Malformed 测试损坏工件包被拒绝
func TestRegister_Malformed(t *testing.T) {
	cat := newTestCatalog(newStubEngine())

	err := cat.Register(NewBundle("empty", nil, []byte(testSchemaJSON)))
	assert.ErrorIs(t, err, ErrMalformedArtifact, "空字节码应该被拒绝")

	err = cat.Register(NewBundle("badschema", []byte("code"), []byte("{not json")))
	assert.ErrorIs(t, err, ErrMalformedArtifact, "无法解析的模式应该被拒绝")
}

// TestHydrate_NotRegistered 测试实例化未注册电路返回错误
func TestHydrate_NotRegistered(t *testing.T) {
	cat := newTestCatalog(newStubEngine())

	_, err := cat.Hydrate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

// TestHydrate_AtMostOnce 测试并发实例化只执行一次引擎设置
func TestHydrate_AtMostOnce(t *testing.T) {
	eng := newStubEngine()
	eng.setupDelay = 20 * time.Millisecond
	cat := newTestCatalog(eng)

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	const goroutines = 32
	var wg sync.WaitGroup
	handles := make([]engine.CircuitHandle, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			handles[idx], errs[idx] = cat.Hydrate(context.Background(), "mul")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), eng.setupCalls.Load(), "引擎设置应该只执行一次")
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i], "所有调用方应该得到同一个句柄")
	}

	desc, ok := cat.Lookup("mul")
	require.True(t, ok)
	assert.Equal(t, StatusReady, desc.Status)
	assert.NotNil(t, desc.Handle)
}

// TestHydrate_FailureIsTerminal 测试实例化失败是终态，不自动重试
func TestHydrate_FailureIsTerminal(t *testing.T) {
	eng := newStubEngine()
	eng.failSetup["mul"] = errors.New("setup exploded")
	cat := newTestCatalog(eng)

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	_, err := cat.Hydrate(context.Background(), "mul")
	require.ErrorIs(t, err, ErrHydrationFailed)

	// 后续调用返回记录的失败，不重新执行设置
	_, err = cat.Hydrate(context.Background(), "mul")
	require.ErrorIs(t, err, ErrHydrationFailed)
	assert.Equal(t, int64(1), eng.setupCalls.Load(), "失败后不应自动重试设置")

	desc, ok := cat.Lookup("mul")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, desc.Status)
	assert.Error(t, desc.Err)
}

// TestRegister_RetryAfterFailure 测试重新注册是失败后的显式重试路径
func TestRegister_RetryAfterFailure(t *testing.T) {
	eng := newStubEngine()
	eng.failOnce["mul"] = 1
	cat := newTestCatalog(eng)

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))
	_, err := cat.Hydrate(context.Background(), "mul")
	require.ErrorIs(t, err, ErrHydrationFailed)

	// 覆盖Failed条目（内容可以不同）
	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	handle, err := cat.Hydrate(context.Background(), "mul")
	require.NoError(t, err, "重新注册后实例化应该成功")
	assert.Equal(t, "mul", handle.Name())
	assert.Equal(t, int64(2), eng.setupCalls.Load())
}

// TestHydrate_WaiterHonorsContext 测试等待方响应上下文取消
func TestHydrate_WaiterHonorsContext(t *testing.T) {
	eng := newStubEngine()
	eng.setupDelay = 200 * time.Millisecond
	cat := newTestCatalog(eng)

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	// 第一个goroutine执行实例化
	go func() {
		_, _ = cat.Hydrate(context.Background(), "mul")
	}()
	time.Sleep(20 * time.Millisecond)

	// 等待方的上下文先取消
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := cat.Hydrate(ctx, "mul")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "等待方应该响应上下文取消")
}

// TestLookup_NonBlocking 测试Lookup在实例化进行中不阻塞
func TestLookup_NonBlocking(t *testing.T) {
	eng := newStubEngine()
	eng.setupDelay = 100 * time.Millisecond
	cat := newTestCatalog(eng)

	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	go func() {
		_, _ = cat.Hydrate(context.Background(), "mul")
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	desc, ok := cat.Lookup("mul")
	elapsed := time.Since(start)

	require.True(t, ok)
	assert.Equal(t, StatusHydrating, desc.Status)
	assert.Less(t, elapsed, 50*time.Millisecond, "Lookup不应等待实例化完成")
}

// TestInitBundles 测试批量注册与并行实例化
func TestInitBundles(t *testing.T) {
	eng := newStubEngine()
	cat := newTestCatalog(eng)

	bundles := []*ArtifactBundle{
		testBundle("a", "bytecode-a"),
		testBundle("b", "bytecode-b"),
		testBundle("c", "bytecode-c"),
	}
	require.NoError(t, cat.InitBundles(context.Background(), bundles))
	assert.Equal(t, int64(3), eng.setupCalls.Load())

	for _, bundle := range bundles {
		desc, ok := cat.Lookup(bundle.Name)
		require.True(t, ok)
		assert.Equal(t, StatusReady, desc.Status)
	}

	// 幂等：重复初始化不重做工作
	require.NoError(t, cat.InitBundles(context.Background(), bundles))
	assert.Equal(t, int64(3), eng.setupCalls.Load(), "已实例化的电路不应重复设置")
}

// TestInitBundles_PartialFailure 测试单个电路失败不影响其他电路状态
func TestInitBundles_PartialFailure(t *testing.T) {
	eng := newStubEngine()
	eng.failSetup["bad"] = errors.New("setup exploded")
	cat := newTestCatalog(eng)

	bundles := []*ArtifactBundle{
		testBundle("good", "bytecode-good"),
		testBundle("bad", "bytecode-bad"),
	}
	err := cat.InitBundles(context.Background(), bundles)
	require.ErrorIs(t, err, ErrHydrationFailed)

	desc, ok := cat.Lookup("bad")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, desc.Status)
}

// TestVerifyingKeyRegistry 测试派生验证密钥的登记与查询
func TestVerifyingKeyRegistry(t *testing.T) {
	cat := newTestCatalog(newStubEngine())

	keyID := sha256.Sum256([]byte("derived-vk"))
	cat.RegisterVerifyingKey(&VerifyingKeyRecord{
		KeyID:        keyID,
		VerifyingKey: []byte("derived-vk"),
		Source:       "merged",
	})

	record, err := cat.VerifyingKeyByID(keyID)
	require.NoError(t, err)
	assert.Equal(t, []byte("derived-vk"), record.VerifyingKey)

	_, err = cat.VerifyingKeyByID(sha256.Sum256([]byte("unknown")))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestBytecode 测试字节码查询
func TestBytecode(t *testing.T) {
	cat := newTestCatalog(newStubEngine())
	require.NoError(t, cat.Register(testBundle("mul", "bytecode-1")))

	bytecode, err := cat.Bytecode("mul")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytecode-1"), bytecode)

	_, err = cat.Bytecode("ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)
}
