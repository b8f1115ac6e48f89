package keys

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// EdDSA密钥对测试
// ============================================================================

// TestFromSeed_Deterministic 测试相同种子派生相同密钥对
func TestFromSeed_Deterministic(t *testing.T) {
	seed := sha256.Sum256([]byte("alice"))

	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKeyBytes(), b.PublicKeyBytes(), "相同种子应派生相同公钥")

	other, err := FromSeed(sha256.Sum256([]byte("bob")))
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKeyBytes(), other.PublicKeyBytes())
}

// TestSignVerifyDigest 测试摘要签名与验证
func TestSignVerifyDigest(t *testing.T) {
	kp, err := New()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("message"))
	sig, err := kp.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	ok, err := kp.VerifyDigest(sig, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	// 篡改摘要后验证失败
	tampered := sha256.Sum256([]byte("other message"))
	ok, _ = kp.VerifyDigest(sig, tampered)
	assert.False(t, ok)
}

// TestPublicKeyXY 测试公钥坐标非零
func TestPublicKeyXY(t *testing.T) {
	kp, err := New()
	require.NoError(t, err)

	x, y := kp.PublicKeyXY()
	assert.NotEqual(t, 0, x.Sign())
	assert.NotEqual(t, 0, y.Sign())
}

// TestDecodeSignature 测试签名拆解为见证分量
func TestDecodeSignature(t *testing.T) {
	kp, err := New()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("message"))
	sig, err := kp.SignDigest(digest)
	require.NoError(t, err)

	rx, ry, s, err := DecodeSignature(sig)
	require.NoError(t, err)
	assert.NotEqual(t, 0, rx.Sign())
	assert.NotEqual(t, 0, ry.Sign())
	assert.NotEqual(t, 0, s.Sign())

	_, _, _, err = DecodeSignature(sig[:10])
	assert.Error(t, err, "长度不符的签名应被拒绝")
}
