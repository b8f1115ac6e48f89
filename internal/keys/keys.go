// Package keys 提供UTXO持有者的EdDSA密钥对
//
// 🎯 **专门职责**：BN254扭曲Edwards曲线上的EdDSA密钥生成、
// 确定性种子派生、摘要签名与验证。签名哈希使用MiMC，
// 与电路内的签名验证gadget保持一致。
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	_ "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	bn254eddsa "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/ecc/twistededwards"
	gchash "github.com/consensys/gnark-crypto/hash"
	"github.com/consensys/gnark-crypto/signature"
	"github.com/consensys/gnark-crypto/signature/eddsa"
)

// SignatureSize 序列化签名的字节长度（R压缩点32字节 + S标量32字节）
const SignatureSize = 64

// Keypair EdDSA密钥对
type Keypair struct {
	signer signature.Signer
	public *bn254eddsa.PublicKey
}

// New 用系统随机源生成密钥对
func New() (*Keypair, error) {
	signer, err := eddsa.New(twistededwards.BN254, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return wrap(signer)
}

// FromSeed 从32字节种子确定性派生密钥对
//
// 相同的种子在任何进程中派生出相同的密钥对。
func FromSeed(seed [32]byte) (*Keypair, error) {
	signer, err := eddsa.New(twistededwards.BN254, newSeedReader(seed))
	if err != nil {
		return nil, fmt.Errorf("derive keypair: %w", err)
	}
	return wrap(signer)
}

func wrap(signer signature.Signer) (*Keypair, error) {
	public, ok := signer.Public().(*bn254eddsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", signer.Public())
	}
	return &Keypair{signer: signer, public: public}, nil
}

// PublicKeyBytes 返回压缩公钥
func (k *Keypair) PublicKeyBytes() []byte {
	return k.signer.Public().Bytes()
}

// PublicKeyXY 返回公钥仿射坐标
func (k *Keypair) PublicKeyXY() (*big.Int, *big.Int) {
	var x, y big.Int
	k.public.A.X.BigInt(&x)
	k.public.A.Y.BigInt(&y)
	return &x, &y
}

// SignDigest 对32字节摘要签名（MiMC作为签名哈希）
func (k *Keypair) SignDigest(digest [32]byte) ([]byte, error) {
	sig, err := k.signer.Sign(digest[:], gchash.MIMC_BN254.New())
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// VerifyDigest 验证摘要签名
func (k *Keypair) VerifyDigest(sig []byte, digest [32]byte) (bool, error) {
	return k.signer.Public().Verify(sig, digest[:], gchash.MIMC_BN254.New())
}

// DecodeSignature 将序列化签名拆为电路见证需要的(R.X, R.Y, S)
func DecodeSignature(sig []byte) (rx, ry, s *big.Int, err error) {
	if len(sig) != SignatureSize {
		return nil, nil, nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	var decoded bn254eddsa.Signature
	if _, err := decoded.SetBytes(sig); err != nil {
		return nil, nil, nil, fmt.Errorf("decode signature: %w", err)
	}
	rx, ry = new(big.Int), new(big.Int)
	decoded.R.X.BigInt(rx)
	decoded.R.Y.BigInt(ry)
	s = new(big.Int).SetBytes(decoded.S[:])
	return rx, ry, s, nil
}

// seedReader 基于SHA-256计数器的确定性字节流
type seedReader struct {
	seed    [32]byte
	counter uint64
	buf     []byte
}

func newSeedReader(seed [32]byte) *seedReader {
	return &seedReader{seed: seed}
}

func (r *seedReader) Read(p []byte) (int, error) {
	for len(r.buf) < len(p) {
		h := sha256.New()
		h.Write(r.seed[:])
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], r.counter)
		r.counter++
		h.Write(ctr[:])
		r.buf = h.Sum(r.buf)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
