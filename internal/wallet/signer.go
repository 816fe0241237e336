package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"sync"

	"AgenC-Operator/internal/errors"
	"AgenC-Operator/internal/protocol"
)

// Signer 持有进程内唯一的签名私钥。私钥在进程生命周期内不落盘、
// 不经网络传输，对外只暴露公钥与签名操作。
type Signer struct {
	mu     sync.RWMutex
	key    ed25519.PrivateKey
	pubkey protocol.Pubkey
}

// Load 从 JSON 字节数组文件加载密钥对。
// 文件格式是 64 个字节的数组：前 32 字节为种子，后 32 字节为公钥。
func Load(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeWalletUnavailable, err, "读取密钥文件失败")
	}

	// 密钥文件是整数数组的 JSON 形式，每个元素是一个字节。
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(errors.CodeWalletUnavailable, err, "密钥文件格式非法")
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, errors.Newf(errors.CodeWalletUnavailable, "密钥长度非法: %d 字节", len(values))
	}
	keyBytes := make([]byte, ed25519.PrivateKeySize)
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, errors.Newf(errors.CodeWalletUnavailable, "密钥字节越界: %d", v)
		}
		keyBytes[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(keyBytes[:ed25519.SeedSize])
	if !bytes.Equal(key.Public().(ed25519.PublicKey), keyBytes[ed25519.SeedSize:]) {
		return nil, errors.New(errors.CodeWalletUnavailable, "公钥与种子不匹配")
	}
	return NewSigner(key)
}

// NewSigner 用已有私钥构造签名器。
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New(errors.CodeWalletUnavailable, "私钥长度非法")
	}
	pubkey, err := protocol.PubkeyFromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, errors.Wrap(errors.CodeWalletUnavailable, err, "公钥解析失败")
	}
	return &Signer{key: key, pubkey: pubkey}, nil
}

// Pubkey 返回签名器的公钥。
func (s *Signer) Pubkey() protocol.Pubkey {
	return s.pubkey
}

// Address 返回公钥的 base58 文本形式。
func (s *Signer) Address() string {
	return s.pubkey.String()
}

// Available 以非阻塞方式探测签名器当前是否可用。
func (s *Signer) Available() bool {
	if s == nil {
		return false
	}
	if !s.mu.TryRLock() {
		return false
	}
	defer s.mu.RUnlock()
	return len(s.key) == ed25519.PrivateKeySize
}

// Sign 对消息字节签名。锁只覆盖签名本身，绝不跨越网络调用持有。
func (s *Signer) Sign(message []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.key) != ed25519.PrivateKeySize {
		return nil, errors.New(errors.CodeWalletUnavailable, "签名密钥未加载")
	}
	return ed25519.Sign(s.key, message), nil
}
