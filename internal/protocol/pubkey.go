package protocol

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLength 是公钥的固定字节长度。
const PubkeyLength = 32

// Pubkey 是一个 32 字节的账本公钥。
type Pubkey [PubkeyLength]byte

// PubkeyFromBase58 解析 base58 文本形式的公钥。
func PubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("公钥 base58 解码失败: %w", err)
	}
	if len(decoded) != PubkeyLength {
		return pk, fmt.Errorf("公钥长度非法: %d 字节", len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustPubkey 解析公钥，失败时 panic。仅用于常量定义。
func MustPubkey(s string) Pubkey {
	pk, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes 从原始字节构造公钥。
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLength {
		return pk, fmt.Errorf("公钥长度非法: %d 字节", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String 返回公钥的 base58 文本形式。
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes 返回公钥字节的副本。
func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeyLength)
	copy(out, p[:])
	return out
}

// IsZero 判断是否为全零公钥。
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

const (
	maxSeeds      = 16
	maxSeedLength = 32

	// pdaMarker 是派生地址哈希输入的固定后缀。
	pdaMarker = "ProgramDerivedAddress"
)

// isOnCurve 判断 32 字节是否能解码为合法的 edwards25519 曲线点。
// 派生地址必须落在曲线之外，保证没有对应的私钥。
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress 使用给定种子和 bump 组合计算派生地址。
// 若哈希结果落在曲线上则返回错误，调用方应换一个 bump 重试。
func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > maxSeeds {
		return Pubkey{}, fmt.Errorf("种子数量超限: %d", len(seeds))
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return Pubkey{}, fmt.Errorf("种子长度超限: %d 字节", len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	digest := h.Sum(nil)
	if isOnCurve(digest) {
		return Pubkey{}, fmt.Errorf("候选地址落在曲线上")
	}
	return PubkeyFromBytes(digest)
}

// FindProgramAddress 从 bump=255 向下搜索第一个合法的派生地址。
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidateSeeds := make([][]byte, 0, len(seeds)+1)
		candidateSeeds = append(candidateSeeds, seeds...)
		candidateSeeds = append(candidateSeeds, []byte{uint8(bump)})
		addr, err := CreateProgramAddress(candidateSeeds, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, fmt.Errorf("无法为给定种子找到派生地址")
}
