package protocol

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AppendCompactU16 以 compact-u16 变长格式追加一个长度值。
func AppendCompactU16(buf []byte, value int) []byte {
	v := uint16(value)
	for {
		if v < 0x80 {
			return append(buf, byte(v))
		}
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

// trackedAccount 是消息编译期间对单个账户访问属性的合并结果。
type trackedAccount struct {
	pubkey   Pubkey
	signer   bool
	writable bool
}

// CompileMessage 把一组指令编译为合法的交易消息字节。
//
// 账户表排序规则：付费方永远在第 0 位，其后依次是其余可写签名账户、
// 只读签名账户、可写非签名账户、只读非签名账户；同一账户在多条指令
// 中出现时访问属性按"或"合并。消息头的三个计数字段由排序结果导出。
func CompileMessage(feePayer Pubkey, blockhash string, instructions []Instruction) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("指令列表为空")
	}
	blockhashBytes, err := base58.Decode(blockhash)
	if err != nil {
		return nil, fmt.Errorf("blockhash 解码失败: %w", err)
	}
	if len(blockhashBytes) != 32 {
		return nil, fmt.Errorf("blockhash 长度非法: %d 字节", len(blockhashBytes))
	}

	// 按出现顺序收集账户并合并访问属性。
	order := make([]Pubkey, 0, 16)
	tracked := make(map[Pubkey]*trackedAccount, 16)
	track := func(pk Pubkey, signer, writable bool) {
		acct, ok := tracked[pk]
		if !ok {
			acct = &trackedAccount{pubkey: pk}
			tracked[pk] = acct
			order = append(order, pk)
		}
		acct.signer = acct.signer || signer
		acct.writable = acct.writable || writable
	}

	track(feePayer, true, true)
	for _, ix := range instructions {
		for _, m := range ix.Accounts {
			track(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		track(ix.ProgramID, false, false)
	}

	// 四段排序，付费方强制第一。
	var signerWritable, signerReadonly, writable, readonly []*trackedAccount
	for _, pk := range order {
		acct := tracked[pk]
		if pk == feePayer {
			continue
		}
		switch {
		case acct.signer && acct.writable:
			signerWritable = append(signerWritable, acct)
		case acct.signer:
			signerReadonly = append(signerReadonly, acct)
		case acct.writable:
			writable = append(writable, acct)
		default:
			readonly = append(readonly, acct)
		}
	}

	table := make([]*trackedAccount, 0, len(order))
	table = append(table, tracked[feePayer])
	table = append(table, signerWritable...)
	table = append(table, signerReadonly...)
	table = append(table, writable...)
	table = append(table, readonly...)

	index := make(map[Pubkey]int, len(table))
	for i, acct := range table {
		index[acct.pubkey] = i
	}

	numRequiredSignatures := 1 + len(signerWritable) + len(signerReadonly)
	numReadonlySigned := len(signerReadonly)
	numReadonlyUnsigned := len(readonly)

	msg := make([]byte, 0, 256)
	msg = append(msg, byte(numRequiredSignatures), byte(numReadonlySigned), byte(numReadonlyUnsigned))

	msg = AppendCompactU16(msg, len(table))
	for _, acct := range table {
		msg = append(msg, acct.pubkey[:]...)
	}

	msg = append(msg, blockhashBytes...)

	msg = AppendCompactU16(msg, len(instructions))
	for _, ix := range instructions {
		programIndex, ok := index[ix.ProgramID]
		if !ok {
			return nil, fmt.Errorf("程序地址缺失于账户表")
		}
		msg = append(msg, byte(programIndex))
		msg = AppendCompactU16(msg, len(ix.Accounts))
		for _, m := range ix.Accounts {
			accountIndex, ok := index[m.Pubkey]
			if !ok {
				return nil, fmt.Errorf("指令账户缺失于账户表")
			}
			msg = append(msg, byte(accountIndex))
		}
		msg = AppendCompactU16(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}

	return msg, nil
}

// SignatureLength 是单个签名的固定字节长度。
const SignatureLength = 64

// Envelope 把消息与签名组装为可提交的交易字节。
// 签名顺序必须与账户表中签名账户的顺序一致。
func Envelope(message []byte, signatures ...[]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("缺少签名")
	}
	out := make([]byte, 0, 1+len(signatures)*SignatureLength+len(message))
	out = AppendCompactU16(out, len(signatures))
	for i, sig := range signatures {
		if len(sig) != SignatureLength {
			return nil, fmt.Errorf("第 %d 个签名长度非法: %d 字节", i, len(sig))
		}
		out = append(out, sig...)
	}
	out = append(out, message...)
	return out, nil
}
