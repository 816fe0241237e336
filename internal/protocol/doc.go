// Package protocol implements the binary codec for the on-chain task
// protocol: base58 public keys, program-derived address computation, task
// account decoding at fixed byte offsets, instruction construction with
// 8-byte discriminators, and legacy transaction message compilation.
//
// All program identifiers flow through a Params value constructed once at
// startup. The package holds no mutable global state.
package protocol
