// Package ledger defines the narrow RPC capability the execution core
// consumes from a remote ledger node: balance queries, blockhash retrieval,
// transaction submission, signature status lookups, and program account
// scans. The core depends only on the Client interface declared here, never
// on a concrete network client.
package ledger
