// Package ledger implements the hash-chained certificate ledger.
//
// Every certificate record carries a ChainLink computed from its chronological
// predecessor's ChainLink and its own content fields. The chronologically first
// record chains from GenesisLink (a zero-filled digest). Editing any hashed field
// or reordering records after the fact makes the stored link disagree with the
// recomputed one, which Verify detects and flags.
//
// Order is defined by IssuedAt, not insertion order, so issuance resolves the
// chain head and inserts the new record while holding the store's append lock.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for testing and single-process deployments.
//   - PostgresStore: durable, for production use.
package ledger
