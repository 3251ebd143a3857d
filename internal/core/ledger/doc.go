// Package ledger provides the on-chain primitives the deployment planner works
// with: hashes, scripts, out-points, cells and transactions, together with
// their canonical molecule serialization.
//
// This package is part of the functional core. Nothing in it performs I/O;
// the values it produces are handed to the shell (internal/shell/rpc,
// internal/shell/wallet) for submission.
//
// # Functions
//
//   - Hashing: Blake256 (blake2b-256, personalization "ckb-default-hash")
//   - Serialization: Script.Serialize, Transaction.SerializeRaw, EncodeOutPoints
//   - Capacity: OccupiedCapacity, ExactOutput, ParseCapacity, FormatCapacity
//   - Identity: TypeIDScript, IsTypeIDScript
//   - Signing support: SighashAllMessage, PrepareSighashWitnesses, AttachSignature
//   - Addresses: ParseAddress
package ledger
