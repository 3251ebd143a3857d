// Package snapshot defines the on-disk schema of a deployment snapshot and
// converts between it and domain.DeploymentRecipe.
//
// The schema is an explicit, versioned document. Encoding always writes the
// current version. Decoding dispatches on the "version" field; documents
// written before the field existed are classified by their shape, and a
// document that matches no known shape (or more than one) is rejected rather
// than guessed at.
//
// # Versions
//
//   - 1: records grouped by transaction ("cell_txs", "dep_group_txs"), hashes
//     stored as byte arrays, no capacities
//   - 2: flat records ("cell_recipes", "dep_group_recipes") with capacities and
//     an optional "type_id"
//   - 3: flat records ("cell_records", "dep_group_records") plus run metadata
//
// This package is part of the functional core and performs no I/O.
package snapshot
