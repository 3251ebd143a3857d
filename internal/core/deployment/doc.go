// Package deployment builds the transactions that bring the ledger in line
// with a declared set of cells and dependency groups.
//
// Building is pure apart from the Funder it is given: everything that touches
// the ledger (lock deps, spendable cell collection) goes through that
// interface, and the result is a set of unsigned transactions plus the
// recipe that will be recorded once they land.
//
// # Functions
//
//   - Builder.Build: cells transaction, then dependency group transaction
//   - CheckOutputs: preflight check that every output type script is loadable
//
// # Usage
//
// The engine (internal/engine) resolves the previous deployment, calls Build,
// shows the plan and hands the baked transactions to the wallet for signing.
//
//	b := deployment.NewBuilder(wallet)
//	result, err := b.Build(ctx, deployment.Params{Lock: lock, Fee: fee, Cells: cells})
//	if result.Baked.IsEmpty() { ... nothing to deploy ... }
package deployment
