// Package diff classifies declared cells and dependency groups against what
// the last recorded deployment left on the ledger.
//
// Classification compares payload hashes only. A declared unit whose name has
// a live, spendable prior allocation is unchanged when the hashes match and
// changed otherwise; anything else is new. Prior records that are no longer
// declared are reported as retained and are never removed.
package diff

import (
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// Status is the classification of a single unit.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusChanged   Status = "changed"
	StatusNew       Status = "new"
	StatusRetained  Status = "retained"
)

// Item is a classified unit. Prior is set for unchanged and changed items.
type Item[T any] struct {
	Spec        T
	PayloadHash ledger.Hash
	Prior       *domain.PriorCell
}

// Partition holds three disjoint lists, each in declaration order.
type Partition[T any] struct {
	Unchanged []Item[T]
	Changed   []Item[T]
	New       []Item[T]
}

// Deployable returns the changed items followed by the new ones. These are the
// units that need an output in the next transaction.
func (p Partition[T]) Deployable() []Item[T] {
	out := make([]Item[T], 0, len(p.Changed)+len(p.New))
	out = append(out, p.Changed...)
	return append(out, p.New...)
}

// IsEmpty reports whether nothing needs deploying.
func (p Partition[T]) IsEmpty() bool {
	return len(p.Changed) == 0 && len(p.New) == 0
}

// StatusOf returns the status of the named unit, or "" if it was not
// classified.
func (p Partition[T]) StatusOf(name string, nameOf func(T) string) Status {
	for _, it := range p.Unchanged {
		if nameOf(it.Spec) == name {
			return StatusUnchanged
		}
	}
	for _, it := range p.Changed {
		if nameOf(it.Spec) == name {
			return StatusChanged
		}
	}
	for _, it := range p.New {
		if nameOf(it.Spec) == name {
			return StatusNew
		}
	}
	return ""
}

// =============================================================================
// Classification
// =============================================================================

// Classify partitions specs. nameOf and hashOf extract the unit name and the
// hash of the payload that would be deployed for it.
//
// Example:
//
//	prior: {A: h1, B: h2}
//	specs: [A(h1), B(h3), C(h4)]
//	=> Unchanged [A], Changed [B], New [C]
func Classify[T any](specs []T, nameOf func(T) string, hashOf func(T) ledger.Hash, prior domain.PriorCells) Partition[T] {
	return classify(specs, nameOf, hashOf, prior, nil)
}

// classify is Classify with an extra shape check: an item whose payload is
// identical but whose prior cell has the wrong shape is changed.
func classify[T any](specs []T, nameOf func(T) string, hashOf func(T) ledger.Hash, prior domain.PriorCells, sameShape func(T, domain.PriorCell) bool) Partition[T] {
	var p Partition[T]
	for _, spec := range specs {
		hash := hashOf(spec)
		item := Item[T]{Spec: spec, PayloadHash: hash}

		found, ok := prior[nameOf(spec)]
		if !ok || !found.Ref.Spendable {
			p.New = append(p.New, item)
			continue
		}

		pc := found
		item.Prior = &pc
		if found.DataHash == hash && (sameShape == nil || sameShape(spec, found)) {
			p.Unchanged = append(p.Unchanged, item)
		} else {
			p.Changed = append(p.Changed, item)
		}
	}
	return p
}

// CellName returns the name of a cell spec.
func CellName(c domain.CellSpec) string { return c.Name }

// DepGroupName returns the name of a dep group spec.
func DepGroupName(g domain.DepGroupSpec) string { return g.Name }

// ClassifyCells partitions the inline cells. Cells that reference an existing
// on-chain allocation are never deployed and are left out of every list. A
// cell whose identity setting no longer matches its live type script is
// changed even when the payload is identical.
func ClassifyCells(specs []domain.CellSpec, prior domain.PriorCells) Partition[domain.CellSpec] {
	inline := make([]domain.CellSpec, 0, len(specs))
	for _, s := range specs {
		if !s.Payload.IsReference() {
			inline = append(inline, s)
		}
	}
	return classify(inline, CellName, domain.CellSpec.DataHash, prior, identityMatches)
}

func identityMatches(spec domain.CellSpec, prior domain.PriorCell) bool {
	return spec.IdentityEnabled == ledger.IsTypeIDScript(prior.Type)
}

// ClassifyDepGroups partitions dep groups. payloads holds the encoded member
// out-point list of every group, built from the final cell records.
func ClassifyDepGroups(specs []domain.DepGroupSpec, payloads map[string][]byte, prior domain.PriorCells) Partition[domain.DepGroupSpec] {
	hashOf := func(g domain.DepGroupSpec) ledger.Hash {
		return ledger.Blake256(payloads[g.Name])
	}
	return Classify(specs, DepGroupName, hashOf, prior)
}

// =============================================================================
// Retained Records
// =============================================================================

// RetainedCells returns prior cell records whose names are no longer declared
// as inline cells, in recorded order.
func RetainedCells(prior domain.DeploymentRecipe, specs []domain.CellSpec) []domain.CellRecord {
	declared := make(map[string]bool, len(specs))
	for _, s := range specs {
		if !s.Payload.IsReference() {
			declared[s.Name] = true
		}
	}
	var out []domain.CellRecord
	for _, r := range prior.CellRecords {
		if !declared[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

// RetainedDepGroups returns prior dep group records whose names are no longer
// declared, in recorded order.
func RetainedDepGroups(prior domain.DeploymentRecipe, specs []domain.DepGroupSpec) []domain.DepGroupRecord {
	declared := make(map[string]bool, len(specs))
	for _, s := range specs {
		declared[s.Name] = true
	}
	var out []domain.DepGroupRecord
	for _, r := range prior.DepGroupRecords {
		if !declared[r.Name] {
			out = append(out, r)
		}
	}
	return out
}
