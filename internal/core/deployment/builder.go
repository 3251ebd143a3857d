package deployment

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/celldeploy/internal/core/diff"
	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// identitySeedCapacity is the amount collected when a transaction needs an
// input only so that a Type ID can be derived from it.
const identitySeedCapacity = 1

// Builder plans the cells and dep groups transactions of one run.
type Builder struct {
	funder Funder
}

// NewBuilder creates a builder that funds transactions through funder.
func NewBuilder(funder Funder) *Builder {
	return &Builder{funder: funder}
}

// pass holds the state shared by both transactions of one Build call.
type pass struct {
	funder   Funder
	params   Params
	lockDeps []ledger.CellDep
	reserved *ledger.OutPointSet
}

// Build classifies the declared units and builds at most one cells
// transaction and one dep groups transaction.
//
// Dep group members are validated before anything is built. The cells
// transaction is completed (and its hash fixed) before the dep group payloads
// are encoded, so a group always points at the freshly built cells.
func (b *Builder) Build(ctx context.Context, params Params) (*Result, error) {
	if err := validateDepGroups(params); err != nil {
		return nil, err
	}

	p := &pass{funder: b.funder, params: params, reserved: ledger.NewOutPointSet()}
	result := &Result{
		RetainedCells:     diff.RetainedCells(params.Prior, params.Cells),
		RetainedDepGroups: diff.RetainedDepGroups(params.Prior, params.DepGroups),
	}

	// Cells
	result.Cells = diff.ClassifyCells(params.Cells, params.PriorCells)
	cellRecords := make(map[string]domain.CellRecord)
	if !result.Cells.IsEmpty() {
		built, records, err := p.buildCellsTx(ctx, result.Cells)
		if err != nil {
			return nil, err
		}
		result.Baked.Cells = built
		for _, r := range records {
			cellRecords[r.Name] = r
		}
	}
	for _, it := range result.Cells.Unchanged {
		cellRecords[it.Spec.Name] = p.carryCell(it)
	}
	for _, spec := range params.Cells {
		if r, ok := cellRecords[spec.Name]; ok {
			result.Recipe.CellRecords = append(result.Recipe.CellRecords, r)
		}
	}
	result.Recipe.CellRecords = append(result.Recipe.CellRecords, result.RetainedCells...)

	// Dep groups
	payloads, err := encodeDepGroups(params, cellRecords)
	if err != nil {
		return nil, err
	}
	result.DepGroups = diff.ClassifyDepGroups(params.DepGroups, payloads, params.PriorDepGroups)
	groupRecords := make(map[string]domain.DepGroupRecord)
	if !result.DepGroups.IsEmpty() {
		built, records, err := p.buildDepGroupsTx(ctx, result.DepGroups, payloads)
		if err != nil {
			return nil, err
		}
		result.Baked.DepGroups = built
		for _, r := range records {
			groupRecords[r.Name] = r
		}
	}
	for _, it := range result.DepGroups.Unchanged {
		groupRecords[it.Spec.Name] = p.carryDepGroup(it)
	}
	for _, spec := range params.DepGroups {
		if r, ok := groupRecords[spec.Name]; ok {
			result.Recipe.DepGroupRecords = append(result.Recipe.DepGroupRecords, r)
		}
	}
	result.Recipe.DepGroupRecords = append(result.Recipe.DepGroupRecords, result.RetainedDepGroups...)

	return result, nil
}

// =============================================================================
// Cells Transaction
// =============================================================================

func (p *pass) buildCellsTx(ctx context.Context, part diff.Partition[domain.CellSpec]) (*domain.BuiltTx, []domain.CellRecord, error) {
	items := inDeclarationOrder(part, p.params.Cells, diff.CellName)
	built := &domain.BuiltTx{Tx: &ledger.Transaction{}}

	// Changed cells are spent and recreated.
	for _, it := range items {
		if it.Prior != nil {
			p.addInput(built, it.Prior.Ref, true)
		}
	}

	// A Type ID needs a real first input to hash.
	if len(built.Tx.Inputs) == 0 && needsFreshIdentity(items) {
		seed, err := p.collect(ctx, identitySeedCapacity)
		if err != nil {
			return nil, nil, err
		}
		if len(seed) == 0 {
			return nil, nil, domain.NewCapacityError("build_cells", "no spendable cell to derive a type id from", nil)
		}
		for _, ref := range seed {
			p.addInput(built, ref, false)
		}
	}

	identities := make([]*ledger.Hash, len(items))
	for i, it := range items {
		var typ *ledger.Script
		if it.Spec.IdentityEnabled {
			typ = identityScript(it, built.Tx.Inputs[0], uint64(i))
			id := typ.Hash()
			identities[i] = &id
		}
		out, err := ledger.ExactOutput(p.params.Lock, typ, it.Spec.Payload.Data)
		if err != nil {
			return nil, nil, domain.NewCapacityError("build_cells", fmt.Sprintf("output for %q", it.Spec.Name), err)
		}
		built.Tx.AddOutput(out, it.Spec.Payload.Data)
	}
	built.Deployed = len(items)

	if err := p.complete(ctx, built, "build_cells"); err != nil {
		return nil, nil, err
	}

	txHash := built.Tx.Hash()
	records := make([]domain.CellRecord, len(items))
	for i, it := range items {
		records[i] = domain.CellRecord{
			Name:             it.Spec.Name,
			TxHash:           txHash,
			Index:            uint32(i),
			DataHash:         it.PayloadHash,
			OccupiedCapacity: built.Tx.Outputs[i].Capacity,
			IdentityHash:     identities[i],
		}
	}
	return built, records, nil
}

// identityScript inherits the Type ID of a changed cell and derives a fresh
// one otherwise.
func identityScript(it diff.Item[domain.CellSpec], first ledger.CellInput, index uint64) *ledger.Script {
	if it.Prior != nil && ledger.IsTypeIDScript(it.Prior.Type) {
		inherited := it.Prior.Type.Clone()
		return &inherited
	}
	fresh := ledger.TypeIDScript(first, index)
	return &fresh
}

func needsFreshIdentity(items []diff.Item[domain.CellSpec]) bool {
	for _, it := range items {
		if it.Spec.IdentityEnabled && (it.Prior == nil || !ledger.IsTypeIDScript(it.Prior.Type)) {
			return true
		}
	}
	return false
}

// carryCell copies an unchanged cell's record from the prior recipe.
func (p *pass) carryCell(it diff.Item[domain.CellSpec]) domain.CellRecord {
	if r, ok := p.params.Prior.Cell(it.Spec.Name); ok {
		return r
	}
	rec := domain.CellRecord{
		Name:             it.Spec.Name,
		TxHash:           it.Prior.Ref.OutPoint.TxHash,
		Index:            it.Prior.Ref.OutPoint.Index,
		DataHash:         it.Prior.DataHash,
		OccupiedCapacity: it.Prior.Ref.Capacity,
	}
	if ledger.IsTypeIDScript(it.Prior.Type) {
		id := it.Prior.Type.Hash()
		rec.IdentityHash = &id
	}
	return rec
}

// =============================================================================
// Dep Groups Transaction
// =============================================================================

func validateDepGroups(params Params) error {
	declared := make(map[string]bool, len(params.Cells))
	for _, c := range params.Cells {
		declared[c.Name] = true
	}
	for _, g := range params.DepGroups {
		for _, member := range g.Members {
			if declared[member] {
				continue
			}
			if _, ok := params.Prior.Cell(member); ok {
				continue
			}
			return domain.NewConfigError("build_dep_groups", g.Name,
				fmt.Sprintf("member %q is neither declared nor recorded", member))
		}
	}
	return nil
}

// encodeDepGroups resolves every member to its final out-point and encodes
// each group's OutPointVec. Declared cells win over prior records.
func encodeDepGroups(params Params, cellRecords map[string]domain.CellRecord) (map[string][]byte, error) {
	refs := make(map[string]ledger.OutPoint, len(params.Cells))
	for _, c := range params.Cells {
		if c.Payload.IsReference() {
			refs[c.Name] = *c.Payload.Ref
		}
	}

	payloads := make(map[string][]byte, len(params.DepGroups))
	for _, g := range params.DepGroups {
		points := make([]ledger.OutPoint, 0, len(g.Members))
		for _, member := range g.Members {
			if ref, ok := refs[member]; ok {
				points = append(points, ref)
				continue
			}
			if r, ok := cellRecords[member]; ok {
				points = append(points, r.OutPoint())
				continue
			}
			if r, ok := params.Prior.Cell(member); ok {
				points = append(points, r.OutPoint())
				continue
			}
			return nil, domain.NewConfigError("build_dep_groups", g.Name,
				fmt.Sprintf("member %q does not resolve to a cell record", member))
		}
		payloads[g.Name] = ledger.EncodeOutPoints(points)
	}
	return payloads, nil
}

func (p *pass) buildDepGroupsTx(ctx context.Context, part diff.Partition[domain.DepGroupSpec], payloads map[string][]byte) (*domain.BuiltTx, []domain.DepGroupRecord, error) {
	items := inDeclarationOrder(part, p.params.DepGroups, diff.DepGroupName)
	built := &domain.BuiltTx{Tx: &ledger.Transaction{}}

	for _, it := range items {
		if it.Prior != nil {
			p.addInput(built, it.Prior.Ref, true)
		}
	}
	for _, it := range items {
		data := payloads[it.Spec.Name]
		out, err := ledger.ExactOutput(p.params.Lock, nil, data)
		if err != nil {
			return nil, nil, domain.NewCapacityError("build_dep_groups", fmt.Sprintf("output for %q", it.Spec.Name), err)
		}
		built.Tx.AddOutput(out, data)
	}
	built.Deployed = len(items)

	if err := p.complete(ctx, built, "build_dep_groups"); err != nil {
		return nil, nil, err
	}

	txHash := built.Tx.Hash()
	records := make([]domain.DepGroupRecord, len(items))
	for i, it := range items {
		records[i] = domain.DepGroupRecord{
			Name:             it.Spec.Name,
			TxHash:           txHash,
			Index:            uint32(i),
			OccupiedCapacity: built.Tx.Outputs[i].Capacity,
		}
	}
	return built, records, nil
}

func (p *pass) carryDepGroup(it diff.Item[domain.DepGroupSpec]) domain.DepGroupRecord {
	if r, ok := p.params.Prior.DepGroup(it.Spec.Name); ok {
		return r
	}
	return domain.DepGroupRecord{
		Name:             it.Spec.Name,
		TxHash:           it.Prior.Ref.OutPoint.TxHash,
		Index:            it.Prior.Ref.OutPoint.Index,
		OccupiedCapacity: it.Prior.Ref.Capacity,
	}
}

// =============================================================================
// Inputs & Funding
// =============================================================================

// addInput spends ref and reserves it so no later collection in this run
// picks it up again.
func (p *pass) addInput(built *domain.BuiltTx, ref domain.LiveCellRef, reused bool) {
	built.Tx.Inputs = append(built.Tx.Inputs, ledger.NewCellInput(ref.OutPoint))
	if reused {
		built.Reused = append(built.Reused, ref)
	} else {
		built.Funding = append(built.Funding, ref)
	}
	p.reserved.Add(ref.OutPoint)
}

func (p *pass) collect(ctx context.Context, min uint64) ([]domain.LiveCellRef, error) {
	cells, err := p.funder.CollectSpendable(ctx, min, p.reserved)
	if err != nil {
		if errors.Is(err, domain.ErrCapacity) {
			return nil, err
		}
		return nil, fmt.Errorf("collect spendable cells: %w", err)
	}
	return cells, nil
}

// complete adds lock deps, collects funding for outputs + fee + change and
// appends the change output. Afterwards the transaction is final apart from
// witnesses.
func (p *pass) complete(ctx context.Context, built *domain.BuiltTx, op string) error {
	if p.lockDeps == nil {
		deps, err := p.funder.LockDeps(ctx)
		if err != nil {
			return fmt.Errorf("%s: lock deps: %w", op, err)
		}
		p.lockDeps = deps
	}
	built.Tx.CellDeps = append(built.Tx.CellDeps, p.lockDeps...)

	change := ledger.CellOutput{Lock: p.funder.ChangeLock()}
	changeOccupied, err := ledger.OccupiedCapacity(change, 0)
	if err != nil {
		return domain.NewCapacityError(op, "change output", err)
	}
	outputs, err := built.Tx.OutputsCapacity()
	if err != nil {
		return domain.NewCapacityError(op, "outputs", err)
	}
	needed, err := ledger.SafeAdd(outputs, p.params.Fee)
	if err != nil {
		return domain.NewCapacityError(op, "outputs + fee", err)
	}
	required, err := ledger.SafeAdd(needed, changeOccupied)
	if err != nil {
		return domain.NewCapacityError(op, "outputs + fee + change", err)
	}

	inputs, err := inputsCapacity(built)
	if err != nil {
		return domain.NewCapacityError(op, "inputs", err)
	}
	if inputs != needed && inputs < required {
		funding, err := p.collect(ctx, required-inputs)
		if err != nil {
			return err
		}
		for _, ref := range funding {
			p.addInput(built, ref, false)
		}
		if inputs, err = inputsCapacity(built); err != nil {
			return domain.NewCapacityError(op, "inputs", err)
		}
		if inputs < required {
			return domain.NewCapacityError(op,
				fmt.Sprintf("collected %s, need %s", ledger.FormatCapacity(inputs), ledger.FormatCapacity(required)),
				nil)
		}
	}

	// Exact match: no change cell needed.
	if inputs == needed {
		return nil
	}
	change.Capacity = inputs - needed
	built.Tx.AddOutput(change, []byte{})
	return nil
}

func inputsCapacity(built *domain.BuiltTx) (uint64, error) {
	var total uint64
	for _, refs := range [][]domain.LiveCellRef{built.Reused, built.Funding} {
		for _, r := range refs {
			next, err := ledger.SafeAdd(total, r.Capacity)
			if err != nil {
				return 0, err
			}
			total = next
		}
	}
	return total, nil
}

// inDeclarationOrder returns the deployable items of part following the order
// of specs.
func inDeclarationOrder[T any](part diff.Partition[T], specs []T, nameOf func(T) string) []diff.Item[T] {
	byName := make(map[string]diff.Item[T])
	for _, it := range part.Deployable() {
		byName[nameOf(it.Spec)] = it
	}
	items := make([]diff.Item[T], 0, len(byName))
	for _, s := range specs {
		if it, ok := byName[nameOf(s)]; ok {
			items = append(items, it)
		}
	}
	return items
}
