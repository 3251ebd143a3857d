package ledger

import (
	"encoding/binary"
	"fmt"
)

// =============================================================================
// Out-Point
// =============================================================================

// outPointSize is the molecule size of an OutPoint struct.
const outPointSize = HashSize + 4

// OutPoint locates a cell: the transaction that created it and the output index.
type OutPoint struct {
	TxHash Hash
	Index  uint32
}

// Serialize returns the molecule encoding (36 bytes).
func (o OutPoint) Serialize() []byte {
	out := make([]byte, 0, outPointSize)
	out = append(out, o.TxHash[:]...)
	return append(out, packUint32(o.Index)...)
}

// String returns "<tx hash>#<index>".
func (o OutPoint) String() string {
	return fmt.Sprintf("%s#%d", o.TxHash, o.Index)
}

// EncodeOutPoints returns the molecule OutPointVec encoding of points. This is
// the data stored in a dependency group cell.
func EncodeOutPoints(points []OutPoint) []byte {
	items := make([][]byte, len(points))
	for i, p := range points {
		items[i] = p.Serialize()
	}
	return serializeFixVec(items)
}

// DecodeOutPoints parses an OutPointVec.
func DecodeOutPoints(data []byte) ([]OutPoint, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: out point vector too short", ErrMalformedMolecule)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+n*outPointSize {
		return nil, fmt.Errorf("%w: out point vector of %d items has %d bytes", ErrMalformedMolecule, n, len(data))
	}
	points := make([]OutPoint, n)
	for i := range points {
		item := data[4+i*outPointSize : 4+(i+1)*outPointSize]
		copy(points[i].TxHash[:], item[:HashSize])
		points[i].Index = binary.LittleEndian.Uint32(item[HashSize:])
	}
	return points, nil
}

// =============================================================================
// Cell Dep / Input / Output
// =============================================================================

// DepType selects how a cell dep is loaded.
type DepType byte

const (
	DepTypeCode     DepType = 0
	DepTypeDepGroup DepType = 1
)

// String returns the RPC name of the dep type.
func (d DepType) String() string {
	if d == DepTypeDepGroup {
		return "dep_group"
	}
	return "code"
}

// ParseDepType parses the RPC name of a dep type.
func ParseDepType(s string) (DepType, error) {
	switch s {
	case "code":
		return DepTypeCode, nil
	case "dep_group":
		return DepTypeDepGroup, nil
	default:
		return 0, fmt.Errorf("unknown dep type %q", s)
	}
}

// CellDep references a cell whose code or dependency group a transaction loads.
type CellDep struct {
	OutPoint OutPoint
	DepType  DepType
}

// Serialize returns the molecule encoding (37 bytes).
func (d CellDep) Serialize() []byte {
	return append(d.OutPoint.Serialize(), byte(d.DepType))
}

// CellInput spends a live cell.
type CellInput struct {
	Since          uint64
	PreviousOutput OutPoint
}

// NewCellInput spends out with since = 0.
func NewCellInput(out OutPoint) CellInput {
	return CellInput{PreviousOutput: out}
}

// Serialize returns the molecule encoding (44 bytes).
func (i CellInput) Serialize() []byte {
	return append(packUint64(i.Since), i.PreviousOutput.Serialize()...)
}

// CellOutput is a cell created by a transaction. Type is nil when the cell has
// no type script.
type CellOutput struct {
	Capacity uint64
	Lock     Script
	Type     *Script
}

// Serialize returns the molecule encoding.
func (o CellOutput) Serialize() []byte {
	var typ []byte
	if o.Type != nil {
		typ = o.Type.Serialize()
	}
	return serializeTable([][]byte{
		packUint64(o.Capacity),
		o.Lock.Serialize(),
		typ,
	})
}

// =============================================================================
// Transaction
// =============================================================================

// Transaction is a ledger transaction. Witnesses are not part of the hash.
type Transaction struct {
	Version     uint32
	CellDeps    []CellDep
	HeaderDeps  []Hash
	Inputs      []CellInput
	Outputs     []CellOutput
	OutputsData [][]byte
	Witnesses   [][]byte
}

// SerializeRaw returns the molecule encoding of the raw transaction (all
// fields except witnesses).
func (tx *Transaction) SerializeRaw() []byte {
	deps := make([][]byte, len(tx.CellDeps))
	for i, d := range tx.CellDeps {
		deps[i] = d.Serialize()
	}
	headers := make([][]byte, len(tx.HeaderDeps))
	for i, h := range tx.HeaderDeps {
		headers[i] = h.Bytes()
	}
	inputs := make([][]byte, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = in.Serialize()
	}
	outputs := make([][]byte, len(tx.Outputs))
	for i, out := range tx.Outputs {
		outputs[i] = out.Serialize()
	}
	return serializeTable([][]byte{
		packUint32(tx.Version),
		serializeFixVec(deps),
		serializeFixVec(headers),
		serializeFixVec(inputs),
		serializeDynVec(outputs),
		serializeBytesVec(tx.OutputsData),
	})
}

// Serialize returns the molecule encoding of the full transaction.
func (tx *Transaction) Serialize() []byte {
	return serializeTable([][]byte{
		tx.SerializeRaw(),
		serializeBytesVec(tx.Witnesses),
	})
}

// Hash returns the transaction hash. It depends on the final ordering of
// inputs and outputs, so callers must only read it once the transaction is
// fully built.
func (tx *Transaction) Hash() Hash {
	return Blake256(tx.SerializeRaw())
}

// OutputsCapacity sums the capacity of all outputs.
func (tx *Transaction) OutputsCapacity() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		next, err := SafeAdd(total, out.Capacity)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// AddOutput appends an output with its data.
func (tx *Transaction) AddOutput(out CellOutput, data []byte) {
	tx.Outputs = append(tx.Outputs, out)
	tx.OutputsData = append(tx.OutputsData, data)
}

// InputOutPoints lists the out-points spent by the transaction.
func (tx *Transaction) InputOutPoints() []OutPoint {
	points := make([]OutPoint, len(tx.Inputs))
	for i, in := range tx.Inputs {
		points[i] = in.PreviousOutput
	}
	return points
}

// Clone returns a deep copy, so signing never mutates a planned transaction.
func (tx *Transaction) Clone() *Transaction {
	c := &Transaction{
		Version:    tx.Version,
		CellDeps:   append([]CellDep(nil), tx.CellDeps...),
		HeaderDeps: append([]Hash(nil), tx.HeaderDeps...),
		Inputs:     append([]CellInput(nil), tx.Inputs...),
	}
	c.Outputs = make([]CellOutput, len(tx.Outputs))
	for i, out := range tx.Outputs {
		c.Outputs[i] = CellOutput{Capacity: out.Capacity, Lock: out.Lock.Clone()}
		if out.Type != nil {
			typ := out.Type.Clone()
			c.Outputs[i].Type = &typ
		}
	}
	c.OutputsData = make([][]byte, len(tx.OutputsData))
	for i, d := range tx.OutputsData {
		c.OutputsData[i] = append([]byte{}, d...)
	}
	if tx.Witnesses != nil {
		c.Witnesses = make([][]byte, len(tx.Witnesses))
		for i, w := range tx.Witnesses {
			c.Witnesses[i] = append([]byte{}, w...)
		}
	}
	return c
}

// =============================================================================
// Out-Point Set
// =============================================================================

// OutPointSet is an in-memory set of reserved out-points. The deployment
// builder adds every input it selects so that later funding collection in the
// same run skips them.
type OutPointSet struct {
	points map[OutPoint]struct{}
}

// NewOutPointSet returns an empty set.
func NewOutPointSet() *OutPointSet {
	return &OutPointSet{points: make(map[OutPoint]struct{})}
}

// Add inserts points into the set.
func (s *OutPointSet) Add(points ...OutPoint) {
	for _, p := range points {
		s.points[p] = struct{}{}
	}
}

// Contains reports whether p is in the set. A nil set contains nothing.
func (s *OutPointSet) Contains(p OutPoint) bool {
	if s == nil {
		return false
	}
	_, ok := s.points[p]
	return ok
}

// Len returns the number of reserved out-points.
func (s *OutPointSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}
