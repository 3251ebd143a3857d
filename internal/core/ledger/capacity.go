package ledger

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// ShannonsPerCKB is the number of base units in one whole token.
const ShannonsPerCKB uint64 = 100_000_000

// capacityDecimals is the number of fractional digits a capacity can carry.
const capacityDecimals = 8

// cellCapacityBytes is the space taken by the capacity field itself.
const cellCapacityBytes = 8

var (
	// ErrCapacityOverflow is returned when capacity arithmetic exceeds u64.
	ErrCapacityOverflow = errors.New("capacity overflow")

	// ErrInvalidCapacity is returned for unparseable human capacities.
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// =============================================================================
// Occupied Capacity
// =============================================================================

// OccupiedCapacity returns the minimum capacity, in shannons, a cell with the
// given output shape and data length must hold. One byte costs one token.
func OccupiedCapacity(out CellOutput, dataLen int) (uint64, error) {
	size := uint64(cellCapacityBytes) + out.Lock.OccupiedBytes()
	if out.Type != nil {
		size += out.Type.OccupiedBytes()
	}
	size += uint64(dataLen)
	return SafeMul(size, ShannonsPerCKB)
}

// ExactOutput returns an output for data whose capacity equals its occupied
// capacity.
//
// Example:
//
//	out, err := ledger.ExactOutput(lock, nil, binary)
//	// out.Capacity == (8 + 53 + len(binary)) * ShannonsPerCKB for a secp lock
func ExactOutput(lock Script, typ *Script, data []byte) (CellOutput, error) {
	out := CellOutput{Lock: lock, Type: typ}
	capacity, err := OccupiedCapacity(out, len(data))
	if err != nil {
		return CellOutput{}, err
	}
	out.Capacity = capacity
	return out, nil
}

// SafeAdd adds two capacities, failing on overflow.
func SafeAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrCapacityOverflow
	}
	return sum, nil
}

// SafeMul multiplies two capacities, failing on overflow.
func SafeMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrCapacityOverflow
	}
	return lo, nil
}

// =============================================================================
// Human Capacity
// =============================================================================

// ParseCapacity parses a decimal token amount ("0.001", "61", "1.5") into
// shannons. At most eight fractional digits are accepted.
func ParseCapacity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidCapacity)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCapacity, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > capacityDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidCapacity, s, capacityDecimals)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCapacity, s)
	}

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidCapacity, s, err)
	}
	shannons, err := SafeMul(w, ShannonsPerCKB)
	if err != nil {
		return 0, err
	}
	if frac != "" {
		f, err := strconv.ParseUint(frac+strings.Repeat("0", capacityDecimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidCapacity, s, err)
		}
		return SafeAdd(shannons, f)
	}
	return shannons, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatCapacity renders shannons as "<whole>.<frac> (CKB)" with trailing
// zeros trimmed, for example "1024.0 (CKB)" or "0.0001 (CKB)".
func FormatCapacity(shannons uint64) string {
	return formatShannons(shannons) + " (CKB)"
}

// FormatCapacityDelta renders a signed capacity change, such as the
// difference between a migrated cell's new and old occupied capacity.
func FormatCapacityDelta(delta int64) string {
	if delta < 0 {
		var magnitude uint64
		if delta == math.MinInt64 {
			magnitude = uint64(math.MaxInt64) + 1
		} else {
			magnitude = uint64(-delta)
		}
		return "-" + FormatCapacity(magnitude)
	}
	return "+" + FormatCapacity(uint64(delta))
}

func formatShannons(shannons uint64) string {
	whole := shannons / ShannonsPerCKB
	frac := fmt.Sprintf("%08d", shannons%ShannonsPerCKB)
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	return fmt.Sprintf("%d.%s", whole, frac)
}
