package ledger

import (
	"errors"
	"fmt"
)

// SignatureSize is the length of a recoverable secp256k1 signature.
const SignatureSize = 65

// ErrUnsignable is returned when a transaction cannot be prepared for signing.
var ErrUnsignable = errors.New("transaction cannot be signed")

// =============================================================================
// Witness Args
// =============================================================================

// WitnessArgs is the structured witness format. A nil field is encoded as none.
type WitnessArgs struct {
	Lock       []byte
	InputType  []byte
	OutputType []byte
}

// Serialize returns the molecule encoding.
func (w WitnessArgs) Serialize() []byte {
	return serializeTable([][]byte{
		serializeBytesOpt(w.Lock),
		serializeBytesOpt(w.InputType),
		serializeBytesOpt(w.OutputType),
	})
}

// =============================================================================
// Sighash-All
// =============================================================================
//
// Every input of a deployment transaction is locked by the same deployer lock,
// so all inputs form a single script group. The first witness carries the
// signature, the remaining input witnesses are empty.

// PrepareSighashWitnesses resets the witnesses of tx to the placeholder layout:
// a WitnessArgs with a zeroed 65-byte lock for the first input, empty bytes for
// the others.
func PrepareSighashWitnesses(tx *Transaction) error {
	if len(tx.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrUnsignable)
	}
	witnesses := make([][]byte, len(tx.Inputs))
	witnesses[0] = WitnessArgs{Lock: make([]byte, SignatureSize)}.Serialize()
	for i := 1; i < len(witnesses); i++ {
		witnesses[i] = []byte{}
	}
	tx.Witnesses = witnesses
	return nil
}

// SighashAllMessage returns the 32-byte message the deployer lock signs:
// blake256(tx hash, then each witness of the group prefixed by its u64 length).
// Witnesses must already be in placeholder layout.
func SighashAllMessage(tx *Transaction) (Hash, error) {
	if len(tx.Witnesses) == 0 {
		return Hash{}, fmt.Errorf("%w: witnesses not prepared", ErrUnsignable)
	}
	txHash := tx.Hash()
	h := NewHasher()
	h.Write(txHash[:])
	for _, w := range tx.Witnesses {
		h.Write(packUint64(uint64(len(w))))
		h.Write(w)
	}
	var msg Hash
	copy(msg[:], h.Sum(nil))
	return msg, nil
}

// AttachSignature places a recoverable signature into the first witness.
func AttachSignature(tx *Transaction, signature []byte) error {
	if len(signature) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrUnsignable, len(signature), SignatureSize)
	}
	if len(tx.Witnesses) == 0 {
		return fmt.Errorf("%w: witnesses not prepared", ErrUnsignable)
	}
	sig := append([]byte{}, signature...)
	tx.Witnesses[0] = WitnessArgs{Lock: sig}.Serialize()
	return nil
}
