package ledger

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeLegacy(t *testing.T, hrp string, payload []byte) string {
	t.Helper()
	data, err := bech32.ConvertBits(payload, 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode(hrp, data)
	require.NoError(t, err)
	return addr
}

func TestParseAddress_Full(t *testing.T) {
	lock := testLock()
	addr, err := EncodeAddress(NetworkTestnet, lock)
	require.NoError(t, err)

	parsed, err := ParseAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, NetworkTestnet, parsed.Network)
	assert.True(t, lock.Equal(parsed.Script))
	assert.Equal(t, addr, parsed.String())
}

func TestParseAddress_Short(t *testing.T) {
	lock := testLock()
	payload := append([]byte{0x01, 0x00}, lock.Args...)
	addr := encodeLegacy(t, "ckb", payload)

	parsed, err := ParseAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, parsed.Network)
	assert.True(t, lock.Equal(parsed.Script))
}

func TestParseAddress_ShortMultisig(t *testing.T) {
	payload := append([]byte{0x01, 0x01}, make([]byte, 20)...)

	parsed, err := ParseAddress(encodeLegacy(t, "ckt", payload))
	require.NoError(t, err)
	assert.Equal(t, MultisigCodeHash, parsed.Script.CodeHash)
}

func TestParseAddress_FullData(t *testing.T) {
	codeHash := Blake256([]byte("lock"))
	payload := append([]byte{0x02}, codeHash[:]...)
	payload = append(payload, 0x01, 0x02)

	parsed, err := ParseAddress(encodeLegacy(t, "ckt", payload))
	require.NoError(t, err)
	assert.Equal(t, HashTypeData, parsed.Script.HashType)
	assert.Equal(t, codeHash, parsed.Script.CodeHash)
	assert.Equal(t, []byte{0x01, 0x02}, parsed.Script.Args)
}

func TestParseAddress_Invalid(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"garbage", "not-an-address"},
		{"unknown prefix", encodeLegacy(t, "btc", append([]byte{0x01, 0x00}, make([]byte, 20)...))},
		{"short too long", encodeLegacy(t, "ckb", append([]byte{0x01, 0x00}, make([]byte, 21)...))},
		{"unknown short index", encodeLegacy(t, "ckb", append([]byte{0x01, 0x05}, make([]byte, 20)...))},
		{"unknown format", encodeLegacy(t, "ckb", []byte{0x09, 0x00})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.addr)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}
