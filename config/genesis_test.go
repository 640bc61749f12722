package config

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotmint/lotmint/lotpool"
)

func TestParseGenesis(t *testing.T) {
	raw := []byte(`{
		"admin":    "0x00000000000000000000000000000000000000a1",
		"asset":    "0x00000000000000000000000000000000000000a4",
		"receiver": "0x00000000000000000000000000000000000000a3",
		"unitPrice": "199000000",
		"ranges": [{"start": 1, "end": 1100}]
	}`)

	genesis, err := ParseGenesis(raw)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000A1", genesis.Admin.Hex())
	assert.Zero(t, big.NewInt(199_000000).Cmp(genesis.UnitPrice))
	assert.Equal(t, []lotpool.Range{{Start: 1, End: 1100}}, genesis.Ranges)
}

func TestParseGenesisOptionalFields(t *testing.T) {
	raw := []byte(`{
		"admin":    "0x00000000000000000000000000000000000000a1",
		"asset":    "0x00000000000000000000000000000000000000a4",
		"receiver": "0x00000000000000000000000000000000000000a3"
	}`)

	genesis, err := ParseGenesis(raw)
	require.NoError(t, err)
	assert.Nil(t, genesis.UnitPrice)
	assert.Empty(t, genesis.Ranges)
}

func TestParseGenesisRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"missing admin":   `{"asset": "0x00000000000000000000000000000000000000a4", "receiver": "0x00000000000000000000000000000000000000a3"}`,
		"bad address":     `{"admin": "a1", "asset": "0x00000000000000000000000000000000000000a4", "receiver": "0x00000000000000000000000000000000000000a3"}`,
		"price not digit": `{"admin": "0x00000000000000000000000000000000000000a1", "asset": "0x00000000000000000000000000000000000000a4", "receiver": "0x00000000000000000000000000000000000000a3", "unitPrice": "19.9"}`,
		"unknown field":   `{"admin": "0x00000000000000000000000000000000000000a1", "asset": "0x00000000000000000000000000000000000000a4", "receiver": "0x00000000000000000000000000000000000000a3", "price": "1"}`,
		"inverted range":  `{"admin": "0x00000000000000000000000000000000000000a1", "asset": "0x00000000000000000000000000000000000000a4", "receiver": "0x00000000000000000000000000000000000000a3", "ranges": [{"start": 9, "end": 3}]}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGenesis([]byte(raw))
			assert.Error(t, err)
		})
	}
}
