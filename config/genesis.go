// Package config loads and validates the genesis document a deployment is
// initialized from.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xeipuuv/gojsonschema"

	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/types"
)

// genesisSchema rejects malformed documents before any field parsing runs.
const genesisSchema = `{
	"type": "object",
	"required": ["admin", "asset", "receiver"],
	"additionalProperties": false,
	"properties": {
		"admin":    {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"asset":    {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"receiver": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"unitPrice": {"type": "string", "pattern": "^[0-9]+$"},
		"ranges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["start", "end"],
				"additionalProperties": false,
				"properties": {
					"start": {"type": "integer", "minimum": 0},
					"end":   {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`

type genesisDoc struct {
	Admin     string `json:"admin"`
	Asset     string `json:"asset"`
	Receiver  string `json:"receiver"`
	UnitPrice string `json:"unitPrice"`
	Ranges    []struct {
		Start uint64 `json:"start"`
		End   uint64 `json:"end"`
	} `json:"ranges"`
}

// LoadGenesis reads and validates a genesis document from path.
func LoadGenesis(path string) (*types.Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(raw)
}

// ParseGenesis validates a genesis document against the schema and decodes it.
func ParseGenesis(raw []byte) (*types.Genesis, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(genesisSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate genesis: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid genesis: %s", result.Errors()[0])
	}

	var doc genesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}

	genesis := &types.Genesis{
		Admin:    common.HexToAddress(doc.Admin),
		Asset:    common.HexToAddress(doc.Asset),
		Receiver: common.HexToAddress(doc.Receiver),
	}
	if doc.UnitPrice != "" {
		price, ok := new(big.Int).SetString(doc.UnitPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid unit price %q", doc.UnitPrice)
		}
		genesis.UnitPrice = price
	}
	for _, r := range doc.Ranges {
		if r.Start > r.End {
			return nil, fmt.Errorf("invalid range [%d, %d]", r.Start, r.End)
		}
		genesis.Ranges = append(genesis.Ranges, lotpool.Range{Start: r.Start, End: r.End})
	}
	return genesis, nil
}
