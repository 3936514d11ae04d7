package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single chain endpoint and its custody settings.
type Definition struct {
	Enabled           bool   `yaml:"enabled"`
	RPCURL            string `yaml:"rpc_url"`
	CollectionAddress string `yaml:"collection_address"`
	Description       string `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read chain definitions: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("parse chain definitions: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	return defs, nil
}

// CollectionAddresses extracts the per-chain withdrawal destination for
// every enabled chain.
func (d Definitions) CollectionAddresses() map[Chain]string {
	out := make(map[Chain]string, len(d.Chains))
	for name, def := range d.Chains {
		if !def.Enabled {
			continue
		}
		if id, ok := Parse(name); ok {
			out[id] = def.CollectionAddress
		}
	}
	return out
}
