// Package chainset loads the static per-fork router/Permit2 address
// registry. This is deployment infrastructure, not user policy, so it
// stays out of the spec-mandated JSON config and is loaded from YAML
// instead, the way the teacher loads its own static config.
package chainset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ForkAddresses holds the deployed contract addresses for one DEX fork.
type ForkAddresses struct {
	V2SwapperProxy  string `yaml:"v2_swapper_proxy"`
	V3Router        string `yaml:"v3_router"`
	V4UniversalRtr  string `yaml:"v4_universal_router"`
	Permit2         string `yaml:"permit2"`
}

// ChainSet is the static registry for a single chain tag.
type ChainSet struct {
	ChainTag      string                   `yaml:"chain_tag"`
	WETH          string                   `yaml:"weth"`
	BaseTokens    []string                 `yaml:"base_tokens"`
	Forks         map[string]ForkAddresses `yaml:"forks"`
	TickSpacings  map[int]int              `yaml:"tick_spacings"`
}

// Registry maps chain tags to their ChainSet.
type Registry struct {
	Chains map[string]ChainSet `yaml:"chains"`
}

// defaultTickSpacings is the fee→tick-spacing fallback from spec §4.3,
// used when a ChainSet file doesn't override it.
var defaultTickSpacings = map[int]int{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// Load reads the YAML chain-set file. A missing file is not an error —
// the registry falls back to an empty set, and the caller's lookups
// will simply come up empty (a deployment with no router addresses
// configured can still run the aggregation/policy/feed surfaces).
func Load(path string) (*Registry, error) {
	reg := &Registry{Chains: map[string]ChainSet{}}
	if strings.TrimSpace(path) == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse chainset %s: %w", path, err)
	}
	return reg, nil
}

// TickSpacing resolves the default tick spacing for a fee tier, falling
// back to 60 per spec §4.3 when the fee tier isn't in the table.
func (r *Registry) TickSpacing(chainTag string, fee int) int {
	if cs, ok := r.Chains[chainTag]; ok {
		if spacing, ok := cs.TickSpacings[fee]; ok {
			return spacing
		}
	}
	if spacing, ok := defaultTickSpacings[fee]; ok {
		return spacing
	}
	return 60
}

// BaseTokens returns the chain's priority-ordered base-token allowlist
// (spec's {ZORA, CLANKER} candidate order), nil if the chain tag is
// unconfigured.
func (r *Registry) BaseTokens(chainTag string) []string {
	return r.Chains[chainTag].BaseTokens
}

// Fork looks up the router/Permit2 addresses for a fork on a chain tag.
func (r *Registry) Fork(chainTag, fork string) (ForkAddresses, bool) {
	cs, ok := r.Chains[chainTag]
	if !ok {
		return ForkAddresses{}, false
	}
	fa, ok := cs.Forks[fork]
	return fa, ok
}

// WETH returns the chain's wrapped-native address, or empty if unset.
func (r *Registry) WETH(chainTag string) string {
	return r.Chains[chainTag].WETH
}
