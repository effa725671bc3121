// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Campaign is the content of a campaign file. Unset fields keep their defaults.
type Campaign struct {
	Sequences *int            `yaml:"sequences" toml:"sequences"`
	Flows     *int            `yaml:"flows" toml:"flows"`
	Seed      *int64          `yaml:"seed" toml:"seed"`
	Users     *int            `yaml:"users" toml:"users"`
	Tokens    *int            `yaml:"tokens" toml:"tokens"`
	Weights   map[string]uint `yaml:"weights" toml:"weights"`
	Bounds    CampaignBounds  `yaml:"bounds" toml:"bounds"`
	Faults    []string        `yaml:"faults" toml:"faults"`
}

// CampaignBounds overrides generator bounds. Amounts are decimal strings.
type CampaignBounds struct {
	MinLoanSize      string  `yaml:"minLoanSize" toml:"minLoanSize"`
	MaxLoanRatio     string  `yaml:"maxLoanRatio" toml:"maxLoanRatio"`
	InterestRate     string  `yaml:"interestRate" toml:"interestRate"`
	AuctionLengthMax string  `yaml:"auctionLengthMax" toml:"auctionLengthMax"`
	PoolAmountMax    string  `yaml:"poolAmountMax" toml:"poolAmountMax"`
	InterestRateMin  string  `yaml:"interestRateMin" toml:"interestRateMin"`
	InterestRateMax  string  `yaml:"interestRateMax" toml:"interestRateMax"`
	MaxLoanRatioMin  string  `yaml:"maxLoanRatioMin" toml:"maxLoanRatioMin"`
	MaxLoanRatioMax  string  `yaml:"maxLoanRatioMax" toml:"maxLoanRatioMax"`
	WarpMax          *uint64 `yaml:"warpMax" toml:"warpMax"`
}

// LoadCampaign decodes a campaign file; the format is derived from its extension.
func LoadCampaign(path string) (*Campaign, error) {
	var c Campaign
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &c)
		if err != nil {
			return nil, fmt.Errorf("cannot decode campaign %s; %v", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("campaign %s has unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cannot open campaign %s; %v", path, err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&c); err != nil {
			return nil, fmt.Errorf("cannot decode campaign %s; %v", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported campaign format %q, use .yaml, .yml or .toml", ext)
	}
	return &c, nil
}

// apply overrides the values of cfg set in the campaign.
func (c *Campaign) apply(cfg *Config) error {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&cfg.Sequences, c.Sequences)
	setInt(&cfg.Flows, c.Flows)
	setInt(&cfg.Users, c.Users)
	setInt(&cfg.Tokens, c.Tokens)
	if c.Seed != nil {
		cfg.Seed = *c.Seed
		cfg.SeedSet = true
	}
	for name, w := range c.Weights {
		if cfg.Weights == nil {
			cfg.Weights = make(map[string]uint)
		}
		cfg.Weights[name] = w
	}
	cfg.Faults = append(cfg.Faults, c.Faults...)
	return c.Bounds.apply(&cfg.Bounds)
}

func (b *CampaignBounds) apply(bounds *fuzz.Bounds) error {
	amounts := []struct {
		name  string
		value string
		dst   *uint256.Int
	}{
		{"minLoanSize", b.MinLoanSize, &bounds.MinLoanSize},
		{"maxLoanRatio", b.MaxLoanRatio, &bounds.MaxLoanRatio},
		{"interestRate", b.InterestRate, &bounds.InterestRate},
		{"auctionLengthMax", b.AuctionLengthMax, &bounds.AuctionLengthMax},
		{"poolAmountMax", b.PoolAmountMax, &bounds.PoolAmountMax},
		{"interestRateMin", b.InterestRateMin, &bounds.InterestRateMin},
		{"interestRateMax", b.InterestRateMax, &bounds.InterestRateMax},
		{"maxLoanRatioMin", b.MaxLoanRatioMin, &bounds.MaxLoanRatioMin},
		{"maxLoanRatioMax", b.MaxLoanRatioMax, &bounds.MaxLoanRatioMax},
	}
	for _, a := range amounts {
		if a.value == "" {
			continue
		}
		v, err := uint256.FromDecimal(strings.ReplaceAll(a.value, "_", ""))
		if err != nil {
			return fmt.Errorf("invalid bound %s %q; %v", a.name, a.value, err)
		}
		*a.dst = *v
	}
	if b.WarpMax != nil {
		bounds.WarpMax = *b.WarpMax
	}
	return nil
}
