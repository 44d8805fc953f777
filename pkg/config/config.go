// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/logutil"
)

// TieBreak decides which of two equal-cost candidates wins.
type TieBreak string

const (
	// TieBreakFirstFound keeps the incumbent winner.
	TieBreakFirstFound TieBreak = "first-found"
	// TieBreakLowerExprID prefers the MultiExpression with the lower id, so the
	// winner does not depend on the order tasks happened to run in.
	TieBreakLowerExprID TieBreak = "lower-expr-id"
)

const (
	defaultMaxTasks  = 1 << 20
	defaultMaxPasses = 8
)

// SearchVariables are the session-level tunables of one optimize() run.
type SearchVariables struct {
	// MaxTasks bounds the number of tasks a single run may execute. When the
	// budget is exhausted the run stops and keeps the best plan found so far.
	MaxTasks int `toml:"max-tasks"`

	// Timeout is a wall-clock budget for a run. Zero disables it.
	Timeout Duration `toml:"timeout"`

	// MaxPasses bounds the number of search passes; a new pass is started
	// only when groups were merged during the previous one. If the last
	// pass still merged groups, the memo is costed once more without
	// exploration and the run counts as exhausted.
	MaxPasses int `toml:"max-passes"`

	TieBreak TieBreak `toml:"tie-break"`

	// RulePriority overrides the promise of the named rules. Higher runs
	// first.
	RulePriority map[string]int `toml:"rule-priority"`

	DisabledRules []string `toml:"disabled-rules"`

	EnableEnforcers bool `toml:"enable-enforcers"`

	// EnableCostBound prunes a candidate as soon as its partial cost exceeds
	// the current winner.
	EnableCostBound bool `toml:"enable-cost-bound"`
}

// NewSearchVariables returns variables with every field set to its default.
func NewSearchVariables() *SearchVariables {
	v := &SearchVariables{
		EnableEnforcers: true,
		EnableCostBound: true,
	}
	_ = v.Validate(context.Background())
	return v
}

// Validate fills defaults for unset fields and rejects values that cannot
// be honored.
func (v *SearchVariables) Validate(ctx context.Context) error {
	if v.MaxTasks < 0 {
		return moerr.NewInvalidInput(ctx, "max-tasks must not be negative, got %d", v.MaxTasks)
	}
	if v.MaxTasks == 0 {
		v.MaxTasks = defaultMaxTasks
	}
	if v.MaxPasses < 0 {
		return moerr.NewInvalidInput(ctx, "max-passes must not be negative, got %d", v.MaxPasses)
	}
	if v.MaxPasses == 0 {
		v.MaxPasses = defaultMaxPasses
	}
	if v.Timeout.Duration < 0 {
		return moerr.NewInvalidInput(ctx, "timeout must not be negative, got %s", v.Timeout.Duration)
	}
	switch v.TieBreak {
	case "":
		v.TieBreak = TieBreakFirstFound
	case TieBreakFirstFound, TieBreakLowerExprID:
	default:
		return moerr.NewInvalidInput(ctx, "unknown tie-break policy %q", v.TieBreak)
	}
	if v.RulePriority == nil {
		v.RulePriority = make(map[string]int)
	}
	return nil
}

// TimeoutDuration returns the wall-clock budget, zero meaning none.
func (v *SearchVariables) TimeoutDuration() time.Duration {
	return v.Timeout.Duration
}

// Duration is a time.Duration that decodes from strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the file layout read by cmd/mo-explain.
type Config struct {
	Log    logutil.LogConfig `toml:"log"`
	Search SearchVariables   `toml:"search"`
}

// NewConfig returns a configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Log:    logutil.LogConfig{Level: "info", Format: "console"},
		Search: *NewSearchVariables(),
	}
}

// Parse decodes a TOML document on top of the defaults.
func Parse(ctx context.Context, data string) (*Config, error) {
	cfg := NewConfig()
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, moerr.NewInvalidInput(ctx, "decode config: %v", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, moerr.NewInvalidInput(ctx, "unknown config key %s", undecoded[0].String())
	}
	if err = cfg.Search.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes the TOML file at path on top of the defaults.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	cfg := NewConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, moerr.NewInvalidInput(ctx, "decode config file %s: %v", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, moerr.NewInvalidInput(ctx, "unknown config key %s in %s", undecoded[0].String(), path)
	}
	if err = cfg.Search.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}
