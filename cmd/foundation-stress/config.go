// Copyright 2026 The opus3d Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to every configuration key looked up in the
// environment: --heap-limit is read from FOUNDATION_HEAP_LIMIT.
const envPrefix = "FOUNDATION"

type config struct {
	LogLevel string
	Seed     int64
	Workers  int
	Shards   int

	// map
	Ops       int
	KeySpace  int
	Hash      string
	HeapLimit int

	// fiber
	Fibers    int
	Yields    int
	StackSize int
}

var hashNames = []string{"maphash", "xxh3", "xxhash", "murmur3"}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional YAML, TOML or JSON config file")
	fs.String("log-level", "INFO", "DEBUG, INFO, WARN, ERROR or DISABLED")
	fs.Int64("seed", 1, "random seed; shard i uses seed+i")
	fs.Int("workers", 4, "size of the worker pool")
	fs.Int("shards", 8, "number of independent shards")

	fs.Int("ops", 100000, "map operations per shard")
	fs.Int("key-space", 4096, "distinct keys per shard")
	fs.String("hash", "xxh3", "map hasher: "+strings.Join(hashNames, ", "))
	fs.Int("heap-limit", 0, "byte limit of each shard's heap allocator, 0 for none")

	fs.Int("fibers", 64, "fibers per shard")
	fs.Int("yields", 100, "yields per fiber")
	fs.Int("stack-size", 16<<10, "stack buffer size of each fiber")
}

// loadConfig resolves the configuration of cmd. Flags set on the command
// line win over the environment, which wins over the config file, which
// wins over flag defaults.
func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config{}, errors.Wrap(err, "binding flags")
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	cfg := config{
		LogLevel:  v.GetString("log-level"),
		Seed:      v.GetInt64("seed"),
		Workers:   v.GetInt("workers"),
		Shards:    v.GetInt("shards"),
		Ops:       v.GetInt("ops"),
		KeySpace:  v.GetInt("key-space"),
		Hash:      strings.ToLower(v.GetString("hash")),
		HeapLimit: v.GetInt("heap-limit"),
		Fibers:    v.GetInt("fibers"),
		Yields:    v.GetInt("yields"),
		StackSize: v.GetInt("stack-size"),
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.Workers <= 0:
		return errors.Newf("workers must be positive, got %d", c.Workers)
	case c.Shards <= 0:
		return errors.Newf("shards must be positive, got %d", c.Shards)
	case c.Ops < 0 || c.KeySpace <= 0:
		return errors.Newf("invalid map workload: ops=%d key-space=%d", c.Ops, c.KeySpace)
	case c.HeapLimit < 0:
		return errors.Newf("heap-limit must not be negative, got %d", c.HeapLimit)
	case c.Fibers < 0 || c.Yields < 0:
		return errors.Newf("invalid fiber workload: fibers=%d yields=%d", c.Fibers, c.Yields)
	case c.StackSize < minStackSize:
		return errors.Newf("stack-size must be at least %d, got %d", minStackSize, c.StackSize)
	}
	for _, n := range hashNames {
		if c.Hash == n {
			return nil
		}
	}
	return errors.Newf("unknown hash %q, want one of %s", c.Hash, strings.Join(hashNames, ", "))
}
