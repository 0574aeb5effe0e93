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

// foundation-stress drives the swiss map and fibers through randomized
// workloads, checking every result against a reference, and exits non-zero
// on the first divergence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/opus3d/foundation/errcode"
	"github.com/opus3d/foundation/internal/logger"
	"github.com/opus3d/foundation/internal/simd"
	"github.com/opus3d/foundation/swiss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "foundation-stress",
		Short:         "Randomized stress tests for the foundation packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerFlags(root.PersistentFlags())
	root.AddCommand(mapCommand(), fiberCommand(), infoCommand())
	return root
}

// setup loads the configuration and initializes logging.
func setup(cmd *cobra.Command) (config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, err
	}
	if err := logger.Init(cmd.ErrOrStderr(), cmd.Root().Name(), cfg.LogLevel); err != nil {
		return cfg, err
	}
	registerSink.Do(func() {
		errcode.RegisterPanicSink(func(msg string, err error) {
			log.Error().Err(err).Str("panic", msg).Msg("stress run aborting")
		})
	})
	return cfg, nil
}

// registerSink guards the process-wide panic sink, which outlives any one
// command run.
var registerSink sync.Once

func mapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Random put/delete/find/rehash against a builtin map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return runShards(cmd.Context(), cfg, "map", mapShard)
		},
	}
}

func fiberCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fiber",
		Short: "Round-robin fibers with fiber-local maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return runShards(cmd.Context(), cfg, "fiber", fiberShard)
		},
	}
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print build and layout information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "simd backend:      %s\n", simd.Backend())
			fmt.Fprintf(out, "invariant checks:  %t\n", errcode.Invariants)
			for _, c := range []int{16, 1024, 1 << 16} {
				fmt.Fprintf(out, "block[%d]uint64:   %d bytes\n", c, swiss.StorageBlockSize[uint64, uint64](c))
			}
			return nil
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "foundation-stress: %v\n", err)
		os.Exit(1)
	}
}
