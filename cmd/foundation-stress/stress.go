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
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/fiber"
	"github.com/opus3d/foundation/hashfn"
	"github.com/opus3d/foundation/memory"
	"github.com/opus3d/foundation/swiss"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// minStackSize is the smallest fiber stack buffer the fiber workload runs
// with. Half of it backs a fiber-local map.
const minStackSize = 4096

// fiberKeys bounds the keys of a fiber-local map, and with it the map's
// growth inside its arena.
const fiberKeys = 16

type shardFunc func(ctx context.Context, cfg config, shard int) error

// runShards runs fn for shards 0..cfg.Shards-1 on a pool of cfg.Workers
// goroutines and returns the combined failures.
func runShards(ctx context.Context, cfg config, name string, fn shardFunc) error {
	pool, err := ants.NewPool(cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return errors.Wrap(err, "creating worker pool")
	}
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
		errs   error
	)
	record := func(shard int, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed++
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "shard %d", shard))
	}

	start := time.Now()
	for shard := 0; shard < cfg.Shards; shard++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					record(shard, errors.Newf("panic: %v", r))
				}
			}()
			if err := fn(ctx, cfg, shard); err != nil {
				record(shard, err)
			}
		})
		if err != nil {
			wg.Done()
			record(shard, errors.Wrap(err, "submitting"))
		}
	}
	wg.Wait()

	if errs != nil {
		log.Error().Err(errs).Str("workload", name).Int("failed", failed).Msg("stress run failed")
		return errors.Wrapf(errs, "%s: %d of %d shards failed", name, failed, cfg.Shards)
	}
	log.Info().Str("workload", name).Int("shards", cfg.Shards).
		Dur("elapsed", time.Since(start)).Msg("stress run passed")
	return nil
}

func stringHasher(name string) hashfn.Hasher[string] {
	switch name {
	case "xxh3":
		return hashfn.String()
	case "murmur3":
		return hashfn.Murmur3String()
	case "xxhash":
		bytes := hashfn.Bytes()
		return func(s string) uint64 {
			return bytes(unsafe.Slice(unsafe.StringData(s), len(s)))
		}
	default:
		return hashfn.Default[string]()
	}
}

// mapShard applies cfg.Ops random operations to a swiss map and a builtin
// map and fails on the first disagreement.
func mapShard(ctx context.Context, cfg config, shard int) error {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(shard)))
	var opts []memory.HeapOption
	if cfg.HeapLimit > 0 {
		opts = append(opts, memory.WithLimit(cfg.HeapLimit))
	}
	alloc := memory.NewHeapAllocator(opts...)
	logger := log.Logger.With().Int("shard", shard).Logger()

	m, err := swiss.New[string, int](alloc, 0,
		swiss.WithHash[string, int](stringHasher(cfg.Hash)),
		swiss.WithLogger[string, int](logger))
	if err != nil {
		return err
	}
	defer m.Close()

	keys := make([]string, cfg.KeySpace)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d-%d", shard, i)
	}
	oracle := make(map[string]int)
	var ooms int

	for i := 0; i < cfg.Ops; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k := keys[rng.Intn(len(keys))]
		switch op := rng.Intn(100); {
		case op < 50:
			if err := m.TryPut(k, i); err != nil {
				if !errors.Is(err, memory.ErrOutOfMemory) {
					return err
				}
				ooms++
				continue
			}
			oracle[k] = i
		case op < 75:
			_, want := oracle[k]
			if got := m.Delete(k); got != want {
				return errors.Newf("op %d: Delete(%q) = %t, want %t", i, k, got, want)
			}
			delete(oracle, k)
		case op < 99:
			want, wantOK := oracle[k]
			if got, ok := m.Get(k); ok != wantOK || got != want {
				return errors.Newf("op %d: Get(%q) = (%d, %t), want (%d, %t)", i, k, got, ok, want, wantOK)
			}
		default:
			n := max(2*m.Len(), m.Cap()/2)
			if err := m.Rehash(n); err != nil {
				if !errors.Is(err, memory.ErrOutOfMemory) {
					return err
				}
				ooms++
			}
		}
	}

	if m.Len() != len(oracle) {
		return errors.Newf("Len() = %d, want %d", m.Len(), len(oracle))
	}
	seen := 0
	for k, v := range m.All {
		if want, ok := oracle[k]; !ok || want != v {
			return errors.Newf("iteration yielded (%q, %d), want (%d, %t)", k, v, want, ok)
		}
		seen++
	}
	if seen != len(oracle) {
		return errors.Newf("iteration yielded %d entries, want %d", seen, len(oracle))
	}

	s := m.Stats()
	m.Close()
	if n := alloc.BytesAllocated(); n != 0 {
		return errors.Newf("%d bytes still allocated after Close", n)
	}
	logger.Debug().Int("size", s.Size).Int("capacity", s.Capacity).
		Int("tombstones", s.Tombstones).Int("ooms", ooms).
		Int("allocations", alloc.AllocationCount()).Msg("map shard done")
	return nil
}

// fiberShard runs cfg.Fibers fibers round-robin. Each fiber keeps a map in
// an arena carved from its own stack buffer and yields cfg.Yields times.
func fiberShard(ctx context.Context, cfg config, shard int) error {
	fibers := make([]*fiber.Fiber, cfg.Fibers)
	steps := make([]int, cfg.Fibers)
	errs := make([]error, cfg.Fibers)
	defer func() {
		for _, f := range fibers {
			if f != nil {
				f.Release()
			}
		}
	}()

	for i := range fibers {
		fibers[i] = fiber.New(make([]byte, cfg.StackSize), func(f *fiber.Fiber) {
			errs[i] = fiberTask(f, cfg.Yields, &steps[i])
		})
	}

	resumes := 0
	for live := len(fibers); live > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		live = 0
		for i, f := range fibers {
			if f.Done() {
				continue
			}
			f.Resume()
			resumes++
			if !f.Done() {
				live++
			}
			if errs[i] != nil {
				return errors.Wrapf(errs[i], "fiber %d", i)
			}
		}
	}

	for i, n := range steps {
		if n != cfg.Yields+1 {
			return errors.Newf("fiber %d ran %d steps, want %d", i, n, cfg.Yields+1)
		}
	}
	if want := cfg.Fibers * (cfg.Yields + 1); resumes != want {
		return errors.Newf("%d resumes, want %d", resumes, want)
	}
	log.Debug().Int("shard", shard).Int("fibers", cfg.Fibers).Int("resumes", resumes).Msg("fiber shard done")
	return nil
}

func fiberTask(f *fiber.Fiber, yields int, steps *int) error {
	scratch := f.Scratch()
	buf, err := scratch.TryAllocate(f.Context().StackSize()/2, 16)
	if err != nil {
		return err
	}
	defer scratch.Deallocate(buf, 16)

	arena := memory.NewLinearAllocatorOver(buf)
	m, err := swiss.New[uint64, uint64](arena, 0, swiss.WithHash[uint64, uint64](hashfn.Uint64()))
	if err != nil {
		return err
	}
	defer m.Close()

	for j := 0; ; j++ {
		*steps++
		if err := m.TryPut(uint64(j%fiberKeys), uint64(j)); err != nil {
			return err
		}
		if j == yields {
			break
		}
		f.Yield()
	}

	// Each key holds the last step that wrote it.
	for k := uint64(0); k < fiberKeys && int(k) <= yields; k++ {
		v, ok := m.Get(k)
		last := uint64(yields) - (uint64(yields)-k)%fiberKeys
		if !ok || v != last {
			return errors.Newf("key %d = (%d, %t), want %d", k, v, ok, last)
		}
	}
	return nil
}
