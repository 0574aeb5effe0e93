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

package swiss

// Stats summarizes the occupancy of a Map.
type Stats struct {
	Size       int
	Capacity   int
	Tombstones int
	// TombstonesCapacityRatio is Tombstones/Capacity.
	TombstonesCapacityRatio float32
	// TombstonesSizeRatio is Tombstones/Size.
	TombstonesSizeRatio float32
	// StorageBytes is the size of the block obtained from the allocator.
	StorageBytes int
}

// Stats returns occupancy statistics for the map.
func (m *Map[K, V]) Stats() Stats {
	s := Stats{
		Size:         m.used,
		Capacity:     int(m.capacity),
		Tombstones:   m.tombstones,
		StorageBytes: len(m.block),
	}
	if s.Capacity > 0 {
		s.TombstonesCapacityRatio = float32(s.Tombstones) / float32(s.Capacity)
	}
	if s.Size > 0 {
		s.TombstonesSizeRatio = float32(s.Tombstones) / float32(s.Size)
	}
	return s
}
