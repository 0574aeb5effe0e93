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

package fiber

import "testing"

func BenchmarkResumeYield(b *testing.B) {
	f := New(make([]byte, 4096), func(f *Fiber) {
		for {
			f.Yield()
		}
	})
	defer f.Release()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Resume()
	}
}

func BenchmarkNewRelease(b *testing.B) {
	stack := make([]byte, 4096)
	for i := 0; i < b.N; i++ {
		f := New(stack, func(*Fiber) {})
		f.Resume()
		f.Release()
	}
}
