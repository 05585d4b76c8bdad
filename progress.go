// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import "time"

// Progress reports one correctly-ordered chunk having been emitted,
// mirroring the teacher's per-block Progress report but at chunk rather
// than bzip2-block granularity.
type Progress struct {
	Duration           time.Duration
	ChunkIndex         uint64
	CompressedBytes    int
	UncompressedBytes  int
}
