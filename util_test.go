// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import "sync/atomic"

// GetNumDecodeGoroutines returns the number of worker/assembler goroutines
// currently running across every live Scheduler in this process.
func GetNumDecodeGoroutines() int64 {
	return atomic.LoadInt64(&numDecodeGoroutines)
}
