// Package mono provides a monotonic clock reading used for the logger's
// flush cadence.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds since process start, monotonic within a run.
func NanoTime() int64 { return int64(time.Since(start)) }
