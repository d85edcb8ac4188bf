// Package sys provides the host information the loader's thread-sizing and
// disk-spill decisions depend on: CPU count, free RAM, and free disk space.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"os"
	"runtime"

	"github.com/NVIDIA/shardload/cmn/nlog"
)

const maxProcsEnvVar = "GOMAXPROCS"

// NumCPU backs the `threads` default: 0 means 2x hardware concurrency,
// negative means hardware concurrency minus abs(value).
func NumCPU() int { return runtime.NumCPU() }

// SetMaxProcs sets GOMAXPROCS = NumCPU unless already overridden via the Go
// runtime environment, so a loader sharing a box with other processes
// doesn't oversubscribe by default.
func SetMaxProcs() {
	if val, exists := os.LookupEnv(maxProcsEnvVar); exists {
		nlog.Warningf("GOMAXPROCS is set via Go environment %q: %q", maxProcsEnvVar, val)
		return
	}
	maxprocs := runtime.GOMAXPROCS(0)
	ncpu := NumCPU()
	if maxprocs > ncpu {
		nlog.Warningf("reducing GOMAXPROCS (%d) to %d (num CPUs)", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}
