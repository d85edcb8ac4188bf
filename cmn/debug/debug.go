// Package debug provides cheap invariant checks used across the pipeline
// stages. All of them are no-ops unless Enabled is set; they document invariants that the
// surrounding code already depends on (lock ownership, non-nil batches) and
// give a loud panic instead of a silent corruption when one is ever broken
// during development.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"
)

// Enabled toggles the panic behavior below; it is off by default, and
// callers that want the assertions to actually fire set it to true.
var Enabled = false

func Assert(cond bool, args ...any) {
	if Enabled && !cond {
		panic(args)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// AssertMutexLocked is best-effort: sync.Mutex exposes no "is locked" query,
// so this only documents the call site's requirement.
func AssertMutexLocked(_ *sync.Mutex) {}
